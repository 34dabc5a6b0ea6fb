package sim_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balwinderxcode-ai/activity-tracker/internal/analytics"
	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
	"github.com/balwinderxcode-ai/activity-tracker/internal/engine"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
	"github.com/balwinderxcode-ai/activity-tracker/pkg/realism"
)

// e2eConfig 四小时快进模拟，带随机小休与走神
func e2eConfig() *config.SimulationConfig {
	seed := int64(2026)
	cfg := config.MinimalConfig()
	cfg.Distribution = config.DistLogNormal
	cfg.RandomSeed = &seed
	cfg.RunDuration = 4 * time.Hour
	return cfg
}

// TestFullSimulationPipeline 端到端：模拟 -> 校验 -> 导出 -> 回放 -> 比对
func TestFullSimulationPipeline(t *testing.T) {
	t.Log("🎬 端到端模拟流水线...")

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	run, err := engine.Start(e2eConfig(), engine.WithStartTime(start))
	require.NoError(t, err)

	summary, err := run.Wait()
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, run.Status())
	require.Positive(t, summary.SessionCount)
	require.Positive(t, summary.TotalEvents)

	t.Logf("   📊 %d 个会话, %d 个事件", summary.SessionCount, summary.TotalEvents)

	sessions := run.Sessions()
	require.Len(t, sessions, summary.SessionCount)

	// 每个会话都通过不变量校验
	t.Log("🔍 校验会话不变量...")
	verifier := session.NewVerifier()
	for _, sess := range sessions {
		result := verifier.Verify(sess)
		require.True(t, result.Valid, "session %s: %v", sess.ID, result.Violations)
	}

	// 导出 -> 导入 -> 回放重建统计，结果与在线聚合一致
	t.Log("💾 回放重建统计...")
	for i, sess := range sessions {
		data, err := sess.ExportJSON()
		require.NoError(t, err)
		restored, err := session.ImportJSON(data)
		require.NoError(t, err)

		agg := analytics.NewAggregator("replay")
		require.NoError(t, agg.Open(restored.ID, restored.StartTime))
		replayer := session.NewReplayer(restored, &session.ReplayConfig{Speed: session.SpeedInstant})
		replayer.AddCallback(func(ev *session.ReplayEvent) error {
			return agg.Record(restored.ID, ev.OriginalEvent)
		})
		require.NoError(t, replayer.Play())
		replayer.Wait()

		rebuilt, err := agg.Finalize(restored.ID, *restored.EndTime)
		require.NoError(t, err)

		original := summary.Sessions[i]
		assert.Equal(t, original.EventCounts, rebuilt.EventCounts, "session %s", restored.ID)
		assert.Equal(t, original.TotalEvents, rebuilt.TotalEvents)
		assert.Equal(t, original.ActiveTime, rebuilt.ActiveTime)
		assert.Equal(t, original.IdleTime, rebuilt.IdleTime)
		assert.Equal(t, original.PausedTime, rebuilt.PausedTime)
		assert.Equal(t, original.Duration, rebuilt.Duration)
	}

	// 真实度报告
	report := realism.Analyze(summary)
	assert.NotEmpty(t, report.Grade)
	t.Logf("   🏅 真实度评分 %.1f (%s)", report.Score, report.Grade)
}

// TestConcurrentRuns 多个运行并行互不干扰，固定种子仍可复现
func TestConcurrentRuns(t *testing.T) {
	t.Log("⚡ 测试并行运行...")

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 4)

	for i := 0; i < 4; i++ {
		go func() {
			run, err := engine.Start(e2eConfig(),
				engine.WithRunID("run_parallel"), engine.WithStartTime(start))
			if err != nil {
				results <- result{nil, err}
				return
			}
			summary, err := run.Wait()
			if err != nil {
				results <- result{nil, err}
				return
			}
			data, err := summary.ExportJSON()
			results <- result{data, err}
		}()
	}

	var first []byte
	for i := 0; i < 4; i++ {
		r := <-results
		require.NoError(t, r.err)
		if first == nil {
			first = r.data
			continue
		}
		assert.Equal(t, string(first), string(r.data), "parallel run diverged")
	}
}

// TestSummaryAccountingInvariants 汇总的跨字段恒等式
func TestSummaryAccountingInvariants(t *testing.T) {
	run, err := engine.Start(e2eConfig())
	require.NoError(t, err)
	summary, err := run.Wait()
	require.NoError(t, err)

	// 事件总数等于各类型计数之和
	var total int64
	for _, n := range summary.EventCounts {
		total += n
	}
	assert.Equal(t, summary.TotalEvents, total)

	// 会话级统计之和等于运行级统计
	var sessTotal int64
	var active, idle, paused, length time.Duration
	for _, s := range summary.Sessions {
		sessTotal += s.TotalEvents
		active += s.ActiveTime
		idle += s.IdleTime
		paused += s.PausedTime
		length += s.Duration
	}
	assert.Equal(t, summary.TotalEvents, sessTotal)
	assert.Equal(t, summary.TotalActiveTime, active)
	assert.Equal(t, summary.TotalIdleTime, idle)
	assert.Equal(t, summary.TotalPausedTime, paused)
	assert.Equal(t, summary.TotalSessionTime, length)

	// RESUME不会多于PAUSE
	assert.LessOrEqual(t,
		summary.EventCounts[session.EventResume],
		summary.EventCounts[session.EventPause])
}
