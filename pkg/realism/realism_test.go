package realism

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balwinderxcode-ai/activity-tracker/internal/analytics"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
)

// naturalSummary 一份指标全部落在自然区间内的汇总
func naturalSummary() *analytics.RunSummary {
	return &analytics.RunSummary{
		RunID:        "run_natural",
		SessionCount: 4,
		EventCounts: map[session.EventKind]int64{
			session.EventInputBurst: 700,
			session.EventScroll:     300,
			session.EventIdleGap:    120,
			session.EventPause:      8,
			session.EventResume:     8,
		},
		TotalEvents:          1136,
		TotalActiveTime:      3 * time.Hour,
		TotalIdleTime:        time.Hour,
		TotalPausedTime:      30 * time.Minute,
		TotalSessionTime:     4*time.Hour + 30*time.Minute,
		AverageSessionLength: time.Hour + 7*time.Minute,
	}
}

// TestNaturalBehaviorScoresHigh 自然行为得到高分无问题项
func TestNaturalBehaviorScoresHigh(t *testing.T) {
	t.Log("📊 测试自然行为评分...")

	report := Analyze(naturalSummary())
	assert.Equal(t, "run_natural", report.RunID)
	assert.Equal(t, 100.0, report.Score)
	assert.Equal(t, "A+", report.Grade)
	assert.Empty(t, report.Issues)
	t.Logf("   ✅ 评分 %.1f (%s)", report.Score, report.Grade)
}

// TestRobotBehaviorScoresLow 没有任何空闲和休息的机器节奏被扣分
func TestRobotBehaviorScoresLow(t *testing.T) {
	t.Log("🤖 测试机器行为评分...")

	sum := &analytics.RunSummary{
		RunID:        "run_robot",
		SessionCount: 1,
		EventCounts: map[session.EventKind]int64{
			session.EventInputBurst: 100000,
		},
		TotalEvents:          100000,
		TotalActiveTime:      8 * time.Hour,
		TotalSessionTime:     8 * time.Hour,
		AverageSessionLength: 8 * time.Hour,
	}

	report := Analyze(sum)
	assert.Less(t, report.Score, 60.0)
	assert.NotEmpty(t, report.Issues)
	assert.NotEmpty(t, report.Suggestions)
	t.Logf("   📉 评分 %.1f (%s), %d 个问题", report.Score, report.Grade, len(report.Issues))
}

// TestEmptyRunScoresZero 空运行直接判0分
func TestEmptyRunScoresZero(t *testing.T) {
	report := Analyze(&analytics.RunSummary{RunID: "run_empty"})
	assert.Zero(t, report.Score)
	assert.Equal(t, "F", report.Grade)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "session_count", report.Issues[0].Metric)
	assert.Nil(t, report.Metrics)
}

// TestMetricsExtraction 指标推导
func TestMetricsExtraction(t *testing.T) {
	m := extractMetrics(naturalSummary())

	assert.InDelta(t, 0.667, m.ActiveRatio, 0.01)
	assert.InDelta(t, 0.222, m.IdleRatio, 0.01)
	assert.InDelta(t, 0.111, m.PausedRatio, 0.01)
	assert.InDelta(t, 0.3, m.ScrollShare, 0.001)
	// 1000个输入事件 / 180活跃分钟
	assert.InDelta(t, 5.56, m.EventsPerActiveMin, 0.01)
	// 8次暂停 / 4.5小时
	assert.InDelta(t, 1.78, m.PausesPerHour, 0.01)
}

// TestGradeBoundaries 评级边界
func TestGradeBoundaries(t *testing.T) {
	cases := map[float64]string{
		97: "A+", 92: "A", 86: "B+", 81: "B",
		76: "C+", 71: "C", 65: "D", 30: "F",
	}
	for score, grade := range cases {
		assert.Equal(t, grade, assignGrade(score), "score %.0f", score)
	}
}

// TestDeviationPenaltyCapped 偏离惩罚不超过权重上限
func TestDeviationPenaltyCapped(t *testing.T) {
	bm := Benchmark{Name: "active_ratio", Min: 0.35, Max: 0.85, Weight: 25}

	assert.Zero(t, deviationPenalty(0.5, bm))
	assert.Zero(t, deviationPenalty(0.35, bm))
	assert.Zero(t, deviationPenalty(0.85, bm))

	assert.Positive(t, deviationPenalty(0.1, bm))
	assert.Positive(t, deviationPenalty(0.95, bm))
	// 极端偏离封顶在权重值
	assert.Equal(t, 25.0, deviationPenalty(0.0, bm))
	assert.Equal(t, 25.0, deviationPenalty(100.0, bm))
}
