package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordedSession() *Session {
	return endedSession(
		&Event{ID: "e1", Kind: EventInputBurst, Timestamp: at(time.Second), Duration: 500 * time.Millisecond},
		&Event{ID: "e2", Kind: EventScroll, Timestamp: at(3 * time.Second), Duration: time.Second},
		&Event{ID: "e3", Kind: EventIdleGap, Timestamp: at(10 * time.Second), Duration: 5 * time.Second},
		&Event{ID: "e4", Kind: EventInputBurst, Timestamp: at(20 * time.Second), Duration: time.Second},
	)
}

// TestInstantReplay 瞬时回放按原始顺序重放全部事件
func TestInstantReplay(t *testing.T) {
	t.Log("🎬 测试瞬时回放...")

	sess := recordedSession()
	replayer := NewReplayer(sess, &ReplayConfig{Speed: SpeedInstant})

	var replayed []string
	var delays []time.Duration
	replayer.AddCallback(func(ev *ReplayEvent) error {
		replayed = append(replayed, ev.OriginalEvent.ID)
		delays = append(delays, ev.Delay)
		return nil
	})

	require.NoError(t, replayer.Play())
	replayer.Wait()

	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, replayed)
	// 回放间隔来自原始时间戳差
	assert.Equal(t, time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])

	stats := replayer.GetStats()
	assert.Equal(t, 4, stats.TotalEvents)
	assert.Equal(t, 4, stats.ReplayedEvents)
	assert.Zero(t, stats.SkippedEvents)
	assert.Zero(t, stats.ErrorEvents)
	assert.False(t, replayer.IsPlaying())
}

// TestReplayKindFilter 类型过滤器只放行指定事件
func TestReplayKindFilter(t *testing.T) {
	sess := recordedSession()
	replayer := NewReplayer(sess, &ReplayConfig{
		Speed:      SpeedInstant,
		KindFilter: []EventKind{EventInputBurst},
	})

	var replayed []string
	replayer.AddCallback(func(ev *ReplayEvent) error {
		replayed = append(replayed, ev.OriginalEvent.ID)
		return nil
	})

	require.NoError(t, replayer.Play())
	replayer.Wait()

	assert.Equal(t, []string{"e1", "e4"}, replayed)
	stats := replayer.GetStats()
	assert.Equal(t, 2, stats.ReplayedEvents)
	assert.Equal(t, 2, stats.SkippedEvents)
}

// TestReplayPauseOnError 回调出错且PauseOnError时立即停止
func TestReplayPauseOnError(t *testing.T) {
	sess := recordedSession()
	replayer := NewReplayer(sess, &ReplayConfig{Speed: SpeedInstant, PauseOnError: true})

	calls := 0
	replayer.AddCallback(func(ev *ReplayEvent) error {
		calls++
		if ev.OriginalEvent.ID == "e2" {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, replayer.Play())
	replayer.Wait()

	assert.Equal(t, 2, calls)
	stats := replayer.GetStats()
	assert.Equal(t, 1, stats.ReplayedEvents)
	assert.Equal(t, 1, stats.ErrorEvents)
}

// TestReplayDoublePlay 回放中不允许再次Play
func TestReplayDoublePlay(t *testing.T) {
	sess := recordedSession()
	// 慢速回放保证第一次Play还没结束
	replayer := NewReplayer(sess, &ReplayConfig{Speed: SpeedSlow})
	require.NoError(t, replayer.Play())
	defer func() {
		replayer.Stop()
		replayer.Wait()
	}()

	assert.Error(t, replayer.Play())
}

// TestReplayRoundTrip 导出再导入的会话可以完整回放
func TestReplayRoundTrip(t *testing.T) {
	t.Log("💾 测试导出导入后回放...")

	data, err := recordedSession().ExportJSON()
	require.NoError(t, err)

	restored, err := ImportJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "sess_verify", restored.ID)
	require.Len(t, restored.Events, 4)

	replayer := NewReplayer(restored, nil)
	count := 0
	replayer.AddCallback(func(ev *ReplayEvent) error {
		count++
		return nil
	})
	require.NoError(t, replayer.Play())
	replayer.Wait()
	assert.Equal(t, 4, count)

	// 恢复的会话仍通过不变量校验
	result := NewVerifier().Verify(restored)
	assert.True(t, result.Valid, "violations: %v", result.Violations)
}
