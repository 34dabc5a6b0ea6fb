package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

// TestLifecycleHappyPath IDLE -> ACTIVE -> PAUSED -> ACTIVE -> ENDED
func TestLifecycleHappyPath(t *testing.T) {
	t.Log("🎬 测试会话完整生命周期...")

	sm := NewStateMachine(t0)
	require.Equal(t, PhaseIdle, sm.Phase())
	require.Nil(t, sm.Current())

	sess, err := sm.Activate("sess_1", at(0))
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, sm.Phase())
	assert.Equal(t, "sess_1", sess.ID)
	assert.Equal(t, at(0), sess.StartTime)

	pauseEv, err := sm.PauseSession(at(time.Minute), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, PhasePaused, sm.Phase())
	assert.Equal(t, EventPause, pauseEv.Kind)
	assert.Equal(t, 30*time.Second, pauseEv.Duration)

	resumeEv, err := sm.ResumeSession(at(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, sm.Phase())
	assert.Equal(t, EventResume, resumeEv.Kind)

	finished, err := sm.End(at(5 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, PhaseEnded, sm.Phase())
	assert.Nil(t, sm.Current())
	require.NotNil(t, finished.EndTime)
	assert.Equal(t, at(5*time.Minute), *finished.EndTime)
	assert.Equal(t, 5*time.Minute, finished.Duration())

	// 转移事件留在会话序列里
	assert.Len(t, finished.Events, 2)
}

// TestIllegalTransitions 转移表之外的所有转移都必须失败
func TestIllegalTransitions(t *testing.T) {
	t.Log("🚫 测试非法阶段转移...")

	// IDLE不能暂停、恢复或结束
	sm := NewStateMachine(t0)
	_, err := sm.PauseSession(at(0), time.Second)
	assertViolation(t, err)
	_, err = sm.ResumeSession(at(0))
	assertViolation(t, err)
	_, err = sm.End(at(0))
	assertViolation(t, err)

	// ACTIVE不能重复激活，也不能恢复
	_, err = sm.Activate("s1", at(0))
	require.NoError(t, err)
	_, err = sm.Activate("s2", at(time.Second))
	assertViolation(t, err)
	_, err = sm.ResumeSession(at(time.Second))
	assertViolation(t, err)

	// PAUSED不能重复暂停
	_, err = sm.PauseSession(at(2*time.Second), time.Second)
	require.NoError(t, err)
	_, err = sm.PauseSession(at(3*time.Second), time.Second)
	assertViolation(t, err)
}

// TestEndedIsTerminal ENDED之后任何转移都是契约违反，直到显式复位
func TestEndedIsTerminal(t *testing.T) {
	sm := NewStateMachine(t0)
	_, err := sm.Activate("s1", at(0))
	require.NoError(t, err)
	_, err = sm.End(at(time.Minute))
	require.NoError(t, err)

	_, err = sm.Activate("s2", at(2*time.Minute))
	assertViolation(t, err)
	_, err = sm.PauseSession(at(2*time.Minute), time.Second)
	assertViolation(t, err)
	_, err = sm.ResumeSession(at(2 * time.Minute))
	assertViolation(t, err)
	_, err = sm.End(at(2 * time.Minute))
	assertViolation(t, err)

	// 复位后可以开启下一个会话
	require.NoError(t, sm.Reset(at(2*time.Minute)))
	assert.Equal(t, PhaseIdle, sm.Phase())
	_, err = sm.Activate("s2", at(3*time.Minute))
	require.NoError(t, err)
}

// TestResetOnlyFromEnded 复位只允许从ENDED发起
func TestResetOnlyFromEnded(t *testing.T) {
	sm := NewStateMachine(t0)
	assertViolation(t, sm.Reset(at(0)))

	_, err := sm.Activate("s1", at(0))
	require.NoError(t, err)
	assertViolation(t, sm.Reset(at(time.Second)))
}

// TestAppendMonotonicTimestamps 事件时间戳必须单调不减
func TestAppendMonotonicTimestamps(t *testing.T) {
	t.Log("⏱️  测试事件时间戳单调性...")

	sm := NewStateMachine(t0)
	_, err := sm.Activate("s1", at(0))
	require.NoError(t, err)

	require.NoError(t, sm.Append(&Event{ID: "e1", Kind: EventInputBurst, Timestamp: at(time.Second)}))
	// 相同时间戳允许
	require.NoError(t, sm.Append(&Event{ID: "e2", Kind: EventScroll, Timestamp: at(time.Second)}))
	// 回退时间戳拒绝
	assertViolation(t, sm.Append(&Event{ID: "e3", Kind: EventScroll, Timestamp: at(500 * time.Millisecond)}))

	// 没有活跃会话时不能追加
	_, err = sm.End(at(2 * time.Second))
	require.NoError(t, err)
	assertViolation(t, sm.Append(&Event{ID: "e4", Kind: EventScroll, Timestamp: at(3 * time.Second)}))
}

// TestEndClampsToStart 结束时刻早于开始时刻时压到开始时刻
func TestEndClampsToStart(t *testing.T) {
	sm := NewStateMachine(t0)
	_, err := sm.Activate("s1", at(time.Minute))
	require.NoError(t, err)

	finished, err := sm.End(at(30 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, finished.StartTime, *finished.EndTime)
	assert.Equal(t, time.Duration(0), finished.Duration())
}

func assertViolation(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var violation *ContractViolationError
	assert.True(t, errors.As(err, &violation), "expected ContractViolationError, got %T: %v", err, err)
}
