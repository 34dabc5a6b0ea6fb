package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// endedSession 构造一段已定稿的合法会话
func endedSession(events ...*Event) *Session {
	end := t0.Add(10 * time.Minute)
	return &Session{
		ID:        "sess_verify",
		StartTime: t0,
		EndTime:   &end,
		Phase:     PhaseEnded,
		Events:    events,
	}
}

// TestVerifyValidSession 合法会话通过所有不变量检查
func TestVerifyValidSession(t *testing.T) {
	t.Log("🔍 测试合法会话校验...")

	sess := endedSession(
		&Event{ID: "e1", Kind: EventInputBurst, Timestamp: at(time.Second)},
		&Event{ID: "e2", Kind: EventScroll, Timestamp: at(2 * time.Second)},
		&Event{ID: "e3", Kind: EventPause, Timestamp: at(time.Minute)},
		&Event{ID: "e4", Kind: EventIdleGap, Timestamp: at(90 * time.Second)},
		&Event{ID: "e5", Kind: EventResume, Timestamp: at(2 * time.Minute)},
		&Event{ID: "e6", Kind: EventInputBurst, Timestamp: at(3 * time.Minute)},
	)

	result := NewVerifier().Verify(sess)
	assert.True(t, result.Valid, "violations: %v", result.Violations)
	assert.Empty(t, result.Violations)
}

// TestVerifyOutOfOrderTimestamps 乱序时间戳被标记
func TestVerifyOutOfOrderTimestamps(t *testing.T) {
	sess := endedSession(
		&Event{ID: "e1", Kind: EventInputBurst, Timestamp: at(2 * time.Second)},
		&Event{ID: "e2", Kind: EventScroll, Timestamp: at(time.Second)},
	)

	result := NewVerifier().Verify(sess)
	require.False(t, result.Valid)
	assert.Equal(t, "monotonic_timestamps", result.Violations[0].Rule)
}

// TestVerifyEventOutsideSession 事件越过会话边界被标记
func TestVerifyEventOutsideSession(t *testing.T) {
	sess := endedSession(
		&Event{ID: "e1", Kind: EventInputBurst, Timestamp: at(11 * time.Minute)},
	)

	result := NewVerifier().Verify(sess)
	require.False(t, result.Valid)
	assertHasRule(t, result, "event_in_session")
}

// TestVerifyLifecycle ENDED会话必须有结束时间，未结束的不能有
func TestVerifyLifecycle(t *testing.T) {
	sess := endedSession()
	sess.EndTime = nil
	result := NewVerifier().Verify(sess)
	require.False(t, result.Valid)
	assertHasRule(t, result, "lifecycle")

	end := t0.Add(time.Minute)
	active := &Session{ID: "s", StartTime: t0, EndTime: &end, Phase: PhaseActive}
	result = NewVerifier().Verify(active)
	require.False(t, result.Valid)
	assertHasRule(t, result, "lifecycle")
}

// TestVerifyUnknownKind 未知事件类型被标记
func TestVerifyUnknownKind(t *testing.T) {
	sess := endedSession(
		&Event{ID: "e1", Kind: "TELEPORT", Timestamp: at(time.Second)},
	)

	result := NewVerifier().Verify(sess)
	require.False(t, result.Valid)
	assertHasRule(t, result, "known_kinds")
}

// TestVerifyPausePairing PAUSE/RESUME配对检查
func TestVerifyPausePairing(t *testing.T) {
	t.Log("⏸️  测试暂停配对校验...")

	// RESUME没有对应的PAUSE
	sess := endedSession(
		&Event{ID: "e1", Kind: EventResume, Timestamp: at(time.Second)},
	)
	result := NewVerifier().Verify(sess)
	require.False(t, result.Valid)
	assertHasRule(t, result, "pause_pairing")

	// 暂停期间出现输入事件
	sess = endedSession(
		&Event{ID: "e1", Kind: EventPause, Timestamp: at(time.Second)},
		&Event{ID: "e2", Kind: EventInputBurst, Timestamp: at(2 * time.Second)},
	)
	result = NewVerifier().Verify(sess)
	require.False(t, result.Valid)
	assertHasRule(t, result, "pause_pairing")

	// 会话在暂停中结束是允许的
	sess = endedSession(
		&Event{ID: "e1", Kind: EventPause, Timestamp: at(time.Second)},
	)
	result = NewVerifier().Verify(sess)
	assert.True(t, result.Valid, "violations: %v", result.Violations)
}

func assertHasRule(t *testing.T, result *VerifyResult, rule string) {
	t.Helper()
	for _, v := range result.Violations {
		if v.Rule == rule {
			return
		}
	}
	t.Fatalf("expected violation of rule %q, got %v", rule, result.Violations)
}
