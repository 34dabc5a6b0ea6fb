package session

import (
	"fmt"
	"time"
)

// Violation 一条不变量违规记录
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// VerifyResult 校验结果
type VerifyResult struct {
	SessionID  string      `json:"session_id"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Verifier 会话不变量校验器，用于回放与测试时检查记录的完整性
type Verifier struct {
	violations []Violation
}

// NewVerifier 创建校验器
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify 检查一段已定稿会话的全部不变量
func (v *Verifier) Verify(sess *Session) *VerifyResult {
	v.violations = nil

	v.checkTimestamps(sess)
	v.checkLifecycle(sess)
	v.checkKinds(sess)
	v.checkPausePairing(sess)

	return &VerifyResult{
		SessionID:  sess.ID,
		Valid:      len(v.violations) == 0,
		Violations: v.violations,
	}
}

// fail 记录一条违规
func (v *Verifier) fail(rule, format string, args ...interface{}) {
	v.violations = append(v.violations, Violation{
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
	})
}

// checkTimestamps 事件时间戳必须单调不减，且落在会话区间内
func (v *Verifier) checkTimestamps(sess *Session) {
	prev := sess.StartTime
	for i, ev := range sess.Events {
		if ev.Timestamp.Before(prev) {
			v.fail("monotonic_timestamps", "event %d (%s) at %s before %s",
				i, ev.ID, ev.Timestamp.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano))
		}
		if ev.Timestamp.Before(sess.StartTime) {
			v.fail("event_in_session", "event %d (%s) before session start", i, ev.ID)
		}
		if sess.EndTime != nil && ev.Timestamp.After(*sess.EndTime) {
			v.fail("event_in_session", "event %d (%s) after session end", i, ev.ID)
		}
		if ev.Timestamp.After(prev) {
			prev = ev.Timestamp
		}
	}
}

// checkLifecycle 已结束的会话必须有不早于开始时间的结束时间
func (v *Verifier) checkLifecycle(sess *Session) {
	if sess.Phase == PhaseEnded {
		if sess.EndTime == nil {
			v.fail("lifecycle", "ended session has no end time")
			return
		}
		if sess.EndTime.Before(sess.StartTime) {
			v.fail("lifecycle", "end time %s before start time %s",
				sess.EndTime.Format(time.RFC3339Nano), sess.StartTime.Format(time.RFC3339Nano))
		}
		return
	}
	if sess.EndTime != nil {
		v.fail("lifecycle", "session in phase %s has an end time", sess.Phase)
	}
}

// checkKinds 事件类型必须属于已知集合
func (v *Verifier) checkKinds(sess *Session) {
	for i, ev := range sess.Events {
		if !ev.Kind.IsValid() {
			v.fail("known_kinds", "event %d (%s) has unknown kind %q", i, ev.ID, ev.Kind)
		}
	}
}

// checkPausePairing PAUSE与RESUME必须交替出现，PAUSE在前
func (v *Verifier) checkPausePairing(sess *Session) {
	paused := false
	for i, ev := range sess.Events {
		switch ev.Kind {
		case EventPause:
			if paused {
				v.fail("pause_pairing", "event %d: PAUSE while already paused", i)
			}
			paused = true
		case EventResume:
			if !paused {
				v.fail("pause_pairing", "event %d: RESUME without matching PAUSE", i)
			}
			paused = false
		default:
			if paused && ev.Kind != EventIdleGap {
				v.fail("pause_pairing", "event %d: %s emitted while paused", i, ev.Kind)
			}
		}
	}
}
