package session

import (
	"fmt"
	"time"
)

// ContractViolationError 内部契约被破坏，属于编程错误，必须立即失败
type ContractViolationError struct {
	Op     string
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation in %s: %s", e.Op, e.Reason)
}

// transitions 阶段转移表，ENDED为终态，没有出边
var transitions = map[Phase][]Phase{
	PhaseIdle:   {PhaseActive},
	PhaseActive: {PhasePaused, PhaseEnded},
	PhasePaused: {PhaseActive, PhaseEnded},
	PhaseEnded:  {},
}

// canTransition 检查阶段转移是否合法
func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// StateMachine 会话状态机，管理单个模拟运行内的会话生命周期。
// 同一时刻最多只有一个活跃会话，由调用方（模拟引擎）独占持有。
type StateMachine struct {
	phase        Phase
	phaseSince   time.Time
	current      *Session
	eventCounter int64
}

// NewStateMachine 创建状态机，初始阶段为IDLE
func NewStateMachine(now time.Time) *StateMachine {
	return &StateMachine{
		phase:      PhaseIdle,
		phaseSince: now,
	}
}

// Phase 当前阶段
func (sm *StateMachine) Phase() Phase {
	return sm.phase
}

// PhaseSince 当前阶段的开始时刻（模拟时间）
func (sm *StateMachine) PhaseSince() time.Time {
	return sm.phaseSince
}

// Current 当前会话，IDLE阶段或结束后为nil
func (sm *StateMachine) Current() *Session {
	return sm.current
}

// transition 执行阶段转移，非法转移立即失败
func (sm *StateMachine) transition(to Phase, now time.Time) error {
	if sm.phase == PhaseEnded {
		return &ContractViolationError{
			Op:     "transition",
			Reason: fmt.Sprintf("session already ended, cannot transition to %s", to),
		}
	}
	if !canTransition(sm.phase, to) {
		return &ContractViolationError{
			Op:     "transition",
			Reason: fmt.Sprintf("illegal transition %s -> %s", sm.phase, to),
		}
	}
	sm.phase = to
	sm.phaseSince = now
	return nil
}

// Activate IDLE -> ACTIVE，创建新会话
func (sm *StateMachine) Activate(sessionID string, now time.Time) (*Session, error) {
	if err := sm.transition(PhaseActive, now); err != nil {
		return nil, err
	}
	sm.current = &Session{
		ID:        sessionID,
		StartTime: now,
		Phase:     PhaseActive,
		Events:    make([]*Event, 0, 256),
	}
	return sm.current, nil
}

// PauseSession ACTIVE -> PAUSED，追加PAUSE事件，duration为计划暂停时长
func (sm *StateMachine) PauseSession(now time.Time, duration time.Duration) (*Event, error) {
	if err := sm.transition(PhasePaused, now); err != nil {
		return nil, err
	}
	ev := sm.newEvent(EventPause, now, duration)
	if err := sm.Append(ev); err != nil {
		return nil, err
	}
	sm.current.Phase = PhasePaused
	return ev, nil
}

// ResumeSession PAUSED -> ACTIVE，追加RESUME事件
func (sm *StateMachine) ResumeSession(now time.Time) (*Event, error) {
	if err := sm.transition(PhaseActive, now); err != nil {
		return nil, err
	}
	ev := sm.newEvent(EventResume, now, 0)
	if err := sm.Append(ev); err != nil {
		return nil, err
	}
	sm.current.Phase = PhaseActive
	return ev, nil
}

// End ACTIVE/PAUSED -> ENDED，回填结束时间并交出已定稿的会话。
// ENDED是终态，之后任何转移都会失败，直到调用Reset开启下一个会话。
func (sm *StateMachine) End(now time.Time) (*Session, error) {
	if err := sm.transition(PhaseEnded, now); err != nil {
		return nil, err
	}
	finished := sm.current
	end := now
	if end.Before(finished.StartTime) {
		end = finished.StartTime
	}
	finished.EndTime = &end
	finished.Phase = PhaseEnded
	sm.current = nil
	return finished, nil
}

// Reset ENDED -> IDLE，管理性复位，只能在会话定稿之后调用
func (sm *StateMachine) Reset(now time.Time) error {
	if sm.phase != PhaseEnded {
		return &ContractViolationError{
			Op:     "reset",
			Reason: fmt.Sprintf("reset from %s, only ENDED can be reset", sm.phase),
		}
	}
	sm.phase = PhaseIdle
	sm.phaseSince = now
	return nil
}

// Append 向当前会话追加事件，时间戳必须单调不减
func (sm *StateMachine) Append(ev *Event) error {
	if sm.current == nil {
		return &ContractViolationError{
			Op:     "append",
			Reason: "no active session",
		}
	}
	if ev.Timestamp.Before(sm.current.LastEventTime()) {
		return &ContractViolationError{
			Op: "append",
			Reason: fmt.Sprintf("event timestamp %s before last event %s",
				ev.Timestamp.Format(time.RFC3339Nano),
				sm.current.LastEventTime().Format(time.RFC3339Nano)),
		}
	}
	sm.current.Events = append(sm.current.Events, ev)
	return nil
}

// newEvent 构造转移事件
func (sm *StateMachine) newEvent(kind EventKind, now time.Time, duration time.Duration) *Event {
	sm.eventCounter++
	return &Event{
		ID:        fmt.Sprintf("transition_%d", sm.eventCounter),
		Kind:      kind,
		Timestamp: now,
		Duration:  duration,
	}
}
