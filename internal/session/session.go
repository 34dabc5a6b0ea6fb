package session

import (
	"encoding/json"
	"time"
)

// EventKind 合成事件类型
type EventKind string

const (
	EventInputBurst EventKind = "INPUT_BURST"
	EventScroll     EventKind = "SCROLL"
	EventIdleGap    EventKind = "IDLE_GAP"
	EventPause      EventKind = "PAUSE"
	EventResume     EventKind = "RESUME"
)

// IsValid 检查事件类型是否有效
func (k EventKind) IsValid() bool {
	switch k {
	case EventInputBurst, EventScroll, EventIdleGap, EventPause, EventResume:
		return true
	default:
		return false
	}
}

// Phase 会话阶段
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhasePaused
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseActive:
		return "ACTIVE"
	case PhasePaused:
		return "PAUSED"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Event 单个合成事件，创建后不可修改
type Event struct {
	ID        string        `json:"id"`
	Kind      EventKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Session 一段连续的模拟使用期
type Session struct {
	ID        string     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Phase     Phase      `json:"phase"`
	Events    []*Event   `json:"events"`
}

// Duration 会话时长，未结束时返回0
func (s *Session) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LastEventTime 最后一个事件的时间戳，无事件时返回开始时间
func (s *Session) LastEventTime() time.Time {
	if len(s.Events) == 0 {
		return s.StartTime
	}
	return s.Events[len(s.Events)-1].Timestamp
}

// ExportJSON 导出为JSON格式，供外部持久化组件写盘
func (s *Session) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ImportJSON 从JSON恢复会话记录，供回放使用
func ImportJSON(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
