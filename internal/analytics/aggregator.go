package analytics

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
)

// SessionSummary 单个会话的汇总统计，随事件增量更新，会话结束时定稿
type SessionSummary struct {
	SessionID   string                      `json:"session_id"`
	StartTime   time.Time                   `json:"start_time"`
	EndTime     *time.Time                  `json:"end_time,omitempty"`
	Duration    time.Duration               `json:"duration"`
	EventCounts map[session.EventKind]int64 `json:"event_counts"`
	TotalEvents int64                       `json:"total_events"`
	ActiveTime  time.Duration               `json:"active_time"`
	IdleTime    time.Duration               `json:"idle_time"`
	PausedTime  time.Duration               `json:"paused_time"`
}

// clone 汇总的独立副本
func (s *SessionSummary) clone() *SessionSummary {
	c := *s
	c.EventCounts = make(map[session.EventKind]int64, len(s.EventCounts))
	for k, v := range s.EventCounts {
		c.EventCounts[k] = v
	}
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// RunSummary 整次运行的跨会话汇总
type RunSummary struct {
	RunID                string                      `json:"run_id"`
	SessionCount         int                         `json:"session_count"`
	EventCounts          map[session.EventKind]int64 `json:"event_counts"`
	TotalEvents          int64                       `json:"total_events"`
	TotalActiveTime      time.Duration               `json:"total_active_time"`
	TotalIdleTime        time.Duration               `json:"total_idle_time"`
	TotalPausedTime      time.Duration               `json:"total_paused_time"`
	TotalSessionTime     time.Duration               `json:"total_session_time"`
	AverageSessionLength time.Duration               `json:"average_session_length"`
	Sessions             []*SessionSummary           `json:"sessions"`
}

// ExportJSON 导出为JSON格式
func (r *RunSummary) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Aggregator 分析聚合器，消费事件流并维护每会话的运行统计。
// 每次模拟运行独占一个实例；RunSummary可与运行并发调用，返回只读快照。
type Aggregator struct {
	runID string

	mu        sync.RWMutex
	sessions  map[string]*SessionSummary
	order     []string
	finalized map[string]bool
}

// NewAggregator 创建聚合器
func NewAggregator(runID string) *Aggregator {
	return &Aggregator{
		runID:     runID,
		sessions:  make(map[string]*SessionSummary),
		finalized: make(map[string]bool),
	}
}

// Open 开始统计一个新会话，重复开启属于契约违反
func (a *Aggregator) Open(sessionID string, start time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.sessions[sessionID]; exists {
		return &session.ContractViolationError{
			Op:     "analytics.Open",
			Reason: fmt.Sprintf("session %s already opened", sessionID),
		}
	}
	a.sessions[sessionID] = &SessionSummary{
		SessionID:   sessionID,
		StartTime:   start,
		EventCounts: make(map[session.EventKind]int64),
	}
	a.order = append(a.order, sessionID)
	return nil
}

// Record 记录一个事件。计数按类型累加，时长按类型归入活跃/空闲/小休。
// 计数与时长都是加法，与事件到达顺序无关。
func (a *Aggregator) Record(sessionID string, ev *session.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized[sessionID] {
		return &session.ContractViolationError{
			Op:     "analytics.Record",
			Reason: fmt.Sprintf("session %s already finalized", sessionID),
		}
	}
	sum, exists := a.sessions[sessionID]
	if !exists {
		return &session.ContractViolationError{
			Op:     "analytics.Record",
			Reason: fmt.Sprintf("session %s not opened", sessionID),
		}
	}

	sum.EventCounts[ev.Kind]++
	sum.TotalEvents++

	switch ev.Kind {
	case session.EventInputBurst, session.EventScroll:
		sum.ActiveTime += ev.Duration
	case session.EventIdleGap:
		sum.IdleTime += ev.Duration
	case session.EventPause:
		sum.PausedTime += ev.Duration
	}
	return nil
}

// Finalize 定稿会话统计，每个会话只允许调用一次，二次调用报告契约违反
func (a *Aggregator) Finalize(sessionID string, end time.Time) (*SessionSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized[sessionID] {
		return nil, &session.ContractViolationError{
			Op:     "analytics.Finalize",
			Reason: fmt.Sprintf("session %s finalized twice", sessionID),
		}
	}
	sum, exists := a.sessions[sessionID]
	if !exists {
		return nil, &session.ContractViolationError{
			Op:     "analytics.Finalize",
			Reason: fmt.Sprintf("session %s not opened", sessionID),
		}
	}

	if end.Before(sum.StartTime) {
		end = sum.StartTime
	}
	sum.EndTime = &end
	sum.Duration = end.Sub(sum.StartTime)
	a.finalized[sessionID] = true
	return sum.clone(), nil
}

// RunSummary 跨会话汇总快照，只统计已定稿的会话，运行中调用得到部分视图
func (a *Aggregator) RunSummary() *RunSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	run := &RunSummary{
		RunID:       a.runID,
		EventCounts: make(map[session.EventKind]int64),
		Sessions:    make([]*SessionSummary, 0, len(a.order)),
	}

	for _, id := range a.order {
		if !a.finalized[id] {
			continue
		}
		sum := a.sessions[id]
		run.SessionCount++
		run.TotalEvents += sum.TotalEvents
		run.TotalActiveTime += sum.ActiveTime
		run.TotalIdleTime += sum.IdleTime
		run.TotalPausedTime += sum.PausedTime
		run.TotalSessionTime += sum.Duration
		for kind, count := range sum.EventCounts {
			run.EventCounts[kind] += count
		}
		run.Sessions = append(run.Sessions, sum.clone())
	}

	if run.SessionCount > 0 {
		run.AverageSessionLength = run.TotalSessionTime / time.Duration(run.SessionCount)
	}
	return run
}
