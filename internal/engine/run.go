package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/balwinderxcode-ai/activity-tracker/internal/analytics"
	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
	"github.com/balwinderxcode-ai/activity-tracker/internal/generator"
	"github.com/balwinderxcode-ai/activity-tracker/internal/logger"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
	"github.com/balwinderxcode-ai/activity-tracker/internal/timing"
)

// RunStatus 运行状态
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// EventSink 事件回调，用于向日志流/仪表板广播模拟事件
type EventSink func(runID, sessionID string, ev *session.Event)

// Run 一次模拟运行的句柄。每个运行独占自己的状态机、生成器、
// 聚合器和随机源，互相之间没有共享可变状态，可以并行运行多个。
type Run struct {
	ID  string
	cfg *config.SimulationConfig

	clock *simClock
	sm    *session.StateMachine
	model *timing.Model
	gen   *generator.Generator
	agg   *analytics.Aggregator
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startTime time.Time
	onEvent   EventSink

	mu         sync.RWMutex
	status     RunStatus
	sessions   []*session.Session
	sessionSeq int
	finalErr   error
	final      *analytics.RunSummary
}

// Option 运行选项
type Option func(*Run)

// WithRunID 固定运行ID，配合固定种子可得到完全可复现的输出
func WithRunID(id string) Option {
	return func(r *Run) {
		r.ID = id
	}
}

// WithStartTime 固定模拟时间轴的起点
func WithStartTime(t time.Time) Option {
	return func(r *Run) {
		r.startTime = t
	}
}

// WithEventSink 注册事件回调
func WithEventSink(sink EventSink) Option {
	return func(r *Run) {
		r.onEvent = sink
	}
}

// Start 启动一次模拟运行并返回句柄。
// 配置假定已通过外部验证；这里持有独立副本，之后不再读取原对象。
// 固定RandomSeed只保证随机序列可复现；汇总输出要逐字节一致，
// 还需用WithRunID和WithStartTime固定运行ID与时间轴起点，
// 否则默认的time.Now()起点会让所有时间戳字段逐次不同。
func Start(cfg *config.SimulationConfig, opts ...Option) (*Run, error) {
	if cfg == nil {
		return nil, &config.ConfigError{Param: "config", Reason: "is nil"}
	}
	cfg = cfg.Clone()

	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ID:        uuid.NewString(),
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startTime: time.Now(),
		status:    StatusRunning,
	}
	for _, opt := range opts {
		opt(r)
	}

	var seed int64
	if cfg.RandomSeed != nil {
		seed = *cfg.RandomSeed
	} else {
		seed = time.Now().UnixNano()
	}
	r.rng = rand.New(rand.NewSource(seed))

	r.clock = newSimClock(r.startTime, cfg.Pacing)
	r.sm = session.NewStateMachine(r.startTime)
	r.model = timing.NewModel(cfg, r.rng)
	r.gen = generator.New(cfg, r.model, r.rng)
	r.agg = analytics.NewAggregator(r.ID)

	logger.LogInfo("engine", fmt.Sprintf("模拟运行启动: duration=%s pacing=%s seed=%d",
		cfg.RunDuration, cfg.Pacing.Mode, seed), &r.ID)

	go r.loop()
	return r, nil
}

// Stop 请求优雅停止。运行会在下一个事件边界收尾，
// 把进行中的会话置为ENDED并定稿统计。
func (r *Run) Stop() {
	r.cancel()
}

// Wait 阻塞到运行结束，返回整次运行的汇总
func (r *Run) Wait() (*analytics.RunSummary, error) {
	<-r.done
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.final, r.finalErr
}

// Done 运行结束通知
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Status 当前运行状态
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// CurrentSummary 当前汇总的只读快照，可与运行并发调用。
// 运行未结束时是部分视图，结束后与Wait返回的汇总一致。
func (r *Run) CurrentSummary() *analytics.RunSummary {
	return r.agg.RunSummary()
}

// Sessions 已定稿会话的原始事件序列，交给外部持久化组件写盘
func (r *Run) Sessions() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*session.Session{}, r.sessions...)
}

// loop 主循环：检查停止信号 -> 读取阶段 -> 生成事件 -> 推进时钟 -> 喂给聚合器
func (r *Run) loop() {
	defer close(r.done)

	deadline := r.startTime.Add(r.cfg.RunDuration)
	idleSince := r.startTime
	runStart := true

	var (
		sessionTarget time.Duration
		activeSince   time.Time
		resumeAt      time.Time
	)

	var loopErr error
loop:
	for {
		// 停止信号只在事件边界检查，绝不打断事件中途
		select {
		case <-r.ctx.Done():
			break loop
		default:
		}

		now := r.clock.Now()
		if !now.Before(deadline) {
			break loop
		}

		switch r.sm.Phase() {
		case session.PhaseIdle:
			canStart := r.cfg.WorkingHours == nil || r.cfg.WorkingHours.Contains(now)
			if canStart && (runStart || now.Sub(idleSince) >= r.cfg.IdleThreshold) {
				runStart = false
				target, err := r.beginSession(now)
				if err != nil {
					loopErr = err
					break loop
				}
				sessionTarget = target
				activeSince = now
				continue
			}
			runStart = false
			d, err := r.model.NextDelay(session.PhaseIdle, now)
			if err != nil {
				loopErr = err
				break loop
			}
			if d == 0 {
				// 零宽配置下保证时钟仍在前进
				d = time.Millisecond
			}
			if err := r.clock.Advance(r.ctx, d); err != nil {
				break loop
			}

		case session.PhaseActive:
			sess := r.sm.Current()
			if now.Sub(sess.StartTime) >= sessionTarget {
				if err := r.endSession(now); err != nil {
					loopErr = err
					break loop
				}
				idleSince = r.clock.Now()
				continue
			}

			// 连续活跃超限或随机小休
			forcedBreak := r.cfg.MaxContinuousActive > 0 && now.Sub(activeSince) >= r.cfg.MaxContinuousActive
			randomBreak := r.cfg.BreakProbability > 0 && r.rng.Float64() < r.cfg.BreakProbability
			if forcedBreak || randomBreak {
				pausedDur, err := r.model.NextDelay(session.PhasePaused, now)
				if err != nil {
					loopErr = err
					break loop
				}
				if pausedDur == 0 {
					// 零宽配置下保证时钟仍在前进
					pausedDur = time.Millisecond
				}
				ev, err := r.sm.PauseSession(now, pausedDur)
				if err != nil {
					loopErr = err
					break loop
				}
				if err := r.agg.Record(sess.ID, ev); err != nil {
					loopErr = err
					break loop
				}
				r.emit(sess.ID, ev)
				resumeAt = now.Add(pausedDur)
				continue
			}

			// 会话内的短暂走神
			if r.cfg.IdleProbability > 0 && r.rng.Float64() < r.cfg.IdleProbability {
				ev, err := r.gen.IdleGap(now)
				if err != nil {
					loopErr = err
					break loop
				}
				if err := r.recordEvent(sess.ID, ev); err != nil {
					loopErr = err
					break loop
				}
				if err := r.clock.Advance(r.ctx, ev.Duration); err != nil {
					break loop
				}
				continue
			}

			// 正常输入事件：事件自身占用时长，之后等待下一个活动间隔
			ev, err := r.gen.NextEvent(session.PhaseActive, now)
			if err != nil {
				loopErr = err
				break loop
			}
			if err := r.recordEvent(sess.ID, ev); err != nil {
				loopErr = err
				break loop
			}
			if err := r.clock.Advance(r.ctx, ev.Duration); err != nil {
				break loop
			}
			gap, err := r.model.NextDelay(session.PhaseActive, r.clock.Now())
			if err != nil {
				loopErr = err
				break loop
			}
			if ev.Duration == 0 && gap == 0 {
				// 零宽配置下保证时钟仍在前进
				gap = time.Millisecond
			}
			if err := r.clock.Advance(r.ctx, gap); err != nil {
				break loop
			}

		case session.PhasePaused:
			sess := r.sm.Current()
			if now.Sub(sess.StartTime) >= sessionTarget {
				if err := r.endSession(now); err != nil {
					loopErr = err
					break loop
				}
				idleSince = r.clock.Now()
				continue
			}
			if now.Before(resumeAt) {
				if err := r.clock.Advance(r.ctx, resumeAt.Sub(now)); err != nil {
					break loop
				}
				continue
			}
			ev, err := r.sm.ResumeSession(now)
			if err != nil {
				loopErr = err
				break loop
			}
			if err := r.agg.Record(sess.ID, ev); err != nil {
				loopErr = err
				break loop
			}
			r.emit(sess.ID, ev)
			r.model.RestoreFocus()
			activeSince = now

		default:
			loopErr = &session.ContractViolationError{
				Op:     "engine.loop",
				Reason: fmt.Sprintf("unexpected phase %s", r.sm.Phase()),
			}
			break loop
		}
	}

	r.finish(loopErr)
}

// beginSession IDLE -> ACTIVE，开启新会话并采样目标时长
func (r *Run) beginSession(now time.Time) (time.Duration, error) {
	r.mu.Lock()
	r.sessionSeq++
	seq := r.sessionSeq
	r.mu.Unlock()

	id := fmt.Sprintf("%s_session_%d", r.ID, seq)
	if _, err := r.sm.Activate(id, now); err != nil {
		return 0, err
	}
	if err := r.agg.Open(id, now); err != nil {
		return 0, err
	}
	target := r.model.SessionLength()
	logger.LogInfo("engine", fmt.Sprintf("会话开始: %s 目标时长=%s", id, target), &r.ID)
	return target, nil
}

// endSession 结束当前会话并定稿统计
func (r *Run) endSession(now time.Time) error {
	finished, err := r.sm.End(now)
	if err != nil {
		return err
	}
	sum, err := r.agg.Finalize(finished.ID, *finished.EndTime)
	if err != nil {
		return err
	}
	if err := r.sm.Reset(r.clock.Now()); err != nil {
		return err
	}

	r.mu.Lock()
	r.sessions = append(r.sessions, finished)
	r.mu.Unlock()

	logger.LogInfo("engine", fmt.Sprintf("会话结束: %s 时长=%s 事件=%d",
		finished.ID, sum.Duration, sum.TotalEvents), &r.ID)
	return nil
}

// recordEvent 事件同时进入会话序列与聚合器
func (r *Run) recordEvent(sessionID string, ev *session.Event) error {
	if err := r.sm.Append(ev); err != nil {
		return err
	}
	if err := r.agg.Record(sessionID, ev); err != nil {
		return err
	}
	r.emit(sessionID, ev)
	return nil
}

// emit 向注册的事件回调广播
func (r *Run) emit(sessionID string, ev *session.Event) {
	if r.onEvent != nil {
		r.onEvent(r.ID, sessionID, ev)
	}
}

// finish 收尾：强制结束进行中的会话，定稿汇总
func (r *Run) finish(loopErr error) {
	now := r.clock.Now()
	if phase := r.sm.Phase(); phase == session.PhaseActive || phase == session.PhasePaused {
		if err := r.endSession(now); err != nil && loopErr == nil {
			loopErr = err
		}
	}

	final := r.agg.RunSummary()

	r.mu.Lock()
	r.final = final
	r.finalErr = loopErr
	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		r.status = StatusFailed
	} else {
		r.status = StatusCompleted
	}
	r.mu.Unlock()

	if loopErr != nil {
		logger.LogError("engine", fmt.Sprintf("模拟运行异常结束: %v", loopErr), &r.ID)
		return
	}
	logger.LogSuccess("engine", fmt.Sprintf("模拟运行结束: sessions=%d events=%d",
		final.SessionCount, final.TotalEvents), &r.ID)
}
