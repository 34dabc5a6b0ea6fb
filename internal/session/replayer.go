package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReplaySpeed 回放速度
type ReplaySpeed float64

const (
	SpeedSlow    ReplaySpeed = 0.5 // 慢速回放
	SpeedNormal  ReplaySpeed = 1.0 // 正常速度
	SpeedFast    ReplaySpeed = 2.0 // 快速回放
	SpeedInstant ReplaySpeed = 0.0 // 瞬间回放（无延迟）
)

// ReplayConfig 回放配置
type ReplayConfig struct {
	Speed        ReplaySpeed `json:"speed"`
	KindFilter   []EventKind `json:"kind_filter,omitempty"`
	PauseOnError bool        `json:"pause_on_error"`
}

// ReplayEvent 回放事件
type ReplayEvent struct {
	OriginalEvent *Event        `json:"original_event"`
	ReplayTime    time.Time     `json:"replay_time"`
	Delay         time.Duration `json:"delay"`
	Err           error         `json:"-"`
}

// ReplayStats 回放统计
type ReplayStats struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	TotalEvents    int           `json:"total_events"`
	ReplayedEvents int           `json:"replayed_events"`
	SkippedEvents  int           `json:"skipped_events"`
	ErrorEvents    int           `json:"error_events"`
}

// ReplayCallback 回放回调函数
type ReplayCallback func(event *ReplayEvent) error

// Replayer 会话回放器：按原始时间间隔重放一段已记录的会话，
// 用于从原始事件日志重新计算分析统计，或做可视化演示。
type Replayer struct {
	session   *Session
	config    *ReplayConfig
	callbacks []ReplayCallback
	stats     *ReplayStats

	isPlaying bool
	prevTime  time.Time

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReplayer 创建会话回放器
func NewReplayer(sess *Session, cfg *ReplayConfig) *Replayer {
	if cfg == nil {
		cfg = &ReplayConfig{Speed: SpeedInstant}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Replayer{
		session: sess,
		config:  cfg,
		stats:   &ReplayStats{TotalEvents: len(sess.Events)},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddCallback 添加回放回调
func (r *Replayer) AddCallback(cb ReplayCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Play 开始回放
func (r *Replayer) Play() error {
	r.mu.Lock()
	if r.isPlaying {
		r.mu.Unlock()
		return fmt.Errorf("replay is already playing")
	}
	r.isPlaying = true
	r.prevTime = r.session.StartTime
	r.stats.StartTime = time.Now()
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.replayLoop()
	}()
	return nil
}

// Stop 停止回放
func (r *Replayer) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
	})
}

// Wait 等待回放完成
func (r *Replayer) Wait() {
	r.wg.Wait()
}

// GetStats 获取回放统计
func (r *Replayer) GetStats() *ReplayStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := *r.stats
	return &stats
}

// IsPlaying 检查是否正在回放
func (r *Replayer) IsPlaying() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isPlaying
}

// replayLoop 回放主循环。事件序列本身保证时间戳单调，无需重排。
func (r *Replayer) replayLoop() {
	defer func() {
		r.mu.Lock()
		r.isPlaying = false
		r.stats.EndTime = time.Now()
		r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)
		r.mu.Unlock()
	}()

	for _, ev := range r.session.Events {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		if !r.shouldReplay(ev) {
			r.mu.Lock()
			r.stats.SkippedEvents++
			r.mu.Unlock()
			continue
		}

		delay := ev.Timestamp.Sub(r.prevTime)
		r.prevTime = ev.Timestamp

		replayEvent := &ReplayEvent{
			OriginalEvent: ev,
			ReplayTime:    time.Now(),
			Delay:         delay,
		}

		if err := r.executeCallbacks(replayEvent); err != nil {
			replayEvent.Err = err
			r.mu.Lock()
			r.stats.ErrorEvents++
			r.mu.Unlock()
			if r.config.PauseOnError {
				return
			}
		} else {
			r.mu.Lock()
			r.stats.ReplayedEvents++
			r.mu.Unlock()
		}

		// 按速度等待原始间隔
		if r.config.Speed > 0 && delay > 0 {
			wait := time.Duration(float64(delay) / float64(r.config.Speed))
			select {
			case <-time.After(wait):
			case <-r.ctx.Done():
				return
			}
		}
	}
}

// shouldReplay 应用事件类型过滤器
func (r *Replayer) shouldReplay(ev *Event) bool {
	if len(r.config.KindFilter) == 0 {
		return true
	}
	for _, kind := range r.config.KindFilter {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// executeCallbacks 执行回调函数
func (r *Replayer) executeCallbacks(event *ReplayEvent) error {
	r.mu.RLock()
	callbacks := make([]ReplayCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(event); err != nil {
			return err
		}
	}
	return nil
}
