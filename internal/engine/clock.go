package engine

import (
	"context"
	"time"

	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
)

// simClock 模拟时钟。逻辑时间严格按事件顺序推进；
// 真实节奏模式下同时占用对应的挂钟时间，快进模式下只改时间戳。
type simClock struct {
	now   time.Time
	mode  config.PacingMode
	speed float64
}

// newSimClock 创建模拟时钟
func newSimClock(start time.Time, pacing config.PacingConfig) *simClock {
	speed := pacing.SpeedMultiplier
	if speed <= 0 {
		speed = 1.0
	}
	return &simClock{
		now:   start,
		mode:  pacing.Mode,
		speed: speed,
	}
}

// Now 当前模拟时刻
func (c *simClock) Now() time.Time {
	return c.now
}

// Advance 推进模拟时钟。真实节奏模式下等待对应的挂钟时间，
// 外部取消会中断等待；逻辑时间戳无论哪种模式都已推进。
func (c *simClock) Advance(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	c.now = c.now.Add(d)

	if c.mode != config.PacingRealtime || d == 0 {
		return nil
	}

	wait := time.Duration(float64(d) / c.speed)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
