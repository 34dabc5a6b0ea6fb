package timing

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
)

// hourlyPatterns 一天内的活跃度曲线，1.0为峰值
var hourlyPatterns = map[int]float64{
	0: 0.1, 1: 0.05, 2: 0.05, 3: 0.05, 4: 0.05, 5: 0.1,
	6: 0.3, 7: 0.5, 8: 0.7, 9: 0.9, 10: 1.0, 11: 1.0,
	12: 0.6, 13: 0.4, 14: 0.5, 15: 0.7, 16: 0.8, 17: 0.9,
	18: 0.8, 19: 0.6, 20: 0.5, 21: 0.4, 22: 0.3, 23: 0.2,
}

// Model 时序模型，所有随机延迟都从这里产生。
// 随机源由创建方注入，固定种子时输出可复现。
type Model struct {
	cfg *config.SimulationConfig
	rng *rand.Rand

	// 人类状态：疲劳缓慢上升，专注度随机波动
	fatigue float64
	focus   float64
}

// NewModel 创建时序模型
func NewModel(cfg *config.SimulationConfig, rng *rand.Rand) *Model {
	return &Model{
		cfg:   cfg,
		rng:   rng,
		focus: 1.0,
	}
}

// bounds 各阶段的延迟上下界
func (m *Model) bounds(phase session.Phase) (config.Bounds, error) {
	switch phase {
	case session.PhaseActive:
		return m.cfg.ActivityRate, nil
	case session.PhaseIdle:
		return m.cfg.IdleDelay, nil
	case session.PhasePaused:
		return m.cfg.PausedDuration, nil
	default:
		return config.Bounds{}, &session.ContractViolationError{
			Op:     "timing.NextDelay",
			Reason: fmt.Sprintf("no delay bounds for phase %s", phase),
		}
	}
}

// NextDelay 为指定阶段产生一个延迟，保证落在配置的[min,max]内。
// min > max属于配置错误，立即失败，不重试。
func (m *Model) NextDelay(phase session.Phase, now time.Time) (time.Duration, error) {
	b, err := m.bounds(phase)
	if err != nil {
		return 0, err
	}
	if b.Min > b.Max {
		return 0, &config.ConfigError{
			Param:  "bounds for phase " + phase.String(),
			Reason: fmt.Sprintf("min %s > max %s", b.Min, b.Max),
		}
	}
	// 零宽区间退化为固定延迟
	if b.Min == b.Max {
		return b.Min, nil
	}

	d := m.sample(b)
	if m.cfg.HumanModel {
		d = time.Duration(float64(d) * m.humanFactor(now))
	}
	return clamp(d, b), nil
}

// SessionLength 为新会话采样目标时长
func (m *Model) SessionLength() time.Duration {
	b := m.cfg.SessionLength
	if b.Min == b.Max {
		return b.Min
	}
	return clamp(m.sample(b), b)
}

// sample 按配置的分布形状在区间内采样
func (m *Model) sample(b config.Bounds) time.Duration {
	min := float64(b.Min)
	max := float64(b.Max)

	switch m.cfg.Distribution {
	case config.DistNormal:
		mean := (min + max) / 2
		sd := (max - min) / 6
		return time.Duration(m.rng.NormFloat64()*sd + mean)
	case config.DistLogNormal:
		// 对数空间的正态采样，偏向短延迟，长尾偏长
		lo := math.Log(math.Max(min, float64(time.Millisecond)))
		hi := math.Log(math.Max(max, float64(time.Millisecond)))
		mu := (lo + hi) / 2
		sigma := (hi - lo) / 6
		return time.Duration(math.Exp(m.rng.NormFloat64()*sigma + mu))
	default:
		return time.Duration(min + m.rng.Float64()*(max-min))
	}
}

// humanFactor 疲劳/专注度/时段共同作用的乘数。
// 结果只用于区间内的偏移，最终值仍被clamp回[min,max]。
func (m *Model) humanFactor(now time.Time) float64 {
	// 疲劳缓慢累积，封顶80%
	m.fatigue = math.Min(m.fatigue+0.0005, 0.8)

	// 专注度随机游走，保持在[0.3, 1.0]
	m.focus += (m.rng.Float64() - 0.5) * 0.1
	m.focus = math.Max(0.3, math.Min(1.0, m.focus))

	hourly := hourlyPatterns[now.Hour()]
	if hourly == 0 {
		hourly = 0.5
	}

	// 疲劳和低专注让人变慢，低活跃时段同样变慢
	fatigueMul := 1.0 + m.fatigue*0.5
	focusMul := 2.0 - m.focus
	hourlyMul := 1.0 + (1.0-hourly)*0.5
	return fatigueMul * focusMul * hourlyMul
}

// RestoreFocus 小休后专注度部分恢复
func (m *Model) RestoreFocus() {
	m.focus = math.Min(1.0, m.focus+0.1)
	m.fatigue = math.Max(0, m.fatigue-0.05)
}

// clamp 把采样值压回区间
func clamp(d time.Duration, b config.Bounds) time.Duration {
	if d < b.Min {
		return b.Min
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
