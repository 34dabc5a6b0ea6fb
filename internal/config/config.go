package config

import (
	"fmt"
	"time"
)

// ConfigError 配置错误，模拟开始之前快速失败
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %q: %s", e.Param, e.Reason)
}

// Distribution 延迟分布形状
type Distribution string

const (
	DistUniform   Distribution = "uniform"
	DistNormal    Distribution = "normal"
	DistLogNormal Distribution = "lognormal"
)

// IsValid 检查分布类型是否有效
func (d Distribution) IsValid() bool {
	switch d {
	case DistUniform, DistNormal, DistLogNormal:
		return true
	default:
		return false
	}
}

// PacingMode 时钟推进方式
type PacingMode string

const (
	// PacingRealtime 真实节奏：延迟对应真实挂钟时间
	PacingRealtime PacingMode = "realtime"
	// PacingFastForward 快进：只推进逻辑时间戳，不真实等待
	PacingFastForward PacingMode = "fastforward"
)

// IsValid 检查节奏模式是否有效
func (m PacingMode) IsValid() bool {
	return m == PacingRealtime || m == PacingFastForward
}

// Bounds 时长上下界，Min <= Max
type Bounds struct {
	Min time.Duration `yaml:"min" mapstructure:"min" json:"min"`
	Max time.Duration `yaml:"max" mapstructure:"max" json:"max"`
}

// Validate 验证上下界
func (b Bounds) Validate(param string) error {
	if b.Min < 0 {
		return &ConfigError{Param: param, Reason: fmt.Sprintf("min %s is negative", b.Min)}
	}
	if b.Min > b.Max {
		return &ConfigError{Param: param, Reason: fmt.Sprintf("min %s > max %s", b.Min, b.Max)}
	}
	return nil
}

// WorkingHours 工作时段窗口，限制新会话的启动时间。
// 允许跨午夜的窗口（如22点到6点）。
type WorkingHours struct {
	StartHour int `yaml:"start_hour" mapstructure:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" mapstructure:"end_hour" json:"end_hour"`
}

// Contains 判断时刻是否落在窗口内
func (w WorkingHours) Contains(t time.Time) bool {
	h := t.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// 跨午夜窗口
	return h >= w.StartHour || h < w.EndHour
}

// Validate 验证工作时段
func (w WorkingHours) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return &ConfigError{Param: "working_hours.start_hour", Reason: fmt.Sprintf("%d out of range [0,23]", w.StartHour)}
	}
	if w.EndHour < 0 || w.EndHour > 23 {
		return &ConfigError{Param: "working_hours.end_hour", Reason: fmt.Sprintf("%d out of range [0,23]", w.EndHour)}
	}
	if w.StartHour == w.EndHour {
		return &ConfigError{Param: "working_hours", Reason: "start_hour equals end_hour, window is empty"}
	}
	return nil
}

// PacingConfig 时钟节奏配置
type PacingConfig struct {
	Mode PacingMode `yaml:"mode" mapstructure:"mode" json:"mode"`
	// SpeedMultiplier 真实节奏下的加速倍率，1.0为原速
	SpeedMultiplier float64 `yaml:"speed_multiplier" mapstructure:"speed_multiplier" json:"speed_multiplier"`
}

// Validate 验证节奏配置
func (p PacingConfig) Validate() error {
	if !p.Mode.IsValid() {
		return &ConfigError{Param: "pacing.mode", Reason: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	if p.Mode == PacingRealtime && p.SpeedMultiplier <= 0 {
		return &ConfigError{Param: "pacing.speed_multiplier", Reason: "must be positive in realtime mode"}
	}
	return nil
}

// SimulationConfig 一次模拟运行的全部参数，加载后不再修改
type SimulationConfig struct {
	// ActivityRate 活跃阶段相邻事件之间的间隔范围
	ActivityRate Bounds `yaml:"activity_rate" mapstructure:"activity_rate" json:"activity_rate"`
	// IdleDelay 空闲阶段（会话内IDLE_GAP与会话之间等待）的时长范围
	IdleDelay Bounds `yaml:"idle_delay" mapstructure:"idle_delay" json:"idle_delay"`
	// PausedDuration 小休阶段的时长范围
	PausedDuration Bounds `yaml:"paused_duration" mapstructure:"paused_duration" json:"paused_duration"`
	// SessionLength 单个会话的总时长范围
	SessionLength Bounds `yaml:"session_length" mapstructure:"session_length" json:"session_length"`

	// IdleProbability 活跃阶段产生IDLE_GAP事件的概率 [0,1]
	IdleProbability float64 `yaml:"idle_probability" mapstructure:"idle_probability" json:"idle_probability"`
	// BreakProbability 活跃阶段随机进入小休的概率 [0,1]
	BreakProbability float64 `yaml:"break_probability" mapstructure:"break_probability" json:"break_probability"`
	// MaxContinuousActive 连续活跃超过该时长则强制小休，0表示不限制
	MaxContinuousActive time.Duration `yaml:"max_continuous_active" mapstructure:"max_continuous_active" json:"max_continuous_active"`
	// IdleThreshold 空闲超过该时长即启动新会话
	IdleThreshold time.Duration `yaml:"idle_threshold" mapstructure:"idle_threshold" json:"idle_threshold"`

	// Distribution 延迟采样的分布形状
	Distribution Distribution `yaml:"distribution" mapstructure:"distribution" json:"distribution"`
	// EventWeights 活跃阶段事件类型的权重，必须为正
	EventWeights map[string]float64 `yaml:"event_weights" mapstructure:"event_weights" json:"event_weights"`
	// WorkingHours 可选的工作时段窗口，nil表示不限制
	WorkingHours *WorkingHours `yaml:"working_hours,omitempty" mapstructure:"working_hours" json:"working_hours,omitempty"`
	// RandomSeed 可选的随机种子。固定后随机序列可复现；
	// 输出要逐字节一致还需在启动时固定运行ID与时间轴起点
	RandomSeed *int64 `yaml:"random_seed,omitempty" mapstructure:"random_seed" json:"random_seed,omitempty"`

	// RunDuration 整次运行的逻辑时长
	RunDuration time.Duration `yaml:"run_duration" mapstructure:"run_duration" json:"run_duration"`
	// Pacing 时钟推进方式
	Pacing PacingConfig `yaml:"pacing" mapstructure:"pacing" json:"pacing"`
	// HumanModel 是否启用疲劳/专注度修正
	HumanModel bool `yaml:"human_model" mapstructure:"human_model" json:"human_model"`
}

// Validate 验证模拟配置，核心引擎假定收到的配置已通过此验证
func (c *SimulationConfig) Validate() error {
	for _, b := range []struct {
		name   string
		bounds Bounds
	}{
		{"activity_rate", c.ActivityRate},
		{"idle_delay", c.IdleDelay},
		{"paused_duration", c.PausedDuration},
		{"session_length", c.SessionLength},
	} {
		if err := b.bounds.Validate(b.name); err != nil {
			return err
		}
	}
	if c.IdleProbability < 0 || c.IdleProbability > 1 {
		return &ConfigError{Param: "idle_probability", Reason: fmt.Sprintf("%v out of range [0,1]", c.IdleProbability)}
	}
	if c.BreakProbability < 0 || c.BreakProbability > 1 {
		return &ConfigError{Param: "break_probability", Reason: fmt.Sprintf("%v out of range [0,1]", c.BreakProbability)}
	}
	if c.MaxContinuousActive < 0 {
		return &ConfigError{Param: "max_continuous_active", Reason: "is negative"}
	}
	if c.IdleThreshold < 0 {
		return &ConfigError{Param: "idle_threshold", Reason: "is negative"}
	}
	if !c.Distribution.IsValid() {
		return &ConfigError{Param: "distribution", Reason: fmt.Sprintf("unknown distribution %q", c.Distribution)}
	}
	for kind, weight := range c.EventWeights {
		if weight <= 0 {
			return &ConfigError{Param: "event_weights." + kind, Reason: fmt.Sprintf("weight %v must be positive", weight)}
		}
	}
	if c.WorkingHours != nil {
		if err := c.WorkingHours.Validate(); err != nil {
			return err
		}
	}
	if c.RunDuration <= 0 {
		return &ConfigError{Param: "run_duration", Reason: "must be positive"}
	}
	return c.Pacing.Validate()
}

// Clone 深拷贝配置，每次运行持有独立的副本
func (c *SimulationConfig) Clone() *SimulationConfig {
	clone := *c
	if c.EventWeights != nil {
		clone.EventWeights = make(map[string]float64, len(c.EventWeights))
		for k, v := range c.EventWeights {
			clone.EventWeights[k] = v
		}
	}
	if c.WorkingHours != nil {
		wh := *c.WorkingHours
		clone.WorkingHours = &wh
	}
	if c.RandomSeed != nil {
		seed := *c.RandomSeed
		clone.RandomSeed = &seed
	}
	return &clone
}
