package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
	"github.com/balwinderxcode-ai/activity-tracker/internal/timing"
)

// weightKey 配置中事件权重的键名
var weightKey = map[session.EventKind]string{
	session.EventInputBurst: "input_burst",
	session.EventScroll:     "scroll",
}

// phaseKinds 各阶段允许生成的事件类型。
// 活跃阶段不会生成IDLE_GAP，空闲/小休阶段不会生成输入事件。
var phaseKinds = map[session.Phase][]session.EventKind{
	session.PhaseActive: {session.EventInputBurst, session.EventScroll},
	session.PhaseIdle:   {session.EventIdleGap},
	session.PhasePaused: {session.EventIdleGap},
}

// Generator 事件生成器，按配置权重随机选择下一个事件类型。
// 前置条件：权重已在配置验证阶段确认为正数，这里不再防御性复查。
type Generator struct {
	cfg     *config.SimulationConfig
	model   *timing.Model
	rng     *rand.Rand
	counter int64
}

// New 创建事件生成器
func New(cfg *config.SimulationConfig, model *timing.Model, rng *rand.Rand) *Generator {
	return &Generator{
		cfg:   cfg,
		model: model,
		rng:   rng,
	}
}

// NextEvent 为当前阶段生成下一个事件，时长来自时序模型
func (g *Generator) NextEvent(phase session.Phase, now time.Time) (*session.Event, error) {
	kinds, ok := phaseKinds[phase]
	if !ok {
		return nil, &session.ContractViolationError{
			Op:     "generator.NextEvent",
			Reason: fmt.Sprintf("no event kinds for phase %s", phase),
		}
	}

	kind := g.pickKind(kinds)
	duration, err := g.model.NextDelay(phase, now)
	if err != nil {
		return nil, err
	}

	g.counter++
	return &session.Event{
		ID:        fmt.Sprintf("event_%d", g.counter),
		Kind:      kind,
		Timestamp: now,
		Duration:  duration,
	}, nil
}

// IdleGap 生成一个空闲间隙事件，用于活跃会话中的短暂走神
func (g *Generator) IdleGap(now time.Time) (*session.Event, error) {
	duration, err := g.model.NextDelay(session.PhaseIdle, now)
	if err != nil {
		return nil, err
	}
	g.counter++
	return &session.Event{
		ID:        fmt.Sprintf("event_%d", g.counter),
		Kind:      session.EventIdleGap,
		Timestamp: now,
		Duration:  duration,
	}, nil
}

// pickKind 按权重随机选择事件类型
func (g *Generator) pickKind(kinds []session.EventKind) session.EventKind {
	if len(kinds) == 1 {
		return kinds[0]
	}

	total := 0.0
	weights := make([]float64, len(kinds))
	for i, kind := range kinds {
		w := g.cfg.EventWeights[weightKey[kind]]
		if w == 0 {
			w = 1.0
		}
		weights[i] = w
		total += w
	}

	target := g.rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target < acc {
			return kinds[i]
		}
	}
	return kinds[len(kinds)-1]
}
