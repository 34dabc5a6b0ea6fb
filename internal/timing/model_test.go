package timing

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
)

func testConfig() *config.SimulationConfig {
	cfg := config.MinimalConfig()
	cfg.HumanModel = false
	return cfg
}

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

// TestDelayWithinBounds 所有分布下的延迟都必须落在配置区间内
func TestDelayWithinBounds(t *testing.T) {
	t.Log("⏱️  测试延迟区间约束...")

	for _, dist := range []config.Distribution{
		config.DistUniform, config.DistNormal, config.DistLogNormal,
	} {
		t.Run(string(dist), func(t *testing.T) {
			cfg := testConfig()
			cfg.Distribution = dist
			m := NewModel(cfg, rand.New(rand.NewSource(1)))

			for i := 0; i < 1000; i++ {
				d, err := m.NextDelay(session.PhaseActive, testNow)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, d, cfg.ActivityRate.Min)
				assert.LessOrEqual(t, d, cfg.ActivityRate.Max)
			}
		})
	}
}

// TestHumanModelStillClamped 人类修正后的延迟仍被压回区间
func TestHumanModelStillClamped(t *testing.T) {
	cfg := testConfig()
	cfg.HumanModel = true
	cfg.Distribution = config.DistLogNormal
	m := NewModel(cfg, rand.New(rand.NewSource(7)))

	for i := 0; i < 1000; i++ {
		d, err := m.NextDelay(session.PhaseActive, testNow)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, cfg.ActivityRate.Min)
		assert.LessOrEqual(t, d, cfg.ActivityRate.Max)
	}
}

// TestDegenerateBounds min == max 退化为固定延迟
func TestDegenerateBounds(t *testing.T) {
	cfg := testConfig()
	cfg.ActivityRate = config.Bounds{Min: 2 * time.Second, Max: 2 * time.Second}
	m := NewModel(cfg, rand.New(rand.NewSource(1)))

	for i := 0; i < 10; i++ {
		d, err := m.NextDelay(session.PhaseActive, testNow)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, d)
	}
}

// TestInvertedBoundsFailFast min > max 立即报配置错误，不重试不修正
func TestInvertedBoundsFailFast(t *testing.T) {
	cfg := testConfig()
	cfg.IdleDelay = config.Bounds{Min: time.Minute, Max: time.Second}
	m := NewModel(cfg, rand.New(rand.NewSource(1)))

	_, err := m.NextDelay(session.PhaseIdle, testNow)
	require.Error(t, err)
	var cfgErr *config.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

// TestNoDelayForEndedPhase ENDED阶段没有延迟语义
func TestNoDelayForEndedPhase(t *testing.T) {
	m := NewModel(testConfig(), rand.New(rand.NewSource(1)))

	_, err := m.NextDelay(session.PhaseEnded, testNow)
	require.Error(t, err)
	var violation *session.ContractViolationError
	assert.True(t, errors.As(err, &violation))
}

// TestPhaseBoundsMapping 各阶段使用各自的区间配置
func TestPhaseBoundsMapping(t *testing.T) {
	cfg := testConfig()
	cfg.ActivityRate = config.Bounds{Min: time.Second, Max: time.Second}
	cfg.IdleDelay = config.Bounds{Min: 10 * time.Second, Max: 10 * time.Second}
	cfg.PausedDuration = config.Bounds{Min: time.Minute, Max: time.Minute}
	m := NewModel(cfg, rand.New(rand.NewSource(1)))

	d, err := m.NextDelay(session.PhaseActive, testNow)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = m.NextDelay(session.PhaseIdle, testNow)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	d, err = m.NextDelay(session.PhasePaused, testNow)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

// TestSeedDeterminism 相同种子产生完全相同的延迟序列
func TestSeedDeterminism(t *testing.T) {
	t.Log("🎲 测试种子可复现性...")

	cfg := testConfig()
	cfg.Distribution = config.DistLogNormal
	cfg.HumanModel = true

	m1 := NewModel(cfg, rand.New(rand.NewSource(42)))
	m2 := NewModel(cfg.Clone(), rand.New(rand.NewSource(42)))

	for i := 0; i < 200; i++ {
		d1, err := m1.NextDelay(session.PhaseActive, testNow)
		require.NoError(t, err)
		d2, err := m2.NextDelay(session.PhaseActive, testNow)
		require.NoError(t, err)
		assert.Equal(t, d1, d2, "delay %d diverged", i)
	}

	assert.Equal(t, m1.SessionLength(), m2.SessionLength())
}

// TestSessionLengthWithinBounds 会话目标时长落在配置区间内
func TestSessionLengthWithinBounds(t *testing.T) {
	cfg := testConfig()
	m := NewModel(cfg, rand.New(rand.NewSource(3)))

	for i := 0; i < 100; i++ {
		l := m.SessionLength()
		assert.GreaterOrEqual(t, l, cfg.SessionLength.Min)
		assert.LessOrEqual(t, l, cfg.SessionLength.Max)
	}
}
