package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// 全局配置实例
var (
	globalConfig  *SimulationConfig
	configOnce    sync.Once
	viperInstance *viper.Viper
)

// LoadSimulatorConfig 加载模拟器配置，只加载一次
func LoadSimulatorConfig() (*SimulationConfig, error) {
	var err error
	configOnce.Do(func() {
		globalConfig, viperInstance, err = loadConfigFromFile()
	})
	return globalConfig, err
}

// GetSimulatorConfig 获取模拟器配置，加载失败时退回最小配置
func GetSimulatorConfig() *SimulationConfig {
	if globalConfig == nil {
		cfg, err := LoadSimulatorConfig()
		if err != nil || cfg == nil {
			fmt.Printf("Warning: Failed to load config file, using minimal config: %v\n", err)
			globalConfig = MinimalConfig()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// MinimalConfig 最小可用配置，快进模式，适合测试与演示
func MinimalConfig() *SimulationConfig {
	return &SimulationConfig{
		ActivityRate:        Bounds{Min: 1 * time.Second, Max: 5 * time.Second},
		IdleDelay:           Bounds{Min: 5 * time.Second, Max: 30 * time.Second},
		PausedDuration:      Bounds{Min: 30 * time.Second, Max: 3 * time.Minute},
		SessionLength:       Bounds{Min: 10 * time.Minute, Max: 45 * time.Minute},
		IdleProbability:     0.15,
		BreakProbability:    0.02,
		MaxContinuousActive: 25 * time.Minute,
		IdleThreshold:       10 * time.Second,
		Distribution:        DistUniform,
		EventWeights: map[string]float64{
			"input_burst": 0.7,
			"scroll":      0.3,
		},
		RunDuration: 2 * time.Hour,
		Pacing: PacingConfig{
			Mode:            PacingFastForward,
			SpeedMultiplier: 1.0,
		},
		HumanModel: true,
	}
}

// loadConfigFromFile 使用Viper从文件加载配置
func loadConfigFromFile() (*SimulationConfig, *viper.Viper, error) {
	v := viper.New()

	// 配置文件搜索路径
	v.SetConfigName("simulator")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// 设置环境变量前缀
	v.SetEnvPrefix("TRACKER")
	v.AutomaticEnv()

	// 设置默认值
	setDefaultValues(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg SimulationConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

// setDefaultValues 设置配置默认值
func setDefaultValues(v *viper.Viper) {
	v.SetDefault("activity_rate.min", "1s")
	v.SetDefault("activity_rate.max", "5s")
	v.SetDefault("idle_delay.min", "5s")
	v.SetDefault("idle_delay.max", "30s")
	v.SetDefault("paused_duration.min", "30s")
	v.SetDefault("paused_duration.max", "3m")
	v.SetDefault("session_length.min", "10m")
	v.SetDefault("session_length.max", "45m")
	v.SetDefault("idle_probability", 0.15)
	v.SetDefault("break_probability", 0.02)
	v.SetDefault("max_continuous_active", "25m")
	v.SetDefault("idle_threshold", "10s")
	v.SetDefault("distribution", string(DistUniform))
	v.SetDefault("event_weights.input_burst", 0.7)
	v.SetDefault("event_weights.scroll", 0.3)
	v.SetDefault("run_duration", "2h")
	v.SetDefault("pacing.mode", string(PacingFastForward))
	v.SetDefault("pacing.speed_multiplier", 1.0)
	v.SetDefault("human_model", true)
}

// Manager 配置管理器，支持热重载
type Manager struct {
	mu           sync.RWMutex
	cfg          *SimulationConfig
	v            *viper.Viper
	configPath   string
	watchEnabled bool
	onChange     []func(*SimulationConfig)
}

// ManagerOption 配置管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchEnabled = enabled
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load 加载配置并按需开启文件监控
func (m *Manager) Load() error {
	v := viper.New()
	v.SetConfigType("yaml")
	if m.configPath != "" {
		v.SetConfigFile(m.configPath)
	} else {
		v.SetConfigName("simulator")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("TRACKER")
	v.AutomaticEnv()
	setDefaultValues(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg SimulationConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = &cfg
	m.v = v
	m.mu.Unlock()

	if m.watchEnabled {
		v.OnConfigChange(func(e fsnotify.Event) {
			m.reload(e.Name)
		})
		v.WatchConfig()
	}
	return nil
}

// reload 配置文件变化时重新解析，验证失败则保留旧配置
func (m *Manager) reload(name string) {
	var cfg SimulationConfig
	if err := m.v.Unmarshal(&cfg); err != nil {
		fmt.Printf("Warning: config reload failed (%s): %v\n", name, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: reloaded config invalid (%s): %v\n", name, err)
		return
	}

	m.mu.Lock()
	m.cfg = &cfg
	callbacks := append([]func(*SimulationConfig){}, m.onChange...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg.Clone())
	}
}

// OnChange 注册配置变化回调
func (m *Manager) OnChange(cb func(*SimulationConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, cb)
}

// Config 当前配置的独立副本
func (m *Manager) Config() *SimulationConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return MinimalConfig()
	}
	return m.cfg.Clone()
}
