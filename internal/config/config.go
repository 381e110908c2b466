// Package config defines the nested configuration surface for the
// service: data directory, sandbox limits, the static screener's
// allow-list, fitness weights, and the protocol bind address.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Screener ScreenerConfig `yaml:"screener"`
	Fitness  FitnessConfig  `yaml:"fitness"`
	Protocol ProtocolConfig `yaml:"protocol"`
}

// SandboxConfig bounds the Sandbox Executor (C2).
type SandboxConfig struct {
	CPULimit      time.Duration `yaml:"cpu_limit"`
	WallLimit     time.Duration `yaml:"wall_limit"`
	MemLimitMB    int64         `yaml:"mem_limit_mb"`
	PoolSize      int           `yaml:"pool_size"`
	MaxQueueDepth int           `yaml:"max_queue_depth"`
	PythonBinary  string        `yaml:"python_binary"`
}

// ScreenerConfig bounds the Static Screener (C1).
type ScreenerConfig struct {
	AllowedImports []string `yaml:"allowed_imports"`
	DeniedImports  []string `yaml:"denied_imports"`
}

// FitnessConfig carries the weighted-sum constants of the Fitness Engine (C6).
type FitnessConfig struct {
	WeightSuccessRate     float64       `yaml:"weight_success_rate"`
	WeightTokenEfficiency float64       `yaml:"weight_token_efficiency"`
	WeightSpeed           float64       `yaml:"weight_speed"`
	WeightAdoption        float64       `yaml:"weight_adoption"`
	WeightFreshness       float64       `yaml:"weight_freshness"`
	TokensBudget          float64       `yaml:"tokens_budget"`
	SpeedBudgetMS         float64       `yaml:"speed_budget_ms"`
	AdoptionCap           float64       `yaml:"adoption_cap"`
	HalfLife              time.Duration `yaml:"half_life"`
	MinObservations       int           `yaml:"min_observations"`
	DelistSuccessFloor    float64       `yaml:"delist_success_floor"`
	DelistFitnessFloor    float64       `yaml:"delist_fitness_floor"`
	BattleTestedUses      int           `yaml:"battle_tested_uses"`
	BattleTestedSuccess   float64       `yaml:"battle_tested_success"`
	BattleTestedAgents    int           `yaml:"battle_tested_agents"`
}

// ProtocolConfig configures the RPC surface.
type ProtocolConfig struct {
	Bind string `yaml:"bind"`
}

// Default returns the documented defaults from the component contracts.
func Default() *Config {
	return &Config{
		DataDir: ".agentevolution",
		Sandbox: SandboxConfig{
			CPULimit:      5 * time.Second,
			WallLimit:     10 * time.Second,
			MemLimitMB:    256,
			PoolSize:      4,
			MaxQueueDepth: 64,
			PythonBinary:  "python3",
		},
		Screener: ScreenerConfig{
			AllowedImports: []string{
				"math", "re", "json", "datetime", "hashlib", "typing",
				"collections", "itertools", "functools", "string", "random",
			},
			DeniedImports: []string{
				"os", "sys", "subprocess", "socket", "shutil", "ctypes",
				"importlib", "multiprocessing", "threading", "pickle",
				"marshal", "signal", "resource",
			},
		},
		Fitness: FitnessConfig{
			WeightSuccessRate:     0.35,
			WeightTokenEfficiency: 0.25,
			WeightSpeed:           0.20,
			WeightAdoption:        0.10,
			WeightFreshness:       0.10,
			TokensBudget:          1000,
			SpeedBudgetMS:         5000,
			AdoptionCap:           32,
			HalfLife:              30 * 24 * time.Hour,
			MinObservations:       5,
			DelistSuccessFloor:    0.1,
			DelistFitnessFloor:    0.05,
			BattleTestedUses:      20,
			BattleTestedSuccess:   0.9,
			BattleTestedAgents:    3,
		},
		Protocol: ProtocolConfig{
			Bind: "127.0.0.1:8490",
		},
	}
}

// LoadFromPath loads a YAML config file, merged over the documented
// defaults so a partial file only overrides what it mentions.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns the defaults with environment overrides applied; used when
// no config file is present.
func Load() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTEVOLUTION_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENTEVOLUTION_BIND"); v != "" {
		cfg.Protocol.Bind = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTEVOLUTION_SANDBOX_POOL_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sandbox.PoolSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENTEVOLUTION_SANDBOX_QUEUE_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sandbox.MaxQueueDepth = n
		}
	}
}

// Validate rejects configurations that would make the service unsafe or
// unable to start.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Sandbox.PoolSize <= 0 {
		return fmt.Errorf("sandbox.pool_size must be positive")
	}
	if c.Sandbox.MaxQueueDepth <= 0 {
		return fmt.Errorf("sandbox.max_queue_depth must be positive")
	}
	if c.Sandbox.CPULimit <= 0 || c.Sandbox.WallLimit <= 0 {
		return fmt.Errorf("sandbox cpu_limit and wall_limit must be positive")
	}
	sum := c.Fitness.WeightSuccessRate + c.Fitness.WeightTokenEfficiency +
		c.Fitness.WeightSpeed + c.Fitness.WeightAdoption + c.Fitness.WeightFreshness
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("fitness weights must sum to 1.0, got %f", sum)
	}
	return nil
}
