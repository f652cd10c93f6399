// Package config holds the explicit HiveForge configuration struct.
// Configuration is loaded once from a YAML file, overridden by HIVEFORGE_*
// environment variables, and threaded through constructors. There is no
// global settings singleton; the vault path in particular is owned by the
// Akashic Record constructor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/k-iijima/hiveforge/internal/types"
)

// Config holds all HiveForge configuration.
type Config struct {
	// VaultPath is the filesystem root of the Akashic Record.
	VaultPath string `yaml:"vault_path"`

	// APIKeyHeader is the shared key the boundary layer checks. Empty
	// disables the check.
	APIKeyHeader string `yaml:"api_key_header"`

	// TrustLevel binds the approval policy (REPORT_ONLY, PROPOSE_CONFIRM,
	// DELEGATED).
	TrustLevel types.TrustLevel `yaml:"trust_level"`

	LLM        LLMConfig        `yaml:"llm"`
	Governance GovernanceConfig `yaml:"governance"`
	Guard      GuardConfig      `yaml:"guard"`
	Worker     WorkerConfig     `yaml:"worker"`
	Scout      ScoutConfig      `yaml:"scout"`
}

// LLMConfig configures the LLM client.
type LLMConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// GovernanceConfig holds the runtime ceilings enforced by the Sentinel and
// the state machines.
type GovernanceConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	MaxOscillations   int           `yaml:"max_oscillations"`
	MaxEventRate      int           `yaml:"max_event_rate"`
	RateWindow        time.Duration `yaml:"rate_window"`
	MaxLoopCount      int           `yaml:"max_loop_count"`
	MaxCost           float64       `yaml:"max_cost"`
	KPIDropThreshold  float64       `yaml:"kpi_drop_threshold"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	LineageMaxDepth   int           `yaml:"lineage_max_depth"`
}

// GuardConfig configures the verifier.
type GuardConfig struct {
	// CoverageThreshold is the minimum goal-token overlap ratio for the L2
	// coverage rule.
	CoverageThreshold float64 `yaml:"coverage_threshold"`
}

// WorkerConfig bounds the ReAct loop.
type WorkerConfig struct {
	MaxIterations  int  `yaml:"max_iterations"`
	RequireToolUse bool `yaml:"require_tool_use"`
	ToolUseRetries int  `yaml:"tool_use_retries"`
}

// ScoutConfig tunes the episode recommender.
type ScoutConfig struct {
	TopK            int     `yaml:"top_k"`
	MinEpisodes     int     `yaml:"min_episodes"`
	MinSimilarity   float64 `yaml:"min_similarity"`
	DefaultTemplate string  `yaml:"default_template"`
}

// Default returns the configuration defaults. Vault defaults to ./vault.
func Default() *Config {
	return &Config{
		VaultPath:  "vault",
		TrustLevel: types.TrustProposeConfirm,
		LLM: LLMConfig{
			Model:   "gemini-3-flash-preview",
			Timeout: 5 * time.Minute,
		},
		Governance: GovernanceConfig{
			MaxRetries:       3,
			MaxOscillations:  3,
			MaxEventRate:     100,
			RateWindow:       60 * time.Second,
			MaxLoopCount:     5,
			MaxCost:          10.0,
			KPIDropThreshold: 0.2,
			LockTimeout:      10 * time.Second,
			LineageMaxDepth:  32,
		},
		Guard: GuardConfig{
			CoverageThreshold: 0.30,
		},
		Worker: WorkerConfig{
			MaxIterations:  10,
			RequireToolUse: false,
			ToolUseRetries: 2,
		},
		Scout: ScoutConfig{
			TopK:            5,
			MinEpisodes:     3,
			MinSimilarity:   0.5,
			DefaultTemplate: "standard",
		},
	}
}

// Load reads the config file at path (when it exists), applies environment
// overrides, and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	switch c.TrustLevel {
	case types.TrustReportOnly, types.TrustProposeConfirm, types.TrustDelegated:
	default:
		return fmt.Errorf("invalid trust_level %q", c.TrustLevel)
	}
	if c.VaultPath == "" {
		return fmt.Errorf("vault_path is required")
	}
	if c.Governance.MaxOscillations < 1 {
		return fmt.Errorf("max_oscillations must be >= 1")
	}
	if c.Guard.CoverageThreshold < 0 || c.Guard.CoverageThreshold > 1 {
		return fmt.Errorf("guard coverage_threshold must be in [0,1]")
	}
	return nil
}

// AbsVaultPath resolves the vault path against the working directory.
func (c *Config) AbsVaultPath() (string, error) {
	return filepath.Abs(c.VaultPath)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HIVEFORGE_VAULT"); v != "" {
		cfg.VaultPath = v
	}
	if v := os.Getenv("HIVEFORGE_API_KEY_HEADER"); v != "" {
		cfg.APIKeyHeader = v
	}
	if v := os.Getenv("HIVEFORGE_TRUST_LEVEL"); v != "" {
		cfg.TrustLevel = types.TrustLevel(v)
	}
	if v := os.Getenv("HIVEFORGE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("HIVEFORGE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("HIVEFORGE_MAX_COST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Governance.MaxCost = f
		}
	}
	if v := os.Getenv("HIVEFORGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Governance.MaxRetries = n
		}
	}
}
