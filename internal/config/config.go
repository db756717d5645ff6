// Package config loads reviewd configuration from a YAML file with
// environment-variable overrides for deployment-level settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// #region types

// Config is the full reviewd configuration.
type Config struct {
	DBPath     string      `yaml:"db_path"`
	ListenAddr string      `yaml:"listen_addr"`
	Agent      AgentConfig `yaml:"agent"`
	Grader     GraderConf  `yaml:"grader"`
}

// AgentConfig bounds recommendation runs. Durations are milliseconds.
type AgentConfig struct {
	TopK           int `yaml:"top_k"`
	MaxRewrites    int `yaml:"max_rewrites"`
	NodeRetries    int `yaml:"node_retries"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
	NodeTimeoutMS  int `yaml:"node_timeout_ms"`
	RunBudgetMS    int `yaml:"run_budget_ms"`
}

// GraderConf holds grading thresholds.
type GraderConf struct {
	RelevanceThreshold float32 `yaml:"relevance_threshold"`
	PassThreshold      float32 `yaml:"pass_threshold"`
}

// #endregion types

// #region defaults

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DBPath:     "review.db",
		ListenAddr: ":8080",
		Agent: AgentConfig{
			TopK:           5,
			MaxRewrites:    3,
			NodeRetries:    2,
			RetryBackoffMS: 200,
			NodeTimeoutMS:  30_000,
			RunBudgetMS:    120_000,
		},
		Grader: GraderConf{
			RelevanceThreshold: 0.25,
			PassThreshold:      0.6,
		},
	}
}

// #endregion defaults

// #region load

// Load reads a YAML config over the defaults. An empty path or a missing
// file yields the defaults. Environment variables REVIEW_DB and REVIEW_ADDR
// override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.DBPath = envOr("REVIEW_DB", cfg.DBPath)
	cfg.ListenAddr = envOr("REVIEW_ADDR", cfg.ListenAddr)
	return cfg, nil
}

// #endregion load

// #region duration-helpers

// RetryBackoff returns the agent retry backoff as a duration.
func (a AgentConfig) RetryBackoff() time.Duration {
	return time.Duration(a.RetryBackoffMS) * time.Millisecond
}

// NodeTimeout returns the per-node timeout as a duration.
func (a AgentConfig) NodeTimeout() time.Duration {
	return time.Duration(a.NodeTimeoutMS) * time.Millisecond
}

// RunBudget returns the whole-run wall-clock budget as a duration.
func (a AgentConfig) RunBudget() time.Duration {
	return time.Duration(a.RunBudgetMS) * time.Millisecond
}

// #endregion duration-helpers

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
