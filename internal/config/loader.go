package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path, then
// applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config found.
// Search order: ./copilot.yaml, ~/.copilot/config.yaml. With nothing found it
// returns a pure-defaults config rather than an error.
func LoadDefault() (*Config, error) {
	candidates := []string{"copilot.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".copilot", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	var cfg Config
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Queue.LeaseSeconds == 0 {
		cfg.Queue.LeaseSeconds = 300
	}
	if cfg.Queue.PollMillis == 0 {
		cfg.Queue.PollMillis = 250
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = RetryConfig{MaxAttempts: 4, BaseDelayMillis: 500, MaxDelaySeconds: 30, Jitter: true}
	}
	if len(cfg.Review.Roles) == 0 {
		cfg.Review.Roles = []string{"quality", "security", "docs"}
	}
	if len(cfg.Review.Extensions) == 0 {
		cfg.Review.Extensions = []string{".go", ".py", ".js", ".ts"}
	}
	if cfg.Review.MaxFileBytes == 0 {
		cfg.Review.MaxFileBytes = 1 << 20
	}
	if cfg.Review.SweepSeconds == 0 {
		cfg.Review.SweepSeconds = 30
	}
	if cfg.Review.StaleAfterMinute == 0 {
		cfg.Review.StaleAfterMinute = 30
	}
	if cfg.GitHub.CredentialEnv == "" {
		cfg.GitHub.CredentialEnv = "GITHUB_TOKEN"
	}
	if cfg.Analysis.Model == "" {
		cfg.Analysis.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Analysis.SynthesisModel == "" {
		cfg.Analysis.SynthesisModel = "claude-sonnet-4-20250514"
	}
	if cfg.Analysis.MaxTokens == 0 {
		cfg.Analysis.MaxTokens = 4096
	}
}
