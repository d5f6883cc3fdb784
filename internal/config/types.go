// Package config loads and validates the copilot YAML configuration.
package config

// Config is the top-level configuration structure parsed from copilot YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Queue    QueueConfig    `yaml:"queue"`
	Retry    RetryConfig    `yaml:"retry"`
	Review   ReviewConfig   `yaml:"review"`
	GitHub   GitHubConfig   `yaml:"github"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig tunes message delivery.
type QueueConfig struct {
	LeaseSeconds int `yaml:"lease_seconds"`
	PollMillis   int `yaml:"poll_millis"`
}

// RetryConfig tunes the transient-failure retry wrapper.
type RetryConfig struct {
	MaxAttempts     int  `yaml:"max_attempts"`
	BaseDelayMillis int  `yaml:"base_delay_millis"`
	MaxDelaySeconds int  `yaml:"max_delay_seconds"`
	Jitter          bool `yaml:"jitter"`
}

// ReviewConfig defines the specialist fan-out and content filters.
type ReviewConfig struct {
	Roles            []string `yaml:"roles"`
	Extensions       []string `yaml:"extensions"`
	MaxFileBytes     int64    `yaml:"max_file_bytes"`
	SweepSeconds     int      `yaml:"sweep_seconds"`
	StaleAfterMinute int      `yaml:"stale_after_minutes"`
}

// GitHubConfig configures the content source and posting sink. The token
// itself comes from the env var named by CredentialEnv.
type GitHubConfig struct {
	APIURL        string `yaml:"api_url"`
	CredentialEnv string `yaml:"credential_env"`
}

// AnalysisConfig selects the analysis models.
type AnalysisConfig struct {
	Model          string `yaml:"model"`
	SynthesisModel string `yaml:"synthesis_model"`
	MaxTokens      int    `yaml:"max_tokens"`
}
