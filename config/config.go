package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	TinyGuardian TinyGuardianConfig `yaml:"tinyguardian"`
}

// TinyGuardianConfig is the project configuration.
type TinyGuardianConfig struct {
	Input      InputConfig      `yaml:"input"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Guard      GuardConfig      `yaml:"guard"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Rules      RulesConfig      `yaml:"rules"`
	Severity   SeverityConfig   `yaml:"severity"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls the inbound event feed.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls the Redis pub/sub subscriber.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Patterns []string `yaml:"patterns"`
}

// PipelineConfig controls orchestrator behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// GuardConfig controls fingerprint deduplication and cooldown.
type GuardConfig struct {
	Cooldown            time.Duration `yaml:"cooldown"`
	EscalationThreshold float64       `yaml:"escalation_threshold"`
	Capacity            int           `yaml:"capacity"`
}

// ClassifierConfig controls the reasoning engine adapter.
type ClassifierConfig struct {
	Provider    string        `yaml:"provider"` // ollama|lmstudio|fallback
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Concurrency int           `yaml:"concurrency"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the adapter circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration"`
	HalfOpenMax      int           `yaml:"half_open_max"`
}

// RulesConfig controls the local rule-based classifier. The built-in
// keyword engine is always active; a Sigma rule path adds rule matches
// on top of it.
type RulesConfig struct {
	SigmaEnabled bool   `yaml:"sigma_enabled"`
	SigmaPath    string `yaml:"sigma_path"`
}

// SeverityConfig controls severity scoring and alerting threshold.
type SeverityConfig struct {
	AlertThreshold float64            `yaml:"alert_threshold"`
	BaseScores     map[string]float64 `yaml:"base_scores"`
}

// StoreConfig controls alert persistence.
type StoreConfig struct {
	Mode         string         `yaml:"mode"` // memory|postgres
	EventHistory int            `yaml:"event_history"`
	Postgres     PostgresConfig `yaml:"postgres"`
}

// PostgresConfig config for the Postgres store backend.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig controls the dashboard API server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
