// Package config provides configuration for the tutoring orchestrator.
//
// Configuration is read from a YAML file (snaptutor.yaml by default)
// with ${ENV_VAR} substitution in string values, then overridden by a
// small set of environment variables for deploy-time knobs.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RestartPolicy controls what happens to in-flight stages when a new
// image arrives mid-cycle.
type RestartPolicy string

const (
	// RestartCancel cancels in-flight model calls for the superseded cycle.
	RestartCancel RestartPolicy = "cancel"
	// RestartDrain lets in-flight calls finish but discards their results.
	RestartDrain RestartPolicy = "drain"
)

// ModelConfig holds the settings for one model role.
type ModelConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

// Timeout returns the per-call timeout for this role.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// ModelsConfig groups the three model roles.
type ModelsConfig struct {
	Vision ModelConfig `yaml:"vision"`
	Deep   ModelConfig `yaml:"deep"`
	Quick  ModelConfig `yaml:"quick"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBackoffMS   int           `yaml:"retry_backoff_ms"`
	RestartPolicy    RestartPolicy `yaml:"restart_policy"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// RetryBackoff returns the base backoff between stage retries.
func (p PipelineConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMS) * time.Millisecond
}

// RegistryConfig holds session lifecycle settings.
type RegistryConfig struct {
	IdleTimeoutS     int `yaml:"idle_timeout_s"`
	JanitorIntervalS int `yaml:"janitor_interval_s"`
}

// IdleTimeout returns how long a session may stay idle before eviction.
func (r RegistryConfig) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutS) * time.Second
}

// JanitorInterval returns how often the eviction sweep runs.
func (r RegistryConfig) JanitorInterval() time.Duration {
	return time.Duration(r.JanitorIntervalS) * time.Second
}

// StoreConfig holds trace store settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Models   ModelsConfig   `yaml:"models"`
	Persona  string         `yaml:"persona"` // opaque persona/style prompt
	Pipeline PipelineConfig `yaml:"pipeline"`
	Registry RegistryConfig `yaml:"registry"`
	Store    StoreConfig    `yaml:"store"`
}

// Default returns the built-in defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Models = ModelsConfig{
		Vision: ModelConfig{Model: "doubao-1-5-vision-pro-32k", Temperature: 0.3, MaxTokens: 2048, TimeoutMS: 60000},
		Deep:   ModelConfig{Model: "doubao-1-5-pro-32k", Temperature: 0.7, MaxTokens: 8192, TimeoutMS: 120000},
		Quick:  ModelConfig{Model: "doubao-1-5-lite-32k", Temperature: 0.5, MaxTokens: 1024, TimeoutMS: 30000},
	}
	cfg.Pipeline = PipelineConfig{
		RetryAttempts:    3,
		RetryBackoffMS:   200,
		RestartPolicy:    RestartCancel,
		SubscriberBuffer: 64,
	}
	cfg.Registry = RegistryConfig{IdleTimeoutS: 3600, JanitorIntervalS: 60}
	cfg.Store = StoreConfig{Enabled: true, Path: "snaptutor.db"}
	return cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnv replaces ${VAR} references with the environment values.
func substituteEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads the config file at path (SNAPTUTOR_CONFIG, then
// "snaptutor.yaml", when empty). A missing file yields the defaults so
// the server can run fully env-configured.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("SNAPTUTOR_CONFIG", "snaptutor.yaml")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(substituteEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = getEnvInt("HTTP_PORT", cfg.Server.Port)
	cfg.Store.Path = getEnv("DATABASE_PATH", cfg.Store.Path)
	if key := os.Getenv("VISION_API_KEY"); key != "" {
		cfg.Models.Vision.APIKey = key
	}
	if key := os.Getenv("DEEP_API_KEY"); key != "" {
		cfg.Models.Deep.APIKey = key
	}
	if key := os.Getenv("QUICK_API_KEY"); key != "" {
		cfg.Models.Quick.APIKey = key
	}
}

func (c *Config) validate() error {
	switch c.Pipeline.RestartPolicy {
	case RestartCancel, RestartDrain:
	default:
		return fmt.Errorf("invalid restart_policy %q", c.Pipeline.RestartPolicy)
	}
	if c.Pipeline.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1, got %d", c.Pipeline.RetryAttempts)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
