// Package config loads runtime settings from a YAML file, an optional .env
// file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Server     ServerConfig     `yaml:"server"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LLMConfig selects and authenticates the oracle.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// APIKeyEnv names an environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

// GenerationConfig holds the empirically tuned batching and retry constants.
type GenerationConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`
	Retry      RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	ServerDelayBuffer time.Duration `yaml:"server_delay_buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			MaxConcurrentJobs: 2,
			// Worst case: several batches, each with a full retry budget.
			JobTimeout:     30 * time.Minute,
			MaxUploadBytes: 20 << 20,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Generation: GenerationConfig{
			BatchSize:  40,
			BatchPause: 2 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:       5,
				BaseDelay:         3 * time.Second,
				MaxDelay:          120 * time.Second,
				ServerDelayBuffer: 2 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// providerKeyEnv lists the conventional API key variables per provider.
var providerKeyEnv = map[string][]string{
	"gemini":   {"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"},
	"openai":   {"OPENAI_API_KEY"},
	"deepseek": {"DEEPSEEK_API_KEY"},
}

// Load reads path (if it exists), then .env, then environment overrides,
// and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}
	cfg.LLM.APIKey = resolveAPIKey(cfg.LLM)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setString("LOGBOOK_LLM_PROVIDER", &cfg.LLM.Provider)
	setString("LOGBOOK_LLM_MODEL", &cfg.LLM.Model)
	setString("LOGBOOK_LLM_API_KEY", &cfg.LLM.APIKey)
	setString("LOGBOOK_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("LOGBOOK_SERVER_ADDR", &cfg.Server.Addr)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)

	if v := os.Getenv("LOGBOOK_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for LOGBOOK_BATCH_SIZE=%q: %w", v, err)
		}
		cfg.Generation.BatchSize = n
	}
	if v := os.Getenv("LOGBOOK_BATCH_PAUSE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid value for LOGBOOK_BATCH_PAUSE=%q: %w", v, err)
		}
		cfg.Generation.BatchPause = d
	}
	return nil
}

func resolveAPIKey(llm LLMConfig) string {
	if llm.APIKey != "" {
		return llm.APIKey
	}
	if llm.APIKeyEnv != "" {
		if v := os.Getenv(llm.APIKeyEnv); v != "" {
			return v
		}
	}
	for _, name := range providerKeyEnv[strings.ToLower(llm.Provider)] {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports every problem at once. A missing API key is not an error
// here: the mock provider needs none, and real clients refuse to start without one.
func (c Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "openai", "mock":
	case "deepseek":
		if c.LLM.BaseURL == "" {
			errs = append(errs, "llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
	default:
		errs = append(errs, fmt.Sprintf("llm provider %q not supported", c.LLM.Provider))
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.MaxConcurrentJobs <= 0 {
		errs = append(errs, "server.max_concurrent_jobs must be positive")
	}
	if c.Server.JobTimeout <= 0 {
		errs = append(errs, "server.job_timeout must be positive")
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, "server.max_upload_bytes must be positive")
	}

	if c.Generation.BatchSize <= 0 {
		errs = append(errs, "generation.batch_size must be positive")
	}
	if c.Generation.BatchPause < 0 {
		errs = append(errs, "generation.batch_pause must be non-negative")
	}
	r := c.Generation.Retry
	if r.MaxAttempts < 0 {
		errs = append(errs, "generation.retry.max_attempts must be non-negative")
	}
	if r.BaseDelay <= 0 || r.MaxDelay <= 0 {
		errs = append(errs, "generation.retry delays must be positive")
	}
	if r.BaseDelay > r.MaxDelay {
		errs = append(errs, fmt.Sprintf("generation.retry.base_delay (%s) must be <= max_delay (%s)", r.BaseDelay, r.MaxDelay))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
