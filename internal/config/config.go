// Package config loads Nalyze's environment-only configuration.
//
// Configuration is environment variables only (spec §6) — no config
// files, no CLI flags. Priority is simply: default -> environment. The
// loader uses viper's AutomaticEnv binding the way
// CrlsMrls-dummybox/config.New does, trimmed down to drop the pflag
// layer dummybox adds on top, since Nalyze has no CLI surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AIMode is the master switch for external intent extraction (spec §4.4.1, §6).
type AIMode string

const (
	AIModeOn  AIMode = "on"
	AIModeOff AIMode = "off"
)

// HTTPConfig holds server-level timeouts, adapted from gomind's
// core.Config.HTTP sub-struct.
type HTTPConfig struct {
	Port              int
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// ExecutorConfig holds the query executor's row caps and timeout, per
// spec §4.2 and §4.1 (L_max / L_exec, default/ceiling query timeout).
type ExecutorConfig struct {
	QueryTimeout        time.Duration
	QueryTimeoutCeiling time.Duration
	LMax                int // validator hard row ceiling (raw /queries/execute)
	LExec               int // planner-generated query row cap
}

// Config is Nalyze's full runtime configuration.
type Config struct {
	AIMode     AIMode
	aiAPIKey   string // never logged, never serialized
	AIBaseURL  string
	AIModel    string
	AppDataDir string
	HTTP       HTTPConfig
	Executor   ExecutorConfig
	LogLevel   string
	LogFormat  string // "json" | "text"
}

// AIAPIKey returns the configured provider key. Callers must never log
// the returned value.
func (c *Config) AIAPIKey() string { return c.aiAPIKey }

// AIConfigured reports whether AI mode is on and an API key is present —
// the third leg of the 4.4.1 invocation policy (AI Assist ON,
// confidence < 0.8, key set).
func (c *Config) AIConfigured() bool {
	return c.AIMode == AIModeOn && c.aiAPIKey != ""
}

// String redacts the API key, matching the "never logged in any form"
// requirement in spec §6.
func (c *Config) String() string {
	keyState := "unset"
	if c.aiAPIKey != "" {
		keyState = "set"
	}
	return fmt.Sprintf(
		"Config{AIMode:%s AIKey:%s AppDataDir:%s HTTPPort:%d QueryTimeout:%s}",
		c.AIMode, keyState, c.AppDataDir, c.HTTP.Port, c.Executor.QueryTimeout,
	)
}

func defaultAppDataDir() string {
	if dir := os.Getenv("NALYZE_APP_DATA_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "nalyze")
}

// Load reads configuration from the environment. It never reads a
// config file and never parses CLI flags — Nalyze's configuration
// surface is environment-only (spec §6).
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("ai_mode", string(AIModeOff))
	v.SetDefault("ai_base_url", "https://api.openai.com/v1")
	v.SetDefault("ai_model", "gpt-4o-mini")
	v.SetDefault("http_port", 8080)
	v.SetDefault("http_read_timeout", "30s")
	v.SetDefault("http_read_header_timeout", "10s")
	v.SetDefault("http_write_timeout", "30s")
	v.SetDefault("http_idle_timeout", "120s")
	v.SetDefault("http_shutdown_timeout", "10s")
	v.SetDefault("query_timeout", "10s")
	v.SetDefault("query_timeout_ceiling", "30s")
	v.SetDefault("validator_l_max", 10000)
	v.SetDefault("executor_l_exec", 200)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "")

	v.SetEnvPrefix("NALYZE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		AIMode:     AIMode(strings.ToLower(v.GetString("ai_mode"))),
		aiAPIKey:   firstNonEmpty(os.Getenv("NALYZE_AI_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		AIBaseURL:  v.GetString("ai_base_url"),
		AIModel:    v.GetString("ai_model"),
		AppDataDir: defaultAppDataDir(),
		HTTP: HTTPConfig{
			Port:              v.GetInt("http_port"),
			ReadTimeout:       v.GetDuration("http_read_timeout"),
			ReadHeaderTimeout: v.GetDuration("http_read_header_timeout"),
			WriteTimeout:      v.GetDuration("http_write_timeout"),
			IdleTimeout:       v.GetDuration("http_idle_timeout"),
			ShutdownTimeout:   v.GetDuration("http_shutdown_timeout"),
		},
		Executor: ExecutorConfig{
			QueryTimeout:        v.GetDuration("query_timeout"),
			QueryTimeoutCeiling: v.GetDuration("query_timeout_ceiling"),
			LMax:                v.GetInt("validator_l_max"),
			LExec:               v.GetInt("executor_l_exec"),
		},
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	if cfg.LogFormat == "" {
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			cfg.LogFormat = "json"
		} else {
			cfg.LogFormat = "text"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.AppDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating app data directory %s: %w", cfg.AppDataDir, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AIMode != AIModeOn && c.AIMode != AIModeOff {
		return fmt.Errorf("NALYZE_AI_MODE must be %q or %q, got %q", AIModeOn, AIModeOff, c.AIMode)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Executor.QueryTimeout <= 0 || c.Executor.QueryTimeout > c.Executor.QueryTimeoutCeiling {
		return fmt.Errorf("query_timeout (%s) must be positive and <= query_timeout_ceiling (%s)",
			c.Executor.QueryTimeout, c.Executor.QueryTimeoutCeiling)
	}
	if c.Executor.LExec <= 0 || c.Executor.LExec > c.Executor.LMax {
		return fmt.Errorf("executor_l_exec (%d) must be positive and <= validator_l_max (%d)",
			c.Executor.LExec, c.Executor.LMax)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
