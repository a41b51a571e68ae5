// Package config loads chatpilot settings: defaults, then a YAML file, then
// CHATPILOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/chatpilot/internal/discovery"
	"github.com/shehryarbajwa/chatpilot/internal/poller"
	"github.com/shehryarbajwa/chatpilot/internal/session"
	"github.com/shehryarbajwa/chatpilot/internal/submit"
)

// DefaultConfigFile is the YAML file read when no path is given
const DefaultConfigFile = "chatpilot.yaml"

// Config is the full settings tree
type Config struct {
	StateDir  string              `yaml:"state_dir"`
	Browser   Browser             `yaml:"browser"`
	Poll      Poll                `yaml:"poll"`
	Selectors discovery.Selectors `yaml:"selectors"`
	Composer  submit.Composer     `yaml:"composer"`
	Runs      Runs                `yaml:"runs"`
	Server    Server              `yaml:"server"`
	Logging   Logging             `yaml:"logging"`
}

// Browser locates the remote browser and the chat
type Browser struct {
	Endpoint          string `yaml:"endpoint"`
	ChatURL           string `yaml:"chat_url"`
	Origin            string `yaml:"origin"`
	CookieJar         string `yaml:"cookie_jar"`
	AllowCookieErrors bool   `yaml:"allow_cookie_errors"`
}

// Poll tunes completion detection
type Poll struct {
	Interval      time.Duration `yaml:"interval"`
	StableSamples int           `yaml:"stable_samples"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Runs bounds the engine
type Runs struct {
	MaxConcurrent int64 `yaml:"max_concurrent"`
}

// Server configures the read-only session API
type Server struct {
	Addr            string `yaml:"addr"`
	RequestsPerHour int    `yaml:"requests_per_hour"`
	Burst           int    `yaml:"burst"`
	CORSOrigin      string `yaml:"cors_origin"`
}

// Logging selects level and encoding
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Defaults returns the built-in settings
func Defaults() Config {
	stateDir := ".chatpilot"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".chatpilot")
	}
	return Config{
		StateDir: stateDir,
		Browser: Browser{
			Endpoint: "127.0.0.1:9222",
			ChatURL:  "https://chatgpt.com/",
			Origin:   "https://chatgpt.com",
		},
		Poll: Poll{
			Interval:      poller.DefaultInterval,
			StableSamples: poller.DefaultStableSamples,
			Timeout:       session.DefaultTimeout,
		},
		Selectors: discovery.DefaultSelectors(),
		Composer:  submit.DefaultComposer(),
		Runs:      Runs{MaxConcurrent: 4},
		Server: Server{
			Addr:            ":8080",
			RequestsPerHour: 3600,
			Burst:           60,
			CORSOrigin:      "*",
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads .env if present, then DefaultConfigFile
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom applies defaults < YAML at path < environment. A missing YAML
// file or .env file is not an error.
func LoadFrom(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	setString(&cfg.StateDir, "CHATPILOT_STATE_DIR")
	setString(&cfg.Browser.Endpoint, "CHATPILOT_BROWSER_ENDPOINT")
	setString(&cfg.Browser.ChatURL, "CHATPILOT_CHAT_URL")
	setString(&cfg.Browser.Origin, "CHATPILOT_ORIGIN")
	setString(&cfg.Browser.CookieJar, "CHATPILOT_COOKIE_JAR")
	setBool(&cfg.Browser.AllowCookieErrors, "CHATPILOT_ALLOW_COOKIE_ERRORS")
	setDuration(&cfg.Poll.Interval, "CHATPILOT_POLL_INTERVAL")
	setInt(&cfg.Poll.StableSamples, "CHATPILOT_POLL_STABLE_SAMPLES")
	setDuration(&cfg.Poll.Timeout, "CHATPILOT_POLL_TIMEOUT")
	setInt64(&cfg.Runs.MaxConcurrent, "CHATPILOT_MAX_CONCURRENT")
	setString(&cfg.Server.Addr, "CHATPILOT_SERVER_ADDR")
	setInt(&cfg.Server.RequestsPerHour, "CHATPILOT_RATE_PER_HOUR")
	setInt(&cfg.Server.Burst, "CHATPILOT_RATE_BURST")
	setString(&cfg.Server.CORSOrigin, "CHATPILOT_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "CHATPILOT_LOG_LEVEL")
	setBool(&cfg.Logging.JSON, "CHATPILOT_LOG_JSON")
}

func validate(cfg *Config) error {
	if cfg.StateDir == "" {
		return errors.New("state_dir is required")
	}
	if cfg.Poll.Interval <= 0 {
		return errors.New("poll.interval must be > 0")
	}
	if cfg.Poll.StableSamples < 1 {
		return errors.New("poll.stable_samples must be >= 1")
	}
	if cfg.Poll.Timeout <= 0 {
		return errors.New("poll.timeout must be > 0")
	}
	if cfg.Runs.MaxConcurrent < 1 {
		return errors.New("runs.max_concurrent must be >= 1")
	}
	if cfg.Server.Burst < 1 {
		return errors.New("server.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
