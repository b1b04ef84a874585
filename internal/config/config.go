// Package config loads and validates the workbench's YAML configuration
// through a layered load → default → env-override → validate pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Proxy     ProxyConfig     `yaml:"proxy"`
	Intercept InterceptConfig `yaml:"intercept"`
	Rules     []RuleConfig    `yaml:"rules"`
	Storage   StorageConfig   `yaml:"storage"`
	Fuzzer    FuzzerConfig    `yaml:"fuzzer"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Control   ControlConfig   `yaml:"control"`
}

type ProxyConfig struct {
	ListenAddr             string `yaml:"listen_addr"`
	MITMEnabled            bool   `yaml:"mitm_enabled"`
	CACertFile             string `yaml:"ca_cert_file"`
	CAKeyFile              string `yaml:"ca_key_file"`
	UpstreamTimeoutSeconds int    `yaml:"upstream_timeout_seconds"`
}

type InterceptConfig struct {
	Enabled       bool          `yaml:"enabled"`
	HoldRequests  bool          `yaml:"hold_requests"`
	HoldResponses bool          `yaml:"hold_responses"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RuleConfig struct {
	Name        string `yaml:"name"`
	Scope       string `yaml:"scope"`
	MatchType   string `yaml:"match_type"`
	MatchHeader string `yaml:"match_header"`
	Pattern     string `yaml:"pattern"`
	IsRegex     bool   `yaml:"is_regex"`
	Action       string `yaml:"action"`
	ActionName   string `yaml:"action_name"`
	ActionTarget string `yaml:"action_target"`
	ActionValue  string `yaml:"action_value"`
	Priority     int    `yaml:"priority"`
	Enabled      bool   `yaml:"enabled"`
}

type StorageConfig struct {
	Driver string       `yaml:"driver"` // "sqlite" or "redis"
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type FuzzerConfig struct {
	DefaultConcurrency int           `yaml:"default_concurrency"`
	DefaultDelay       time.Duration `yaml:"default_delay"`
	DefaultTimeout     time.Duration `yaml:"default_timeout"`
}

type CrawlerConfig struct {
	DefaultThreads int           `yaml:"default_threads"`
	DefaultDelay   time.Duration `yaml:"default_delay"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	RespectRobots  bool          `yaml:"respect_robots"`
}

type ScannerConfig struct {
	GlobalConcurrency int           `yaml:"global_concurrency"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Exporter     string `yaml:"exporter"` // "otlp", "stdout", "none"
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type ControlConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Defaults() *Config {
	return &Config{
		Proxy: ProxyConfig{
			ListenAddr:             ":8888",
			MITMEnabled:            true,
			CACertFile:             "intercept-ca.pem",
			CAKeyFile:              "intercept-ca.key",
			UpstreamTimeoutSeconds: 30,
		},
		Intercept: InterceptConfig{
			Enabled:       false,
			HoldRequests:  true,
			HoldResponses: false,
			Timeout:       5 * time.Minute,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "intercept.db"},
		},
		Fuzzer: FuzzerConfig{
			DefaultConcurrency: 10,
			DefaultDelay:       0,
			DefaultTimeout:     30 * time.Second,
		},
		Crawler: CrawlerConfig{
			DefaultThreads: 5,
			DefaultDelay:   0,
			DefaultTimeout: 30 * time.Second,
			RespectRobots:  true,
		},
		Scanner: ScannerConfig{
			GlobalConcurrency: 10,
			RequestTimeout:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "intercept",
		},
		Control: ControlConfig{
			ListenAddr: ":8889",
		},
	}
}

// Load reads path, falling back to built-in defaults if it does not
// exist, then applies INTERCEPT_*-prefixed environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTERCEPT_PROXY_LISTEN_ADDR"); v != "" {
		cfg.Proxy.ListenAddr = v
	}
	if v := os.Getenv("INTERCEPT_CONTROL_LISTEN_ADDR"); v != "" {
		cfg.Control.ListenAddr = v
	}
	if v := os.Getenv("INTERCEPT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("INTERCEPT_STORAGE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("INTERCEPT_STORAGE_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("INTERCEPT_MITM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Proxy.MITMEnabled = b
		}
	}
	if v := os.Getenv("INTERCEPT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Proxy.ListenAddr == "" {
		return fmt.Errorf("proxy.listen_addr must be set")
	}
	if c.Proxy.MITMEnabled && (c.Proxy.CACertFile == "" || c.Proxy.CAKeyFile == "") {
		return fmt.Errorf("proxy.mitm_enabled requires ca_cert_file and ca_key_file")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set when driver is sqlite")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set when driver is redis")
		}
	default:
		return fmt.Errorf("storage.driver must be \"sqlite\" or \"redis\", got %q", c.Storage.Driver)
	}
	if !strings.EqualFold(c.Logging.Format, "json") && !strings.EqualFold(c.Logging.Format, "text") {
		return fmt.Errorf("logging.format must be \"json\" or \"text\"")
	}
	switch c.Telemetry.Exporter {
	case "otlp", "stdout", "none", "":
	default:
		return fmt.Errorf("telemetry.exporter must be one of otlp, stdout, none")
	}
	return nil
}
