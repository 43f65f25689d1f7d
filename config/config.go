// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Security  SecurityConfig  `yaml:"security"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type StoreConfig struct {
	Type   string       `yaml:"type"`
	Redis  RedisConfig  `yaml:"redis"`
	Badger BadgerConfig `yaml:"badger"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BadgerConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type SecurityConfig struct {
	DefaultPreset   string        `yaml:"default_preset"`
	ChainID         string        `yaml:"chain_id"`
	ServerKey       string        `yaml:"server_key"`
	SignatureMaxAge time.Duration `yaml:"signature_max_age"`
	FutureSkew      time.Duration `yaml:"future_skew"`
}

type SchedulerConfig struct {
	GracePeriod   time.Duration `yaml:"grace_period"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	ReadPerMin     int  `yaml:"read_per_min"`
}

var (
	storeTypes = map[string]bool{"memory": true, "redis": true, "badger": true}
	presets    = map[string]bool{"maximum": true, "high": true, "medium": true}
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			DefaultPreset:   "high",
			ChainID:         "xrpl-mainnet",
			SignatureMaxAge: 24 * time.Hour,
			FutureSkew:      5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			GracePeriod:   time.Second,
			SweepInterval: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
			ReadPerMin:     20,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}

	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("BADGER_PATH"); v != "" {
		c.Store.Badger.Path = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	if v := os.Getenv("DEFAULT_PRESET"); v != "" {
		c.Security.DefaultPreset = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		c.Security.ChainID = v
	}
	if v := os.Getenv("SERVER_KEY"); v != "" {
		c.Security.ServerKey = v
	}

	if v := os.Getenv("GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.GracePeriod = d
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.SweepInterval = d
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_READ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.ReadPerMin = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	if !storeTypes[c.Store.Type] {
		return fmt.Errorf("invalid store type: %s (must be 'memory', 'redis' or 'badger')", c.Store.Type)
	}

	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when store type is 'redis'")
	}

	if c.Store.Type == "badger" && c.Store.Badger.Path == "" {
		return fmt.Errorf("badger path is required when store type is 'badger'")
	}

	if !presets[c.Security.DefaultPreset] {
		return fmt.Errorf("unknown default_preset: %s", c.Security.DefaultPreset)
	}

	if c.Security.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}

	if n := len(c.Security.ServerKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return fmt.Errorf("server_key must be 16, 24 or 32 bytes; got %d", n)
	}

	if c.Security.SignatureMaxAge <= 0 || c.Security.FutureSkew <= 0 {
		return fmt.Errorf("signature_max_age and future_skew must be positive")
	}

	if c.Scheduler.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}

	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMin < 1 || c.RateLimit.ReadPerMin < 1) {
		return fmt.Errorf("rate limits must be at least 1 when enabled")
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
