package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"rugrow/server/internal/rtdb"
	"rugrow/server/internal/writer"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Writer    writer.Config   `yaml:"writer"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
	Paths     PathsConfig     `yaml:"paths"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins 是允许跨域访问（含 WebSocket）的前端来源。
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig 实时存储配置。
type StoreConfig struct {
	// Driver 决定持久化方式：memory | sqlite
	Driver     string     `yaml:"driver"`
	SQLitePath string     `yaml:"sqlite_path"`
	Rules      rtdb.Rules `yaml:"rules"`
}

type DashboardConfig struct {
	DefaultWaterAmountML float64       `yaml:"default_water_amount_ml"`
	SettleTimeout        time.Duration `yaml:"settle_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type PathsConfig struct {
	// Seed 为空时不写入演示数据。
	Seed string `yaml:"seed"`
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Default 返回本地可跑的默认配置。
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			AllowedOrigins: []string{"http://localhost:9002", "http://127.0.0.1:9002"},
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "data/rugrow.db",
		},
		Writer: writer.Config{
			Capacity:     100,
			WriteTimeout: 10 * time.Second,
		},
		Dashboard: DashboardConfig{
			DefaultWaterAmountML: 250,
			SettleTimeout:        2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "CONSOLE",
			Output: "stdout",
		},
	}
}

// Load 从文件加载配置，未出现的字段保留默认值，再用环境变量覆盖。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if host := os.Getenv("RUGROW_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("RUGROW_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("parse RUGROW_PORT: %w", err)
		}
		c.Server.Port = n
	}
	if driver := os.Getenv("RUGROW_STORE_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if p := os.Getenv("RUGROW_SQLITE_PATH"); p != "" {
		c.Store.SQLitePath = p
	}
	if level := os.Getenv("LOGGING_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOGGING_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory or sqlite)", c.Store.Driver)
	}
	if c.Dashboard.DefaultWaterAmountML <= 0 {
		return fmt.Errorf("dashboard.default_water_amount_ml must be positive")
	}
	if c.Dashboard.SettleTimeout <= 0 {
		return fmt.Errorf("dashboard.settle_timeout must be positive")
	}
	return nil
}
