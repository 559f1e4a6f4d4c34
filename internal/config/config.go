package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "CONFIG_PATH"
	EnvDBConn     = "DB_CONNECTION"
	EnvAPIBaseURL = "BLOCKA_API_URL"
)

// Defaults applied when the config file omits a value.
const (
	defaultDatabaseDSN   = "blocka-agent.db"
	defaultListenAddr    = "127.0.0.1:8573"
	defaultAPITimeout    = 15 * time.Second
	defaultDailyInterval = 24 * time.Hour
)

// Config holds the resolved agent configuration.
type Config struct {
	API struct {
		BaseURL string        `yaml:"base-url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Sync struct {
		DailyInterval time.Duration `yaml:"daily-interval"`
		DeviceAlias   string        `yaml:"device-alias"`
	} `yaml:"sync"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
			trimmed = env
		} else {
			trimmed = "./config.yaml"
		}
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file, fills defaults, and applies environment
// overrides. A missing file is not an error; the defaults describe a
// self-contained on-device setup.
func Load(configPath string) (Config, error) {
	var cfg Config

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case os.IsNotExist(errRead):
		// defaults only
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDBConn)); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if base := strings.TrimSpace(os.Getenv(EnvAPIBaseURL)); base != "" {
		cfg.API.BaseURL = base
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = defaultDatabaseDSN
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = defaultListenAddr
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = defaultAPITimeout
	}
	if cfg.Sync.DailyInterval <= 0 {
		cfg.Sync.DailyInterval = defaultDailyInterval
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Sync.DeviceAlias) == "" {
		if hostname, errHost := os.Hostname(); errHost == nil {
			cfg.Sync.DeviceAlias = hostname
		}
	}
	return cfg, nil
}
