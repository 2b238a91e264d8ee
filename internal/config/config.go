// Package config builds the daemon's single immutable Config record.
// Layering mirrors the teacher's load-then-merge Manager, generalized
// from two file layers to four: built-in defaults, an optional YAML
// file, TNT_* environment variables, and finally the -p flag — except
// for the port, where the PORT environment variable is given the final
// word, matching the literal precedence called out for it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved, immutable configuration every
// constructor in the daemon is built from. Never a package-level
// singleton: Load returns one value, threaded explicitly by main.
type Config struct {
	Port int `yaml:"port"`

	BindAddr       string `yaml:"bind_addr"`
	MaxConnections int    `yaml:"max_connections"`
	MaxConnPerIP   int    `yaml:"max_conn_per_ip"`
	RateLimit      bool   `yaml:"rate_limit"`
	AccessToken    string `yaml:"access_token"`
	LogLevelCode   int    `yaml:"ssh_log_level"`

	HostKeyPath    string `yaml:"host_key_path"`
	MessageLogPath string `yaml:"message_log_path"`
	LogFile        string `yaml:"log_file"`

	HistoryCap int `yaml:"history_cap"`
	RosterCap  int `yaml:"roster_cap"`
}

func defaults() Config {
	return Config{
		Port:           2222,
		BindAddr:       "0.0.0.0",
		MaxConnections: 64,
		MaxConnPerIP:   5,
		RateLimit:      true,
		AccessToken:    "",
		LogLevelCode:   2,
		HostKeyPath:    "host_key",
		MessageLogPath: "messages.log",
		LogFile:        "",
		HistoryCap:     100,
		RosterCap:      64,
	}
}

// Load resolves the Config from, lowest to highest precedence:
// built-in defaults, an optional "tnt.yaml" file in the working
// directory, TNT_* environment variables, and the -p/--port flag. The
// PORT environment variable, if set and valid, has the final word on
// the port specifically, overriding even the flag — an explicit
// exception to the general precedence order.
func Load(flags *pflag.FlagSet) (*Config, error) {
	cfg := defaults()

	if err := loadYAML("tnt.yaml", &cfg); err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	applyEnv(&cfg)

	if flags != nil {
		if port, err := flags.GetInt("port"); err == nil && flags.Changed("port") {
			cfg.Port = port
		}
	}

	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}

	return &cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv overlays TNT_* variables onto cfg. Out-of-range or
// unparseable values are ignored, leaving the prior layer's value in
// place, per spec.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TNT_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if n, ok := envInt("TNT_MAX_CONNECTIONS"); ok && n >= 1 && n <= 1024 {
		cfg.MaxConnections = n
		cfg.RosterCap = n
	}
	if n, ok := envInt("TNT_MAX_CONN_PER_IP"); ok && n >= 1 && n <= 100 {
		cfg.MaxConnPerIP = n
	}
	if n, ok := envInt("TNT_RATE_LIMIT"); ok && (n == 0 || n == 1) {
		cfg.RateLimit = n == 1
	}
	if v, present := os.LookupEnv("TNT_ACCESS_TOKEN"); present {
		cfg.AccessToken = v
	}
	if n, ok := envInt("TNT_SSH_LOG_LEVEL"); ok && n >= 0 && n <= 4 {
		cfg.LogLevelCode = n
	}
}

func envInt(key string) (int, bool) {
	raw, present := os.LookupEnv(key)
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
