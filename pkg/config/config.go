// Package config reads process configuration from the environment, after
// loading a .env file from the working directory when one exists.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by gate-admin and gatectl. Command-line
// flags override these values.
type Config struct {
	// Addr is the admin server listen address.
	Addr string
	// Store selects the route store backend: memory, consul or mysql.
	Store      string
	ConsulAddr string
	// MaxNodes caps the node group size of a rule. Zero means unlimited.
	MaxNodes  int
	LogLevel  string
	LogFormat string
	// Server is the admin server base URL the console talks to.
	Server string
	// Journal is the sqlite file for the console operation journal. Empty disables it.
	Journal string
	// TLS is the server key pair and client CA on gate-admin, and the
	// trusted CA plus client key pair on gatectl.
	TLS   TLS
	MySQL MySQL
}

type MySQL struct {
	DSN      string
	Host     string
	Port     string
	User     string
	Pass     string
	Database string
}

const DefaultMaxNodes = 5

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Config{
		Addr:       getenv("GATE_ADDR", ":8080"),
		Store:      getenv("GATE_STORE", "memory"),
		ConsulAddr: getenv("GATE_CONSUL_ADDR", ""),
		MaxNodes:   DefaultMaxNodes,
		LogLevel:   getenv("GATE_LOG_LEVEL", "info"),
		LogFormat:  getenv("GATE_LOG_FORMAT", "text"),
		Server:     getenv("GATE_SERVER", "http://127.0.0.1:8080"),
		Journal:    getenv("GATE_JOURNAL", ""),
		TLS: TLS{
			Cert: os.Getenv("GATE_TLS_CERT"),
			Key:  os.Getenv("GATE_TLS_KEY"),
			CA:   os.Getenv("GATE_TLS_CA"),
		},
		MySQL: MySQL{
			DSN:      os.Getenv("MYSQL_DSN"),
			Host:     getenv("MYSQL_HOST", "127.0.0.1"),
			Port:     getenv("MYSQL_PORT", "3306"),
			User:     getenv("MYSQL_USER", "root"),
			Pass:     getenv("MYSQL_PASS", ""),
			Database: getenv("MYSQL_DB", "gate_console"),
		},
	}
	if v := os.Getenv("GATE_MAX_NODES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("GATE_MAX_NODES: invalid value %q", v)
		}
		cfg.MaxNodes = n
	}
	switch cfg.Store {
	case "memory", "consul", "mysql":
	default:
		return Config{}, fmt.Errorf("GATE_STORE: unknown backend %q", cfg.Store)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err == nil {
		return godotenv.Load(path)
	}
	return nil
}
