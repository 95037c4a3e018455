// Package config defines runtime settings for the server: defaults, optional
// .env overlay, environment variables, and command-line flags, applied in
// that order.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server's runtime settings.
type Config struct {
	TCPAddr       string        // bind address of the task-board TCP endpoint
	HTTPAddr      string        // bind address of the registration/notification endpoint
	DataDir       string        // root of the persisted users/projects layout
	MaxDatagram   int           // upper bound (exclusive) for chat datagrams, bytes
	LogLevel      string        // debug, info, warn, error
	LogDev        bool          // development logger encoding
	ShutdownGrace time.Duration // how long shutdown waits for cleanup
}

// Default returns development defaults.
func Default() Config {
	return Config{
		TCPAddr:       ":2500",
		HTTPAddr:      ":6789",
		DataDir:       "./database",
		MaxDatagram:   65536,
		LogLevel:      "info",
		ShutdownGrace: 5 * time.Second,
	}
}

// Load builds a Config from defaults, a best-effort .env file, environment
// variables and finally the given command-line arguments.
func Load(args []string) (Config, error) {
	cfg := Default()

	// best-effort: absence of .env is not an error
	_ = godotenv.Load()
	applyEnv(&cfg)

	fs := flag.NewFlagSet("worth-server", flag.ContinueOnError)
	fs.StringVar(&cfg.TCPAddr, "tcp", cfg.TCPAddr, "TCP bind address")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP bind address")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory")
	fs.IntVar(&cfg.MaxDatagram, "max-datagram", cfg.MaxDatagram, "chat datagram size limit (bytes)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WORTH_TCP_ADDR"); v != "" {
		cfg.TCPAddr = v
	}
	if v := os.Getenv("WORTH_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("WORTH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("WORTH_MAX_DATAGRAM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxDatagram = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if os.Getenv("LOG_DEV") == "1" {
		cfg.LogDev = true
	}
	if v := os.Getenv("WORTH_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownGrace = d
		}
	}
}
