// Package config loads the kollabd process configuration.
//
// Values come from defaults, then an optional JSON file, then KOLLAB_*
// environment variables. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sugawarayuuta/sonnet"

	"github.com/luciancaetano/kollab/internal/files"
)

type Config struct {
	// WSAddr is the listen address of the collaboration server.
	WSAddr string `json:"ws_addr"`
	// HTTPAddr is the listen address of the file API and editor page.
	HTTPAddr string `json:"http_addr"`

	// Storage selects the file backend: "fs" or "sqlite".
	Storage    string `json:"storage"`
	FilesDir   string `json:"files_dir"`
	SQLitePath string `json:"sqlite_path"`
	// StaticDir is searched for editor.html.
	StaticDir string `json:"static_dir"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	MaxPayloadSize int `json:"max_payload_size"`
	// RateLimit is the sustained messages per second allowed per session. 0 disables it.
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// AllowedOrigins restricts upgrade requests by Origin header. Empty allows all.
	AllowedOrigins      []string `json:"allowed_origins"`
	BroadcastFileChange bool     `json:"broadcast_file_change"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		WSAddr:         ":8081",
		HTTPAddr:       ":8080",
		Storage:        files.BackendFS,
		FilesDir:       "./files",
		SQLitePath:     "kollab.db",
		StaticDir:      ".",
		LogLevel:       "info",
		LogFormat:      "text",
		MaxPayloadSize: 16 << 20,
		RateLimit:      100,
		RateBurst:      200,
	}
}

// Load reads the JSON file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := sonnet.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"KOLLAB_WS_ADDR":     &c.WSAddr,
		"KOLLAB_HTTP_ADDR":   &c.HTTPAddr,
		"KOLLAB_STORAGE":     &c.Storage,
		"KOLLAB_FILES_DIR":   &c.FilesDir,
		"KOLLAB_SQLITE_PATH": &c.SQLitePath,
		"KOLLAB_STATIC_DIR":  &c.StaticDir,
		"KOLLAB_LOG_LEVEL":   &c.LogLevel,
		"KOLLAB_LOG_FORMAT":  &c.LogFormat,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("KOLLAB_RATE_LIMIT"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("KOLLAB_RATE_LIMIT: %w", err)
		}
		c.RateLimit = n
	}
	if v := os.Getenv("KOLLAB_MAX_PAYLOAD_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KOLLAB_MAX_PAYLOAD_SIZE: %w", err)
		}
		c.MaxPayloadSize = n
	}
	if v := os.Getenv("KOLLAB_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("KOLLAB_BROADCAST_FILE_CHANGE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KOLLAB_BROADCAST_FILE_CHANGE: %w", err)
		}
		c.BroadcastFileChange = b
	}
	return nil
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	var errs []error

	if c.WSAddr == "" {
		errs = append(errs, errors.New("ws_addr is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}

	switch c.Storage {
	case files.BackendFS:
		if c.FilesDir == "" {
			errs = append(errs, errors.New("files_dir is required for fs storage"))
		}
	case files.BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for sqlite storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage must be %q or %q, got %q", files.BackendFS, files.BackendSQLite, c.Storage))
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.MaxPayloadSize <= 0 {
		errs = append(errs, errors.New("max_payload_size must be positive"))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate_limit and rate_burst must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		errs = append(errs, errors.New("rate_burst is required when rate_limit is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// OriginAllowed reports whether origin may open a collaboration session.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}
