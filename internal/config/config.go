// Package config loads the sockframe binary configuration from a TOML file
// and SOCKFRAME_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/andrei-cloud/sockframe"
	"github.com/andrei-cloud/sockframe/server"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOCKFRAME_"

// noneValue disables a duration setting in files and the environment.
const noneValue = "none"

// ErrExists indicates WriteTemplate refused to overwrite a file.
var ErrExists = errors.New("config file already exists")

type RotationConfig struct {
	Enable     bool   `toml:"enable"`
	Filename   string `toml:"filename"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type LogConfig struct {
	Level    string         `toml:"level"`
	Format   string         `toml:"format"` // console or json
	Outputs  []string       `toml:"outputs"`
	Rotation RotationConfig `toml:"rotation"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Addr            string
	Timeout         time.Duration
	MaxConns        int
	PoolSize        int
	LeakThreshold   time.Duration
	ShutdownTimeout time.Duration
	KeepAlive       time.Duration
	EventHistory    int
	AdminAddr       string
	Log             LogConfig
}

// fileConfig is the on-disk layout. Durations are strings so that "none"
// can disable them.
type fileConfig struct {
	Addr            string    `toml:"addr"`
	Timeout         string    `toml:"timeout"`
	MaxConns        int       `toml:"max_conns"`
	PoolSize        int       `toml:"pool_size"`
	LeakThreshold   string    `toml:"leak_threshold"`
	ShutdownTimeout string    `toml:"shutdown_timeout"`
	KeepAlive       string    `toml:"keep_alive"`
	EventHistory    int       `toml:"event_history"`
	AdminAddr       string    `toml:"admin_addr"`
	Log             LogConfig `toml:"log"`
}

func Default() Config {
	return Config{
		Addr:            ":9000",
		Timeout:         sockframe.NoTimeout,
		MaxConns:        server.DefaultMaxConns,
		PoolSize:        0,
		LeakThreshold:   server.DefaultLeakThreshold,
		ShutdownTimeout: server.DefaultShutdownTimeout,
		KeepAlive:       server.DefaultKeepAliveInterval,
		EventHistory:    server.DefaultEventHistory,
		AdminAddr:       "",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 1,
				MaxAgeDays: 7,
			},
		},
	}
}

// Load overlays the file at path (if any) and the environment onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("timeout") {
		if cfg.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("max_conns") {
		cfg.MaxConns = raw.MaxConns
	}
	if meta.IsDefined("pool_size") {
		cfg.PoolSize = raw.PoolSize
	}
	if meta.IsDefined("leak_threshold") {
		if cfg.LeakThreshold, err = parseDuration("leak_threshold", raw.LeakThreshold); err != nil {
			return err
		}
	}
	if meta.IsDefined("shutdown_timeout") {
		if cfg.ShutdownTimeout, err = parseDuration("shutdown_timeout", raw.ShutdownTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("keep_alive") {
		if cfg.KeepAlive, err = parseDuration("keep_alive", raw.KeepAlive); err != nil {
			return err
		}
	}
	if meta.IsDefined("event_history") {
		cfg.EventHistory = raw.EventHistory
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("log", "outputs") {
		cfg.Log.Outputs = raw.Log.Outputs
	}
	if meta.IsDefined("log", "rotation") {
		rot := raw.Log.Rotation
		if !meta.IsDefined("log", "rotation", "max_size_mb") {
			rot.MaxSizeMB = cfg.Log.Rotation.MaxSizeMB
		}
		if !meta.IsDefined("log", "rotation", "max_backups") {
			rot.MaxBackups = cfg.Log.Rotation.MaxBackups
		}
		if !meta.IsDefined("log", "rotation", "max_age_days") {
			rot.MaxAgeDays = cfg.Log.Rotation.MaxAgeDays
		}
		cfg.Log.Rotation = rot
	}

	return nil
}

// applyEnv reads SOCKFRAME_* overrides through lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := parseDuration(EnvPrefix+key, v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}

	str("ADDR", &cfg.Addr)
	str("ADMIN_ADDR", &cfg.AdminAddr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	if v, ok := lookup(EnvPrefix + "LOG_OUTPUTS"); ok {
		cfg.Log.Outputs = splitList(v)
	}

	return errors.Join(
		num("MAX_CONNS", &cfg.MaxConns),
		num("POOL_SIZE", &cfg.PoolSize),
		num("EVENT_HISTORY", &cfg.EventHistory),
		dur("TIMEOUT", &cfg.Timeout),
		dur("LEAK_THRESHOLD", &cfg.LeakThreshold),
		dur("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout),
		dur("KEEP_ALIVE", &cfg.KeepAlive),
	)
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("max_conns must not be negative, got %d", c.MaxConns))
	}
	if c.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("pool_size must not be negative, got %d", c.PoolSize))
	}
	if c.EventHistory < 0 {
		errs = append(errs, fmt.Errorf("event_history must not be negative, got %d", c.EventHistory))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.LeakThreshold < 0 && c.LeakThreshold != sockframe.NoTimeout {
		errs = append(errs, errors.New("leak_threshold must not be negative"))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// ServerConfig maps c onto the listener configuration.
func (c Config) ServerConfig(logger sockframe.Logger, metrics *server.Metrics) *server.ServerConfig {
	return &server.ServerConfig{
		Timeout:           c.Timeout,
		MaxConns:          c.MaxConns,
		PoolSize:          c.PoolSize,
		ShutdownTimeout:   c.ShutdownTimeout,
		KeepAliveInterval: c.KeepAlive,
		LeakThreshold:     c.LeakThreshold,
		EventHistory:      c.EventHistory,
		Logger:            logger,
		Metrics:           metrics,
	}
}

// WriteTemplate writes the default configuration to path. An existing file
// is only replaced when force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(toFile(Default())); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return f.Close()
}

func toFile(c Config) fileConfig {
	return fileConfig{
		Addr:            c.Addr,
		Timeout:         formatDuration(c.Timeout),
		MaxConns:        c.MaxConns,
		PoolSize:        c.PoolSize,
		LeakThreshold:   formatDuration(c.LeakThreshold),
		ShutdownTimeout: formatDuration(c.ShutdownTimeout),
		KeepAlive:       formatDuration(c.KeepAlive),
		EventHistory:    c.EventHistory,
		AdminAddr:       c.AdminAddr,
		Log:             c.Log,
	}
}

func parseDuration(key, v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, noneValue) {
		return sockframe.NoTimeout, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return noneValue
	}
	return d.String()
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
