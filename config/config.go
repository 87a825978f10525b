// Package config loads engine settings from YAML.
//
//	dialect: postgres
//	dsn: postgres://app@localhost/app?sslmode=disable
//	pool:
//	  max_open: 20
//	  max_idle: 5
//	  conn_max_lifetime: 30m
//	  contexts: 128
//	slow_threshold: 250ms
//	logging:
//	  level: info
//	  format: json
//	  statements: true
//	cache_defaults:
//	  size_limit: 512
//	cache:
//	  users:
//	    enabled: true
//	    flush_interval: 5m
//
// Statement definitions are not part of the file; they are registered in
// code through mapping.Builder.
package config

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/cache"
	"github.com/JinHo-von-Choi/nuvatis-sub001/contrib/interceptors"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
	_ "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/mysql"
	_ "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/postgres"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
	_ "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sqlite"
	"github.com/JinHo-von-Choi/nuvatis-sub001/executor"
)

// Config is the file representation of engine settings.
type Config struct {
	// Dialect names a registered dialect: postgres, mysql or sqlite.
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`

	Pool PoolConfig `yaml:"pool,omitempty"`

	// SlowThreshold reports statements running longer, when positive.
	SlowThreshold time.Duration `yaml:"slow_threshold,omitempty"`
	// Stats wraps the driver with statement counters.
	Stats bool `yaml:"stats,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty"`

	// CacheDefaults applies to regions without an entry in Cache.
	CacheDefaults *nuvatis.CacheConfig `yaml:"cache_defaults,omitempty"`
	// Cache tunes the regions of namespaces. Whether a namespace is cached
	// is decided by its definition; a disabled entry here turns it off.
	Cache map[string]nuvatis.CacheConfig `yaml:"cache,omitempty"`
}

// PoolConfig holds connection pool and engine pool settings.
type PoolConfig struct {
	MaxOpen         int           `yaml:"max_open,omitempty"`
	MaxIdle         int           `yaml:"max_idle,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty"`
	// Contexts is the number of idle execution contexts kept by the engine.
	Contexts int `yaml:"contexts,omitempty"`
}

// LoggingConfig selects the engine logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default is info.
	Level string `yaml:"level,omitempty"`
	// Format is text or json. Default is text.
	Format string `yaml:"format,omitempty"`
	// Statements logs every statement through interceptors.Logging.
	Statements bool `yaml:"statements,omitempty"`
	// Args includes bound values in statement logs.
	Args bool `yaml:"args,omitempty"`
	// Driver logs every driver call at debug level.
	Driver bool `yaml:"driver,omitempty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &nuvatis.ConfigurationError{Msg: "parse config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := nuvatis.NewConfigurationError
	if c.Dialect != "" {
		if _, err := dialect.Get(c.Dialect); err != nil {
			return &nuvatis.ConfigurationError{Subject: "dialect", Msg: "unsupported dialect", Err: err}
		}
		if c.DSN == "" {
			return invalid("dsn", "required with dialect %q", c.Dialect)
		}
	}
	switch {
	case c.SlowThreshold < 0:
		return invalid("slow_threshold", "must not be negative")
	case c.Pool.MaxOpen < 0, c.Pool.MaxIdle < 0, c.Pool.Contexts < 0:
		return invalid("pool", "sizes must not be negative")
	case c.Pool.ConnMaxLifetime < 0, c.Pool.ConnMaxIdleTime < 0:
		return invalid("pool", "durations must not be negative")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return &nuvatis.ConfigurationError{Subject: "logging.level", Msg: "invalid level", Err: err}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return invalid("logging.format", "unknown format %q", c.Logging.Format)
	}
	for _, ns := range slices.Sorted(maps.Keys(c.Cache)) {
		if err := validateCache(c.Cache[ns]); err != nil {
			return invalid("cache."+ns, "%v", err)
		}
	}
	if c.CacheDefaults != nil {
		if err := validateCache(*c.CacheDefaults); err != nil {
			return invalid("cache_defaults", "%v", err)
		}
	}
	return nil
}

func validateCache(cfg nuvatis.CacheConfig) error {
	switch {
	case cfg.SizeLimit < 0:
		return errors.New("size_limit must not be negative")
	case cfg.FlushInterval < 0:
		return errors.New("flush_interval must not be negative")
	}
	switch cfg.Eviction {
	case "", nuvatis.EvictionLRU, nuvatis.EvictionFIFO:
		return nil
	default:
		return fmt.Errorf("unknown eviction %q", cfg.Eviction)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// Logger returns a logger writing to w as configured.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open opens the configured driver and applies the pool settings. The
// driver is wrapped by the stats and debug drivers when enabled.
func (c *Config) Open(l *slog.Logger) (dialect.Driver, error) {
	if c.Dialect == "" {
		return nil, &nuvatis.ConfigurationError{Subject: "dialect", Msg: "not configured"}
	}
	d, err := dialect.Get(c.Dialect)
	if err != nil {
		return nil, &nuvatis.ConfigurationError{Subject: "dialect", Msg: "unsupported dialect", Err: err}
	}
	drv, err := d.Open(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Dialect, err)
	}
	if db, ok := drv.(interface{ DB() *sql.DB }); ok {
		c.Pool.apply(db.DB())
	}
	if c.Stats {
		opts := []dsql.StatsOption{dsql.WithSlowQueryLog(l)}
		if c.SlowThreshold > 0 {
			opts = append(opts, dsql.WithSlowThreshold(c.SlowThreshold))
		}
		drv = dsql.NewStatsDriver(drv, opts...)
	}
	if c.Logging.Driver {
		drv = dsql.NewDebugDriver(drv, l)
	}
	return drv, nil
}

func (p PoolConfig) apply(db *sql.DB) {
	if p.MaxOpen > 0 {
		db.SetMaxOpenConns(p.MaxOpen)
	}
	if p.MaxIdle > 0 {
		db.SetMaxIdleConns(p.MaxIdle)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
}

// EngineOptions returns the executor options matching the configuration.
// drv may be nil for an engine that only renders.
func (c *Config) EngineOptions(drv dialect.Driver, l *slog.Logger) []executor.Option {
	if l == nil {
		l = slog.Default()
	}
	opts := []executor.Option{executor.WithLogger(l)}
	if drv != nil {
		opts = append(opts, executor.WithDriver(drv))
	}
	if c.Pool.Contexts > 0 {
		opts = append(opts, executor.WithPoolSize(c.Pool.Contexts))
	}
	if m := c.CacheManager(l); m != nil {
		opts = append(opts, executor.WithCache(m))
	}
	var ics []nuvatis.Interceptor
	if c.Logging.Statements {
		lopts := []interceptors.LoggingOption{}
		if c.Logging.Args {
			lopts = append(lopts, interceptors.WithArgs())
		}
		ics = append(ics, interceptors.Logging(l, lopts...))
	}
	if c.SlowThreshold > 0 && !c.Stats {
		ics = append(ics, interceptors.Slow(c.SlowThreshold, interceptors.SlowLog(l)))
	}
	if len(ics) > 0 {
		opts = append(opts, executor.WithInterceptors(ics...))
	}
	return opts
}

// CacheManager returns a cache.Manager holding the configured regions, or
// nil when the file configures no cache.
func (c *Config) CacheManager(l *slog.Logger) *cache.Manager {
	if len(c.Cache) == 0 && c.CacheDefaults == nil {
		return nil
	}
	opts := []cache.Option{cache.WithLogger(l)}
	if c.CacheDefaults != nil {
		d := *c.CacheDefaults
		d.Enabled = true
		opts = append(opts, cache.WithDefaults(d))
	}
	for ns, cfg := range c.Cache {
		opts = append(opts, cache.WithRegion(ns, cfg))
	}
	return cache.NewManager(opts...)
}
