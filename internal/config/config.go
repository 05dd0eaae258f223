// Package config holds the settings of the vbuf shell and how they are
// loaded.
//
// Settings are layered: built-in defaults, then an optional config file
// (TOML, YAML, or JSON with comments, chosen by extension), then VBUF_*
// environment variables. Command-line flags are applied last by the caller.
//
// Example TOML:
//
//	[cache]
//	capacity_bytes = 16777216
//	block_size = 4096
//
//	[history]
//	max_retained_edits = 1000
//
//	[store]
//	backend = "sqlite"
//	path = "buffer.db"
//
//	[log]
//	level = "debug"
//	format = "json"
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/vbuf/internal/config/loader"
	"github.com/dshills/vbuf/internal/engine/cache"
	"github.com/dshills/vbuf/internal/engine/persist"
	"github.com/dshills/vbuf/internal/logging"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config is the complete configuration.
type Config struct {
	Cache   CacheConfig   `json:"cache"`
	History HistoryConfig `json:"history"`
	Store   StoreConfig   `json:"store"`
	Log     LogConfig     `json:"log"`
}

// CacheConfig configures the read cache.
type CacheConfig struct {
	// CapacityBytes bounds resident cache bytes. Zero disables caching.
	CapacityBytes int64 `json:"capacity_bytes"`
	// BlockSize is the alignment of regions loaded on a miss.
	BlockSize int64 `json:"block_size"`
}

// HistoryConfig configures edit history retention.
type HistoryConfig struct {
	// MaxRetainedEdits caps history kept while no cursor is live.
	// Zero keeps everything since the last cursor was released.
	MaxRetainedEdits int `json:"max_retained_edits"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend   string `json:"backend"`
	Path      string `json:"path"`
	ChunkSize int    `json:"chunk_size"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			CapacityBytes: 16 * 1024 * 1024,
			BlockSize:     cache.DefaultBlockSize,
		},
		Store: StoreConfig{
			Backend:   BackendMemory,
			ChunkSize: persist.MaxChunkSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText.String(),
		},
	}
}

// Load returns the defaults overlaid with the file at path. An empty path
// or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	l, err := loader.NewFileLoader(path)
	if err != nil {
		return nil, err
	}
	m, err := l.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.merge(path, m); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables named prefix + suffix, for
// example VBUF_CACHE_CAPACITY.
func (c *Config) ApplyEnv(prefix string) error {
	return c.applyLoader("environment", loader.NewEnvLoader(prefix))
}

func (c *Config) applyLoader(source string, l loader.Loader) error {
	m, err := l.Load()
	if err != nil {
		return err
	}
	return c.merge(source, m)
}

// merge decodes a generic settings map onto c. Settings absent from m keep
// their current values.
func (c *Config) merge(source string, m map[string]any) error {
	if len(m) == 0 {
		return nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding settings from %s: %w", source, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var terr *json.UnmarshalTypeError
		if errors.As(err, &terr) {
			return &ValidationError{
				Path:    terr.Field,
				Message: fmt.Sprintf("expected %s in %s", terr.Type, source),
				Value:   terr.Value,
			}
		}
		return fmt.Errorf("%s: %w: %v", source, ErrUnknownSetting, err)
	}
	return nil
}

// Validate checks every setting and returns the first problem found.
func (c *Config) Validate() error {
	switch {
	case c.Cache.CapacityBytes < 0:
		return &ValidationError{Path: "cache.capacity_bytes", Message: "must not be negative", Value: c.Cache.CapacityBytes}
	case c.Cache.BlockSize <= 0:
		return &ValidationError{Path: "cache.block_size", Message: "must be positive", Value: c.Cache.BlockSize}
	case c.History.MaxRetainedEdits < 0:
		return &ValidationError{Path: "history.max_retained_edits", Message: "must not be negative", Value: c.History.MaxRetainedEdits}
	case !slices.Contains([]string{BackendMemory, BackendSQLite}, c.Store.Backend):
		return &ValidationError{Path: "store.backend", Message: "must be memory or sqlite", Value: c.Store.Backend}
	case c.Store.Backend == BackendSQLite && c.Store.Path == "":
		return &ValidationError{Path: "store.path", Message: "required for the sqlite backend", Value: c.Store.Path}
	case c.Store.ChunkSize <= 0:
		return &ValidationError{Path: "store.chunk_size", Message: "must be positive", Value: c.Store.ChunkSize}
	}

	if !slices.Contains(levelNames, strings.ToLower(c.Log.Level)) {
		return &ValidationError{Path: "log.level", Message: "must be one of " + strings.Join(levelNames, ", "), Value: c.Log.Level}
	}
	if !slices.Contains(formatNames, strings.ToLower(c.Log.Format)) {
		return &ValidationError{Path: "log.format", Message: "must be text or json", Value: c.Log.Format}
	}
	return nil
}

var (
	levelNames  = []string{"debug", "info", "warn", "warning", "error"}
	formatNames = []string{"text", "json"}
)

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Log.Level)
	cfg.Format = logging.ParseFormat(c.Log.Format)
	return cfg
}
