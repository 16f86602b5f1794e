// Package config loads the engine configuration from an optional CUE file.
//
// The file holds plain top-level fields (pending_lock: "10s"). It is
// unified with the embedded #Config schema, which supplies defaults and
// constraints, validated for concreteness and decoded into Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/optisync/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config is the validated engine configuration.
type Config struct {
	PendingLock     time.Duration
	TombstoneLock   time.Duration
	CreationLock    time.Duration
	RefreshDebounce time.Duration
	CacheTTL        time.Duration

	CacheBackend string
	CachePath    string
	PostgresDSN  string

	RemoteURL   string
	RemoteToken string
	Collection  string

	UserID   string
	TenantID string

	LogLevel string
}

// rawConfig mirrors #Config before durations are parsed.
type rawConfig struct {
	PendingLock     string `json:"pending_lock"`
	TombstoneLock   string `json:"tombstone_lock"`
	CreationLock    string `json:"creation_lock"`
	RefreshDebounce string `json:"refresh_debounce"`
	CacheTTL        string `json:"cache_ttl"`
	CacheBackend    string `json:"cache_backend"`
	CachePath       string `json:"cache_path"`
	PostgresDSN     string `json:"postgres_dsn"`
	RemoteURL       string `json:"remote_url"`
	RemoteToken     string `json:"remote_token"`
	Collection      string `json:"collection"`
	UserID          string `json:"user_id"`
	TenantID        string `json:"tenant_id"`
	LogLevel        string `json:"log_level"`
}

// Error reports an invalid configuration.
type Error struct {
	// Path is the file the configuration came from, if any.
	Path string

	// Err is the underlying CUE or validation error.
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConfigError returns true if err is an invalid-configuration error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Default returns the configuration an empty file produces.
func Default() Config {
	cfg, err := Parse(nil, "")
	if err != nil {
		// The embedded schema is fixed at build time.
		panic(fmt.Sprintf("config: default schema invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the CUE file at path. An empty path returns
// Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates CUE source against the schema. filename is used in
// error positions only.
func Parse(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, &Error{Path: "schema.cue", Err: err}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def
	if len(data) > 0 {
		user := ctx.CompileBytes(data, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, &Error{Path: filename, Err: err}
		}
		v = def.Unify(user)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, &Error{Path: filename, Err: err}
	}

	var raw rawConfig
	if err := v.Decode(&raw); err != nil {
		return Config{}, &Error{Path: filename, Err: err}
	}

	cfg, err := raw.resolve()
	if err != nil {
		return Config{}, &Error{Path: filename, Err: err}
	}
	return cfg, nil
}

func (r rawConfig) resolve() (Config, error) {
	cfg := Config{
		CacheBackend: r.CacheBackend,
		CachePath:    strings.TrimSpace(r.CachePath),
		PostgresDSN:  strings.TrimSpace(r.PostgresDSN),
		RemoteURL:    strings.TrimSpace(r.RemoteURL),
		RemoteToken:  r.RemoteToken,
		Collection:   r.Collection,
		UserID:       r.UserID,
		TenantID:     r.TenantID,
		LogLevel:     r.LogLevel,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"pending_lock", r.PendingLock, &cfg.PendingLock},
		{"tombstone_lock", r.TombstoneLock, &cfg.TombstoneLock},
		{"creation_lock", r.CreationLock, &cfg.CreationLock},
		{"refresh_debounce", r.RefreshDebounce, &cfg.RefreshDebounce},
		{"cache_ttl", r.CacheTTL, &cfg.CacheTTL},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s: must be positive, got %s", d.name, d.raw)
		}
		*d.dst = parsed
	}

	switch cfg.CacheBackend {
	case BackendSQLite, BackendBadger:
		if cfg.CachePath == "" {
			return Config{}, fmt.Errorf("cache_path is required for the %s backend", cfg.CacheBackend)
		}
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, errors.New("postgres_dsn is required for the postgres backend")
		}
	}
	return cfg, nil
}

// Identity returns the identity the cache is scoped to.
func (c Config) Identity() model.Identity {
	return model.Identity{UserID: c.UserID, TenantID: c.TenantID}
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
