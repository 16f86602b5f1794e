package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/config"
)

// ConfigView is the printable form of a config. Secrets are redacted.
type ConfigView struct {
	PendingLock     string `json:"pending_lock"`
	TombstoneLock   string `json:"tombstone_lock"`
	CreationLock    string `json:"creation_lock"`
	RefreshDebounce string `json:"refresh_debounce"`
	CacheTTL        string `json:"cache_ttl"`
	CacheBackend    string `json:"cache_backend"`
	CachePath       string `json:"cache_path,omitempty"`
	PostgresDSN     string `json:"postgres_dsn,omitempty"`
	RemoteURL       string `json:"remote_url"`
	RemoteToken     string `json:"remote_token,omitempty"`
	Collection      string `json:"collection"`
	UserID          string `json:"user_id,omitempty"`
	TenantID        string `json:"tenant_id,omitempty"`
	LogLevel        string `json:"log_level"`
}

func newConfigView(cfg config.Config) ConfigView {
	return ConfigView{
		PendingLock:     cfg.PendingLock.String(),
		TombstoneLock:   cfg.TombstoneLock.String(),
		CreationLock:    cfg.CreationLock.String(),
		RefreshDebounce: cfg.RefreshDebounce.String(),
		CacheTTL:        cfg.CacheTTL.String(),
		CacheBackend:    cfg.CacheBackend,
		CachePath:       cfg.CachePath,
		PostgresDSN:     redact(cfg.PostgresDSN),
		RemoteURL:       cfg.RemoteURL,
		RemoteToken:     redact(cfg.RemoteToken),
		Collection:      cfg.Collection,
		UserID:          cfg.UserID,
		TenantID:        cfg.TenantID,
		LogLevel:        cfg.LogLevel,
	}
}

func (v ConfigView) Text() string {
	var b strings.Builder
	row := func(k, val string) {
		if val != "" {
			fmt.Fprintf(&b, "%-17s %s\n", k, val)
		}
	}
	row("pending_lock", v.PendingLock)
	row("tombstone_lock", v.TombstoneLock)
	row("creation_lock", v.CreationLock)
	row("refresh_debounce", v.RefreshDebounce)
	row("cache_ttl", v.CacheTTL)
	row("cache_backend", v.CacheBackend)
	row("cache_path", v.CachePath)
	row("postgres_dsn", v.PostgresDSN)
	row("remote_url", v.RemoteURL)
	row("remote_token", v.RemoteToken)
	row("collection", v.Collection)
	row("user_id", v.UserID)
	row("tenant_id", v.TenantID)
	row("log_level", v.LogLevel)
	return b.String()
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

// ValidateResult is the result of config validate.
type ValidateResult struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
}

func (r ValidateResult) Text() string {
	return fmt.Sprintf("✓ %s is valid\n", r.Path)
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and show configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Check a config file against the schema",
		Long: `Check a CUE config file against the embedded schema without
starting anything. Defaults to --config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return f.Fail(ExitCommandError, ErrCodeConfig, "no config file given", nil)
			}
			if _, err := config.Load(path); err != nil {
				return f.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
			}
			return f.Success(ValidateResult{Path: path, Valid: true})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
			}
			return f.Success(newConfigView(cfg))
		},
	})

	return cmd
}
