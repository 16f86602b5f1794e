package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/cache"
)

// KeyList is the result of cache ls.
type KeyList struct {
	Scope string   `json:"scope"`
	Keys  []string `json:"keys"`
}

func (k KeyList) Text() string {
	if len(k.Keys) == 0 {
		return "No cached keys.\n"
	}
	return strings.Join(k.Keys, "\n") + "\n"
}

// PurgeResult is the result of cache purge.
type PurgeResult struct {
	Scope   string `json:"scope,omitempty"`
	All     bool   `json:"all,omitempty"`
	Removed int    `json:"removed"`
}

func (p PurgeResult) Text() string {
	where := ""
	if p.All {
		where = " across all scopes"
	}
	return fmt.Sprintf("Purged %d expired entr%s%s.\n", p.Removed, plural(p.Removed, "y", "ies"), where)
}

// cachedValue prints raw JSON in both formats.
type cachedValue []byte

func (v cachedValue) MarshalJSON() ([]byte, error) {
	return json.RawMessage(v).MarshalJSON()
}

func (v cachedValue) Text() string {
	return string(v) + "\n"
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the durable cache",
		Long: `Inspect the durable cache of the configured identity.

The backend, path and identity come from the config file. Only keys in
the identity's scope are visible.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls [prefix]",
		Short: "List cached keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withCache(rootOpts, cmd, func(ctx context.Context, c *cache.Cache, scope cache.ScopeKey) (any, error) {
				keys, err := c.Keys(ctx, scope, prefix)
				if err != nil {
					return nil, err
				}
				return KeyList{Scope: string(scope), Keys: keys}, nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value",
		Long: `Print a cached value as JSON. Collections are stored under
"collection/<name>".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(rootOpts, cmd, func(ctx context.Context, c *cache.Cache, scope cache.ScopeKey) (any, error) {
				data, err := c.Get(ctx, scope, args[0])
				if err != nil {
					return nil, err
				}
				return cachedValue(data), nil
			})
		},
	})

	var all bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired entries",
		Long: `Delete expired entries in the identity's scope. With --all, expired
entries of every scope in the backend are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(rootOpts, cmd, func(ctx context.Context, c *cache.Cache, scope cache.ScopeKey) (any, error) {
				if all {
					n, err := c.PurgeAll(ctx)
					if err != nil {
						return nil, err
					}
					return PurgeResult{All: true, Removed: n}, nil
				}
				n, err := c.Purge(ctx, scope)
				if err != nil {
					return nil, err
				}
				return PurgeResult{Scope: string(scope), Removed: n}, nil
			})
		},
	}
	purge.Flags().BoolVar(&all, "all", false, "purge every scope, not only the identity's")
	cmd.AddCommand(purge)

	return cmd
}

// withCache opens the configured cache, runs fn and reports its result.
func withCache(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *cache.Cache, cache.ScopeKey) (any, error)) (err error) {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	scope, err := scopeFor(cfg)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeIdentity, "resolve identity", err)
	}

	logger := opts.newLogger(cmd.ErrOrStderr(), cfg.SlogLevel())
	c, err := openCache(cfg, logger)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeCache, "open cache", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "close cache", cerr)
		}
	}()
	f.VerboseLog("cache backend %s, scope %s", cfg.CacheBackend, scope)

	result, err := fn(cmd.Context(), c, scope)
	if errors.Is(err, cache.ErrNotFound) {
		return f.Fail(ExitFailure, ErrCodeNotFound, "key not found", nil)
	}
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeCache, "cache operation failed", err)
	}
	return f.Success(result)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
