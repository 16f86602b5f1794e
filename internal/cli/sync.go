package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/config"
	"github.com/roach88/optisync/internal/engine"
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/remote"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch    bool
	Interval time.Duration
}

// ViewResult is the produced view of a collection.
type ViewResult struct {
	Collection string         `json:"collection"`
	Scope      string         `json:"scope"`
	WarmStart  bool           `json:"warm_start"`
	Entities   []model.Entity `json:"entities"`
}

func (v ViewResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d entities", v.Collection, len(v.Entities))
	if v.WarmStart {
		b.WriteString(", warm start")
	}
	b.WriteString(")\n")
	for _, e := range v.Entities {
		data, err := model.MarshalCanonical(e.Fields)
		if err != nil {
			data = []byte(fmt.Sprintf("<%v>", err))
		}
		fmt.Fprintf(&b, "  %s %s\n", e.ID, data)
	}
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the configured collection from the remote",
		Long: `Warm-start the configured collection from the durable cache,
refresh it from the remote and print the resulting view.

With --watch the session keeps running: it refreshes every --interval,
logs every snapshot and reloads the log level when the config file
changes. Stop it with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep syncing until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 30*time.Second, "refresh interval with --watch")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	if cfg.UserID == "" {
		return f.Fail(ExitCommandError, ErrCodeIdentity, "user_id is not configured", nil)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())
	logger := opts.newLogger(cmd.ErrOrStderr(), level)

	c, err := openCache(cfg, logger)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeCache, "open cache", err)
	}
	session, err := newSession(cfg, remote.NewHTTPClient(cfg.RemoteURL, cfg.RemoteToken, nil), c, logger)
	if err != nil {
		_ = c.Close()
		return f.Fail(ExitCommandError, ErrCodeSync, "create session", err)
	}

	ctx := cmd.Context()
	warm, startErr := session.WarmStart(ctx)
	if startErr == nil {
		_, startErr = session.Refresh(ctx)
	}
	session.Flush()

	if !opts.Watch {
		closeErr := session.Close()
		if startErr != nil {
			return f.Fail(ExitFailure, ErrCodeSync, "refresh failed", startErr)
		}
		if closeErr != nil {
			logger.Warn("close session", "error", closeErr)
		}
		return f.Success(ViewResult{
			Collection: cfg.Collection,
			Scope:      string(session.Scope()),
			WarmStart:  warm,
			Entities:   session.View(),
		})
	}

	if startErr != nil {
		logger.Warn("initial refresh failed", "error", startErr)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = watchSession(ctx, opts, session, level, logger)
	if cerr := session.Close(); cerr != nil {
		logger.Warn("close session", "error", cerr)
	}
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeSync, "sync stopped", err)
	}
	return nil
}

// watchSession delivers snapshots, refreshes on a ticker and follows the
// config file until ctx is done.
func watchSession(ctx context.Context, opts *SyncOptions, session *engine.Session, level *slog.LevelVar, logger *slog.Logger) error {
	unsubscribe := session.Subscribe(func(snap engine.Snapshot) {
		logger.Info("snapshot",
			"seq", snap.Seq,
			"reason", snap.Reason,
			"entities", len(snap.View),
		)
	})
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := session.Refresh(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("refresh failed", "error", err)
				}
			}
		}
	})
	if opts.ConfigPath != "" {
		g.Go(func() error {
			err := config.Watch(ctx, opts.ConfigPath, logger, func(cfg config.Config) {
				level.Set(cfg.SlogLevel())
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// newSession builds a session for the configured collection and identity.
// The session owns c.
func newSession(cfg config.Config, r remote.Remote, c *cache.Cache, logger *slog.Logger) (*engine.Session, error) {
	return engine.New(r, cfg.Collection,
		engine.WithCache(c),
		engine.WithCacheTTL(cfg.CacheTTL),
		engine.WithLogger(logger),
		engine.WithIdentity(cfg.Identity()),
		engine.WithLocks(cfg.PendingLock, cfg.TombstoneLock, cfg.CreationLock),
		engine.WithRefreshDebounce(cfg.RefreshDebounce),
	)
}
