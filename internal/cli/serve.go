package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/remote"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
	Seed string // JSON array of entities for the configured collection
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory remote for local testing",
		Long: `Serve an in-memory authoritative server over the same JSON API the
sync client speaks, plus Prometheus metrics on /metrics.

Examples:
  optisync serve --addr 127.0.0.1:8080 --seed tasks.json
  optisync sync --config optisync.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd, nil)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "JSON file of entities to preload")

	return cmd
}

// runServe serves until ctx is done. ready, if non-nil, receives the bound
// address once the listener is open.
func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command, ready chan<- string) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	logger := opts.newLogger(cmd.ErrOrStderr(), cfg.SlogLevel())

	server := remote.NewMemory(clock.System{})
	if opts.Seed != "" {
		entities, err := loadSeed(opts.Seed)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "load seed", err)
		}
		server.Seed(cfg.Collection, entities...)
		logger.Info("seeded", "collection", cfg.Collection, "entities", len(entities))
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", remote.Handler(server, logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "listen", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("serving", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return f.Fail(ExitFailure, ErrCodeGeneric, "serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	return nil
}

func loadSeed(path string) ([]model.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var entities []model.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("seed entity %q: %w", e.ID, err)
		}
	}
	return entities, nil
}

