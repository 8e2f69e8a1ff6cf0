package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/credential"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/store"
)

// app bundles the collaborators a command works with.
type app struct {
	cfg     config.Config
	store   *store.Store
	keyring *credential.FileKeyring
}

// openApp loads the configuration and opens the local database and the
// keyring. Failures are reported through the formatter.
func openApp(opts *RootOptions, formatter *OutputFormatter) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig+": invalid configuration", err)
	}
	formatter.VerboseLog("database: %s", cfg.DatabasePath)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, formatter.Fail("open database", err)
	}

	kr, err := credential.NewFileKeyring(cfg.CredentialDir, nil)
	if err != nil {
		st.Close()
		return nil, formatter.Fail("open keyring", err)
	}

	return &app{cfg: cfg, store: st, keyring: kr}, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// orchestrator builds an Orchestrator against the configured remote.
func (a *app) orchestrator(conn connectivity.Checker) (*engine.Orchestrator, error) {
	logger := slog.Default()
	return engine.New(engine.Deps{
		Store:        a.store,
		Remote:       remote.NewClient(a.cfg.RemoteURL, remote.WithClientLogger(logger)),
		Connectivity: conn,
		Keyring:      a.keyring,
		Logger:       logger,
	},
		engine.WithWorkers(a.cfg.Workers),
		engine.WithMaxRetries(a.cfg.MaxRetries),
		engine.WithSkew(a.cfg.SkewBuffer),
		engine.WithPolicy(a.cfg.Policy()),
		engine.WithPageSize(a.cfg.PageSize),
		engine.WithRequestTimeout(a.cfg.RequestTimeout),
		engine.WithInterval(a.cfg.SyncInterval),
		engine.WithRetryPolicy(engine.RetryPolicy{
			Initial: a.cfg.BackoffInitial,
			Max:     a.cfg.BackoffMax,
			Jitter:  engine.DefaultRetryPolicy.Jitter,
		}),
	)
}

// prober builds a connectivity prober for the configured health endpoint.
func (a *app) prober(online bool) (*connectivity.Monitor, *connectivity.Prober) {
	monitor := connectivity.NewMonitor(online)
	return monitor, connectivity.NewProber(a.cfg.HealthURL, a.cfg.ProbeInterval, monitor, nil)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, or when
// the command's own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, cancel
}

// commandContext returns the command's context or a background one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
