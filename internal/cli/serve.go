package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/remote"
)

// shutdownTimeout bounds the graceful shutdown of the mock server.
const shutdownTimeout = 5 * time.Second

// ServeMockOptions holds flags for the serve-mock command.
type ServeMockOptions struct {
	*RootOptions
	Addr  string
	Token string

	// ready receives the bound address once the server listens (for testing).
	ready chan<- string
}

// NewServeMockCommand creates the serve-mock command.
func NewServeMockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeMockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Serve an in-memory remote authority over HTTP",
		Long: `Serve the sync HTTP API from memory, for trying the client without a
real backend. Data is lost when the server stops.

Example:
  fieldsync serve-mock --addr 127.0.0.1:8765 --token dev-token
  fieldsync login dev-token && fieldsync sync`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeMock(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (defaults to listen_addr from the config)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "only accept requests bearing this token (any token when empty)")

	return cmd
}

func runServeMock(opts *ServeMockOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	addr := opts.Addr
	if addr == "" {
		cfg, err := config.Load(opts.Config)
		if err != nil {
			_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, ErrCodeConfig+": invalid configuration", err)
		}
		addr = cfg.ListenAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return formatter.Fail("listen", err)
	}

	logger := slog.Default()
	srv := &http.Server{
		Handler:           remote.NewHandler(remote.NewMemory(remote.WithToken(opts.Token)), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	bound := ln.Addr().String()
	logger.Info("mock remote listening", "addr", bound, "token_required", opts.Token != "")
	fmt.Fprintf(cmd.OutOrStdout(), "Mock remote listening on http://%s. Press Ctrl-C to stop.\n", bound)
	if opts.ready != nil {
		opts.ready <- bound
	}

	select {
	case err := <-errCh:
		return formatter.Fail("serve", err)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return formatter.Fail("shutdown", err)
	}
	logger.Info("mock remote stopped")
	return nil
}
