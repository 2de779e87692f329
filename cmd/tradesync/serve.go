package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/tradesync/internal/server"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ui"
)

type serveCmd struct {
	common commonFlags
	addr   string
	noAuth bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "Serve an HTTP API that starts and streams runs." }
func (*serveCmd) Usage() string {
	return `serve [flags]:
  Listen for sync requests. POST /api/sync starts a run, its progress streams
  from GET /api/sync/{id}/events. Requests need a Firebase ID token unless
  auth is disabled.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	c.common.register(f)
	f.StringVar(&c.addr, "addr", "", "Listen address (default from config)")
	f.BoolVar(&c.noAuth, "no-auth", false, "Accept requests without a Firebase ID token")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := setup(ctx, &c.common)
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	opts := server.Options{Runner: a.runner, Logger: a.logger}
	if a.history != nil {
		opts.History = a.history
	}
	if a.cfg.Server.RequireAuth && !c.noAuth {
		if a.history == nil {
			printError(fmt.Errorf("authentication needs a firestore project; set FIRESTORE_PROJECT or pass -no-auth"))
			return subcommands.ExitUsageError
		}
		opts.Verifier = a.history.Auth
	} else {
		a.logger.Warn("serving without authentication")
	}

	addr := c.addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := server.New(ctx, opts)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ui.Header("Trade Sync API")
	ui.KeyValue("Listening", addr)
	ui.KeyValue("Input", a.cfg.Input)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			printError(err)
			return subcommands.ExitFailure
		}
	case <-ctx.Done():
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown incomplete", "error", err)
		}
	}
	srv.Wait()
	return subcommands.ExitSuccess
}
