package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/repository"
	"github.com/gusmmm/theparser/internal/restapi"
)

// serve runs the status API until ctx is cancelled.
func serve(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("theparser serve", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	addr := fs.String("http-addr", "", "listen address for the status API")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, logger, err := common.load(fs, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fs.Changed("http-addr") {
		cfg.HTTPAddr = *addr
	}

	var (
		repo repository.Repository
		db   *sql.DB
	)
	if cfg.IndexDSN != "" {
		d, r, err := openIndex(ctx, cfg.IndexDSN)
		if err != nil {
			logger.Warn("index unavailable, serving without it", slog.String("error", err.Error()))
		} else {
			defer d.Close()
			defer r.Close()
			db, repo = d, r
		}
	}

	scanner := newScanner(cfg, &eventlog.Store{Logger: logger})
	var pinger restapi.Pinger
	if db != nil {
		pinger = db
	}
	handler := restapi.NewHandler(scanner, repo, pinger, cfg.ReportDir, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr), slog.String("root", cfg.Root))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP serve", slog.String("error", err.Error()))
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("HTTP server stopped")
	return 0
}
