package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/kollab"
	"github.com/luciancaetano/kollab/internal/config"
	"github.com/luciancaetano/kollab/internal/files"
	"github.com/luciancaetano/kollab/internal/httpapi"
	"github.com/luciancaetano/kollab/ws"
)

const shutdownTimeout = 10 * time.Second

// daemon owns the two listeners and the file store.
type daemon struct {
	logger *slog.Logger
	store  files.Store
	collab kollab.Server
	http   *http.Server

	httpLn net.Listener
	errCh  chan error
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	store, err := files.Open(cfg.Storage, cfg.FilesDir, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	rateLimit := ws.NoRateLimit()
	if cfg.RateLimit > 0 {
		rateLimit = &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.RateLimit),
			Burst:             cfg.RateBurst,
			Enabled:           true,
		}
	}

	wsCfg := ws.NewConfig(cfg.WSAddr, rateLimit,
		func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
		func(s kollab.Session) {
			logger.Debug("editor connected", "session_id", s.ID(), "remote_addr", s.RemoteAddr())
		},
		func(s kollab.Session, voluntary bool) {
			logger.Debug("editor disconnected", "session_id", s.ID(), "username", s.Username(), "voluntary", voluntary)
		},
	)
	wsCfg.Logger = logger.With("component", "collab")
	wsCfg.MaxPayloadSize = cfg.MaxPayloadSize
	wsCfg.BroadcastFileChange = cfg.BroadcastFileChange

	api := httpapi.New(store, httpapi.Config{
		StaticDir: cfg.StaticDir,
		Logger:    logger.With("component", "http"),
	})

	return &daemon{
		logger: logger,
		store:  store,
		collab: ws.New(wsCfg),
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		errCh: make(chan error, 1),
	}, nil
}

// Start binds both listeners. Either failing leaves nothing running.
func (d *daemon) Start(ctx context.Context) error {
	if err := d.collab.Start(ctx); err != nil {
		return fmt.Errorf("start collaboration server: %w", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", d.http.Addr)
	if err != nil {
		d.collab.Stop(ctx)
		return fmt.Errorf("listen on %s: %w", d.http.Addr, err)
	}
	d.httpLn = ln

	go func() {
		if err := d.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.errCh <- err
		}
	}()

	d.logger.Info("kollabd started", "ws_addr", d.collab.Addr(), "http_addr", ln.Addr().String())
	return nil
}

func (d *daemon) HTTPAddr() string {
	return d.httpLn.Addr().String()
}

// Err reports a fatal HTTP server error.
func (d *daemon) Err() <-chan error {
	return d.errCh
}

// Stop shuts both servers down and closes the store.
func (d *daemon) Stop(ctx context.Context) error {
	return errors.Join(
		d.http.Shutdown(ctx),
		d.collab.Stop(ctx),
		d.store.Close(),
	)
}

// run serves until ctx is cancelled or the HTTP server fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		d.store.Close()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-d.Err():
		logger.Error("http server failed", "err", runErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		logger.Error("shutdown", "err", err)
		runErr = errors.Join(runErr, err)
	}
	return runErr
}
