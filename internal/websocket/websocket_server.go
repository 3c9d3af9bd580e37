package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/kollab"
	"github.com/luciancaetano/kollab/internal/hub"
	"github.com/luciancaetano/kollab/internal/protocol"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the parsed upgrade request and returns true if the origin is allowed.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called once a session has joined and received its init and
// users_list messages, before its read loop starts. It runs on the session's
// own goroutine, so it delays only that session.
type OnConnectFn = func(session kollab.Session)

// OnClientDisconnectFn is called after a session left the registry and its
// departure was broadcast. voluntary is true when the client sent a close
// frame or shut the connection down cleanly, false for timeouts, protocol
// violations, failed writes and server shutdown.
type OnClientDisconnectFn = func(session kollab.Session, voluntary bool)

// Defaults applied by New for zero config values.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPingInterval     = 54 * time.Second
)

type ServerConfig struct {
	Addr               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn

	// Logger receives connection lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger

	// Path restricts upgrades to one request path. Empty accepts any path.
	Path string

	// MaxPayloadSize caps the declared length of a client frame. Defaults to protocol.MaxPayloadSize.
	MaxPayloadSize int

	// Negative durations disable the corresponding timeout or the heartbeat.
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration

	// Palette is the list of session colors. Defaults to kollab.Palette.
	Palette []string

	// BroadcastFileChange announces file_change events to the other sessions
	// as a cursor_update carrying the new file.
	BroadcastFileChange bool
}

// RateLimitConfig defines rate limiting configuration for sessions
type RateLimitConfig struct {
	// MessagesPerSecond defines how many data frames a session can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration.
// Allows 100 messages per second with burst of 200; typing and cursor
// movement stay well below that.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (c *RateLimitConfig) newLimiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}

// Server accepts TCP connections and runs one connection handler per client.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	registry *hub.Registry
	router   *hub.Router

	mu       sync.Mutex
	running  bool
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New creates a server from cfg, filling in defaults for zero values.
//
// Example:
//
//	server := New(&ServerConfig{
//	    Addr:            ":8081",
//	    RateLimitConfig: DefaultRateLimitConfig(),
//	    OnConnect: func(s kollab.Session) {
//	        log.Printf("session connected: %s", s.ID())
//	    },
//	})
func New(cfg *ServerConfig) *Server {
	c := *cfg
	if c.RateLimitConfig == nil {
		c.RateLimitConfig = DefaultRateLimitConfig()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = protocol.MaxPayloadSize
	}
	c.HandshakeTimeout = orDefault(c.HandshakeTimeout, DefaultHandshakeTimeout)
	c.ReadTimeout = orDefault(c.ReadTimeout, DefaultReadTimeout)
	c.WriteTimeout = orDefault(c.WriteTimeout, DefaultWriteTimeout)
	c.PingInterval = orDefault(c.PingInterval, DefaultPingInterval)
	if len(c.Palette) == 0 {
		c.Palette = kollab.Palette
	}

	registry := hub.NewRegistry(c.Palette)
	return &Server{
		cfg:      c,
		logger:   c.Logger,
		registry: registry,
		router:   hub.NewRouter(registry, c.Logger),
		conns:    make(map[net.Conn]struct{}),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	}
	return d
}

// Start binds the listener and accepts connections in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New(kollab.ErrServerAlreadyRunning)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.running = true
	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("websocket server listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and every connection, then waits for the
// connection handlers to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for nc := range s.conns {
		conns = append(conns, nc)
	}
	s.mu.Unlock()

	err := ln.Close()

	// registered sessions get a going-away close frame before the socket closes
	for _, session := range s.registry.Snapshot() {
		_ = session.WriteFrame(protocol.EncodeClose(kollab.CloseGoingAway, "server shutting down"))
		_ = session.Close(ctx)
	}
	for _, nc := range conns {
		_ = nc.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("websocket server stopped")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address, or the configured one when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Sessions returns the live sessions in join order.
func (s *Server) Sessions() []kollab.Session {
	snapshot := s.registry.Snapshot()
	sessions := make([]kollab.Session, 0, len(snapshot))
	for _, session := range snapshot {
		if session.IsAlive() {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// GetSession returns a live session by ID
func (s *Server) GetSession(id string) (kollab.Session, bool) {
	session, ok := s.registry.Lookup(id)
	if !ok {
		return nil, false
	}
	return session, true
}

// BroadcastText sends payload as a text frame to every live session.
func (s *Server) BroadcastText(ctx context.Context, payload []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return 0, errors.New(kollab.ErrServerNotRunning)
	}

	rep := s.router.BroadcastFrame(protocol.Encode(payload), "")
	return rep.Delivered, nil
}

// acceptLoop runs until the listener is closed. Accept errors other than
// a closed listener are retried with backoff; one bad connection never stops it.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.logger.Warn("accept failed", "err", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(nc) {
			_ = nc.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(nc)
			s.serveConn(nc)
		}()
	}
}

func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
}
