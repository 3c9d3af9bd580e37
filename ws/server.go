package ws

import (
	"net/http"

	"github.com/luciancaetano/kollab"
	"github.com/luciancaetano/kollab/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig

// New creates the collaboration server described by cfg.
//
// Zero values in cfg fall back to the defaults: 60s read timeout, 10s write
// timeout, a ping every 54s, a 16MB frame cap and the standard color palette.
//
// Example:
//
//	cfg := ws.NewConfig(":8081", ws.DefaultRateLimitConfig(), ws.AllOrigins(), func(s kollab.Session) {
//	    log.Printf("session joined: %s", s.ID())
//	}, nil)
//	cfg.Logger = slog.Default()
//	server := ws.New(cfg)
func New(cfg ServerConfig) kollab.Server {
	return websocket.New(cfg)
}

// NewConfig builds a server configuration. Parameters:
//   - addr: The listen address (e.g., ":8081" or "localhost:8081")
//   - rateLimitConfig: Rate limiting configuration. Use DefaultRateLimitConfig() or NoRateLimit()
//   - checkOrigin: Function to validate upgrade origins. nil or AllOrigins() allows all
//   - onConnect: Optional callback called once a session joined and was greeted. Can be nil.
//   - onDisconnect: Optional callback called after a session left. Can be nil.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
