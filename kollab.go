package kollab

import "context"

// Server defines the real-time collaboration server.
//
// The server speaks RFC 6455 directly on top of TCP: it performs the upgrade
// handshake itself, decodes client frames and relays JSON envelopes between
// every connected session.
//
// Example usage:
//
//	import "github.com/luciancaetano/kollab/ws"
//
//	server := ws.New(ws.NewConfig(":8081", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(ctx)
type Server interface {
	// Start binds the listening socket and starts accepting connections in
	// the background. Bind errors are returned synchronously.
	//
	// Returns an error if the server is already running.
	Start(ctx context.Context) error

	// Stop closes the listener and every session connection, then waits for
	// the connection handlers to finish or for ctx to expire.
	Stop(ctx context.Context) error

	// Addr returns the address the server is listening on, or the configured
	// address when the server is not running.
	Addr() string

	// Sessions returns a point-in-time view of every live session.
	Sessions() []Session

	// BroadcastText sends payload as a text frame to every live session and
	// returns how many sessions received it.
	//
	// Example:
	//
	//	data, _ := json.Marshal(map[string]string{"type": "notice", "text": "restarting"})
	//	server.BroadcastText(ctx, data)
	BroadcastText(ctx context.Context, payload []byte) (int, error)
}

// Session represents one connected collaborator.
//
// A session exists from a successful handshake until its connection is
// detected as closed. All accessors are safe for concurrent use.
type Session interface {
	// ID returns the unique identifier generated when the session joined.
	ID() string

	// RemoteAddr returns the peer network address, for example "192.168.1.100:54321".
	RemoteAddr() string

	// Username returns the display name. It defaults to a generated "UserNNNN"
	// placeholder until the client sends a join message.
	Username() string

	// Color returns the display color assigned at join time.
	Color() string

	// File returns the file the collaborator currently has open, or "".
	File() string

	// Cursor returns the last reported cursor offset within File.
	Cursor() int

	// Context is cancelled when the session's connection closes.
	//
	// Example:
	//
	//	go func() {
	//	    <-session.Context().Done()
	//	    log.Printf("session %s left", session.ID())
	//	}()
	Context() context.Context

	// IsAlive reports whether the session is still registered and writable.
	IsAlive() bool

	// Close closes the underlying connection. The session's handler then
	// announces the departure and removes it from the registry.
	Close(ctx context.Context) error
}
