// Package kollab provides the real-time transport of a collaborative text editor.
//
// Many browser clients connect concurrently, edit shared text files and see each
// other's edits and cursor positions with minimal delay. The package implements the
// WebSocket protocol by hand (upgrade handshake and frame codec), keeps a concurrent
// registry of connected sessions and fans messages out to every other session.
//
// # Architecture
//
//	Listener -> connection handler -> handshake (once)
//	         -> loop { frame decode -> envelope dispatch -> session update / broadcast }
//
// The session registry is the only state shared between connections. Each
// connection runs on its own goroutine; a session's fields and its socket writes
// are serialized by a per-session lock that the broadcaster takes for exactly one
// delivery at a time.
//
// # Quick Start
//
//	import "github.com/luciancaetano/kollab/ws"
//
//	server := ws.New(ws.NewConfig(":8081", ws.DefaultRateLimitConfig(), ws.AllOrigins(),
//	    func(s kollab.Session) { log.Printf("joined: %s", s.ID()) },
//	    func(s kollab.Session, voluntary bool) { log.Printf("left: %s", s.ID()) },
//	))
//	server.Start(ctx)
//
// # Messages
//
// After the handshake clients exchange JSON text frames:
//
//	{"type":"join","username":"ana"}
//	{"type":"content_change","username":"ana","file":"notes.txt","content":"..."}
//	{"type":"cursor_move","username":"ana","file":"notes.txt","position":42}
//	{"type":"file_change","username":"ana","file":"todo.txt"}
//
// The server answers with init, users_list, user_joined, user_left,
// content_update and cursor_update envelopes. Unknown or malformed envelopes are
// dropped without touching any state.
//
// Concurrent content edits are relayed as last-write-wins snapshots; there is no
// merge algorithm.
//
// # Limits
//
//   - Maximum frame payload: 16MB by default (close code 1009 when exceeded)
//   - Client frames must be masked (close code 1002 otherwise)
//   - Rate limiting per session (close code 1008 when exceeded)
//   - Read timeout: 60s, renewed by any frame including pong
//   - Ping every 54 seconds, write timeout 10s
package kollab
