package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotAlive is returned when delivering to a session that is not registered.
	ErrNotAlive = errors.New("session is not alive")
	// ErrSessionClosed is returned when writing to a session whose connection was closed.
	ErrSessionClosed = errors.New("session connection is closed")
)

// Conn is the part of a network connection a session writes to.
// net.Conn satisfies it.
type Conn interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Info is a consistent copy of a session's mutable fields.
type Info struct {
	ID         string
	RemoteAddr string
	Username   string
	Color      string
	File       string
	Cursor     int
}

// Session is the server-side state of one connected collaborator.
//
// Only the goroutine running the session's connection handler mutates the
// fields; the router reads them. Every field access and every write to the
// connection happens under mu, so a delivery never interleaves with another
// write on the same socket.
type Session struct {
	id           string
	remoteAddr   string
	color        string
	conn         Conn
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc

	mu       sync.Mutex
	username string
	file     string
	cursor   int
	alive    bool
	closed   bool
	lastErr  error
}

// NewSession wraps conn in a session with a fresh id and a placeholder username.
// A zero writeTimeout disables write deadlines.
func NewSession(conn Conn, remoteAddr, color string, writeTimeout time.Duration) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           uuid.New().String(),
		remoteAddr:   remoteAddr,
		color:        color,
		conn:         conn,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		username:     fmt.Sprintf("User%04d", rand.IntN(10000)),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Color never changes after the session is created.
func (s *Session) Color() string {
	return s.color
}

// Context is cancelled when the connection is closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) File() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// IsAlive reports whether the session is registered and its connection is open.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && !s.closed
}

// Err returns the first write error recorded on the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Info returns a snapshot of the session's fields.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		Username:   s.username,
		Color:      s.color,
		File:       s.file,
		Cursor:     s.cursor,
	}
}

func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

// SetFile records the file the collaborator switched to and returns the updated fields.
func (s *Session) SetFile(file string) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = file
	return s.infoLocked()
}

// MoveCursor records a cursor_move and returns the updated fields.
// The position is advisory and not checked against the file length.
func (s *Session) MoveCursor(username, file string, position int) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.file = file
	s.cursor = position
	return s.infoLocked()
}

func (s *Session) setAlive(alive bool) {
	s.mu.Lock()
	s.alive = alive
	s.mu.Unlock()
}

// Deliver writes an encoded frame if the session is still registered.
//
// A failed write is recorded and the connection is closed so that the
// session's own read loop notices and runs the disconnect sequence.
func (s *Session) Deliver(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive {
		return ErrNotAlive
	}
	return s.writeLocked(frame)
}

// WriteFrame writes an encoded frame regardless of registration, as long as
// the connection is open. The connection handler uses it for control frames.
func (s *Session) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(frame)
}

func (s *Session) writeLocked(frame []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.lastErr != nil {
		return s.lastErr
	}

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return s.failLocked(err)
		}
	}
	if _, err := s.conn.Write(frame); err != nil {
		return s.failLocked(err)
	}
	return nil
}

func (s *Session) failLocked(err error) error {
	s.lastErr = fmt.Errorf("deliver to session %s: %w", s.id, err)
	s.closeLocked()
	return s.lastErr
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.conn.Close()
}
