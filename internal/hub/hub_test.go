package hub

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/luciancaetano/kollab/internal/protocol"
)

// fakeConn records every frame written to it
type fakeConn struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	closed   bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("use of closed connection")
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.buf.Write(p)
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// payloads decodes every unmasked frame written so far
func (c *fakeConn) payloads() []string {
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var out []string
	for len(data) > 0 {
		f, n, err := protocol.Decode(data)
		if err != nil {
			break
		}
		out = append(out, string(f.Payload))
		data = data[n:]
	}
	return out
}

func newTestSession(color string) (*Session, *fakeConn) {
	conn := &fakeConn{}
	return NewSession(conn, "127.0.0.1:1", color, time.Second), conn
}
