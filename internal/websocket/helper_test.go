package websocket

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/luciancaetano/kollab/internal/envelope"
)

// serverMessage is the union of every envelope the server sends.
type serverMessage struct {
	Type     string              `json:"type"`
	Username string              `json:"username"`
	Color    string              `json:"color"`
	File     string              `json:"file"`
	Content  string              `json:"content"`
	Position int                 `json:"position"`
	Users    []envelope.UserInfo `json:"users"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a server on a random local port until the test ends.
func startServer(t *testing.T, configure func(*ServerConfig)) *Server {
	t.Helper()

	cfg := &ServerConfig{
		Addr:            "127.0.0.1:0",
		RateLimitConfig: NoRateLimit(),
		Logger:          discardLogger(),
	}
	if configure != nil {
		configure(cfg)
	}

	srv := New(cfg)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws://"+srv.Addr()+"/", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join dials and consumes the init and users_list greeting.
func join(t *testing.T, srv *Server) (*websocket.Conn, serverMessage) {
	t.Helper()

	conn := dial(t, srv)
	greeting := expectMessage(t, conn, "init")
	expectMessage(t, conn, "users_list")
	return conn, greeting
}

func readMessage(conn *websocket.Conn, timeout time.Duration) (serverMessage, error) {
	var msg serverMessage

	conn.SetReadDeadline(time.Now().Add(timeout))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if kind != websocket.TextMessage {
		return msg, errors.New("expected a text frame")
	}
	err = sonnet.Unmarshal(data, &msg)
	return msg, err
}

func expectMessage(t *testing.T, conn *websocket.Conn, typ string) serverMessage {
	t.Helper()

	msg, err := readMessage(conn, 5*time.Second)
	if err != nil {
		t.Fatalf("reading %s: %v", typ, err)
	}
	if msg.Type != typ {
		t.Fatalf("got message type %q, want %q", msg.Type, typ)
	}
	return msg
}

// expectSilence fails if conn receives a message within the window.
// The connection is unusable for reads afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	msg, err := readMessage(conn, window)
	if err == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// readCloseCode reads raw server frames until a close frame and returns its status code.
func readCloseCode(t *testing.T, br *bufio.Reader) int {
	t.Helper()

	for {
		var head [2]byte
		if _, err := io.ReadFull(br, head[:]); err != nil {
			t.Fatalf("reading frame header: %v", err)
		}

		n := int(head[1] & 0x7F)
		switch n {
		case 126:
			var ext [2]byte
			if _, err := io.ReadFull(br, ext[:]); err != nil {
				t.Fatalf("reading length: %v", err)
			}
			n = int(binary.BigEndian.Uint16(ext[:]))
		case 127:
			var ext [8]byte
			if _, err := io.ReadFull(br, ext[:]); err != nil {
				t.Fatalf("reading length: %v", err)
			}
			n = int(binary.BigEndian.Uint64(ext[:]))
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(br, payload); err != nil {
			t.Fatalf("reading payload: %v", err)
		}
		if head[0]&0x0F == 0x8 {
			if n < 2 {
				return 0
			}
			return int(binary.BigEndian.Uint16(payload))
		}
	}
}
