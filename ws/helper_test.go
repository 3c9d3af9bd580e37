package ws_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/luciancaetano/kollab"
	"github.com/luciancaetano/kollab/ws"
)

// Helper function to create a WebSocket dialer
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}

func newServer(t *testing.T, cfg ws.ServerConfig) kollab.Server {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	server := ws.New(cfg)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(stopCtx)
	})
	return server
}

type editor struct {
	t    *testing.T
	conn *websocket.Conn
}

type event struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Color    string `json:"color"`
	File     string `json:"file"`
	Content  string `json:"content"`
	Position int    `json:"position"`
	Users    []struct {
		Username  string `json:"username"`
		Color     string `json:"color"`
		File      string `json:"file"`
		CursorPos int    `json:"cursor_pos"`
	} `json:"users"`
}

func connect(t *testing.T, server kollab.Server) *editor {
	t.Helper()

	conn, _, err := newDialer().Dial("ws://"+server.Addr()+"/", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &editor{t: t, conn: conn}
}

func (e *editor) send(msg any) {
	e.t.Helper()

	data, err := sonnet.Marshal(msg)
	if err != nil {
		e.t.Fatalf("Failed to encode: %v", err)
	}
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		e.t.Fatalf("Failed to send: %v", err)
	}
}

func (e *editor) expect(typ string) event {
	e.t.Helper()

	e.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := e.conn.ReadMessage()
	if err != nil {
		e.t.Fatalf("Failed to read %s: %v", typ, err)
	}

	var ev event
	if err := sonnet.Unmarshal(data, &ev); err != nil {
		e.t.Fatalf("Failed to decode %s: %v", data, err)
	}
	if ev.Type != typ {
		e.t.Fatalf("got %s, want %s", data, typ)
	}
	return ev
}

func waitForUsername(t *testing.T, server kollab.Server, name string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		for _, s := range server.Sessions() {
			if s.Username() == name {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no session named %q", name)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
