package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kollab/internal/config"
)

func testConfig(t *testing.T, storage string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.WSAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Storage = storage
	cfg.FilesDir = filepath.Join(dir, "files")
	cfg.SQLitePath = filepath.Join(dir, "kollab.db")
	cfg.StaticDir = dir
	return cfg
}

func TestDaemon(t *testing.T) {
	t.Parallel()

	for _, storage := range []string{"fs", "sqlite"} {
		t.Run(storage, func(t *testing.T) {
			t.Parallel()

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			d, err := newDaemon(testConfig(t, storage), logger)
			if err != nil {
				t.Fatalf("newDaemon() error = %v", err)
			}

			ctx := context.Background()
			if err := d.Start(ctx); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			stopped := false
			t.Cleanup(func() {
				if !stopped {
					d.Stop(ctx)
				}
			})

			base := "http://" + d.HTTPAddr()
			resp, err := http.Post(base+"/api/file", "application/json", strings.NewReader(`{"filename":"a.txt","content":"hello"}`))
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("POST status = %d", resp.StatusCode)
			}

			resp, err = http.Get(base + "/api/file?name=a.txt")
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if string(body) != `{"content":"hello"}` {
				t.Errorf("GET body = %s", body)
			}

			dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
			conn, _, err := dialer.Dial("ws://"+d.collab.Addr()+"/", nil)
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer conn.Close()

			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, data, err := conn.ReadMessage(); err != nil || !bytes.Contains(data, []byte(`"type":"init"`)) {
				t.Fatalf("first message = %s, %v", data, err)
			}

			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			stopped = true
			if err := d.Stop(stopCtx); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, testConfig(t, "fs"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRootCmdFlags(t *testing.T) {
	cmd := rootCmd()
	if err := cmd.ParseFlags([]string{"--ws-addr", ":9999", "--storage", "sqlite", "--broadcast-file-change"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg := config.Default()
	var overrides config.Config
	overrides.WSAddr, _ = cmd.Flags().GetString("ws-addr")
	overrides.Storage, _ = cmd.Flags().GetString("storage")
	overrides.BroadcastFileChange, _ = cmd.Flags().GetBool("broadcast-file-change")
	applyFlags(cmd, cfg, &overrides)

	if cfg.WSAddr != ":9999" || cfg.Storage != "sqlite" || !cfg.BroadcastFileChange {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, unset flag overrode the default", cfg.HTTPAddr)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "session_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record passed a warn level logger")
	}
	if !strings.Contains(out, `"session_id":"abc"`) {
		t.Errorf("output = %s, want a JSON record", out)
	}

	cfg.LogFormat = "xml"
	if _, err := newLogger(cfg, &buf); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
