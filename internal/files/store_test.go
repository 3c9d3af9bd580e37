package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "notes.txt", false},
		{"spaces", "my notes.md", false},
		{"dotfile", ".env", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"traversal", "../etc/passwd", true},
		{"subdir", "a/b.txt", true},
		{"backslash", `a\b.txt`, true},
		{"nul", "a\x00b", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"max length", strings.Repeat("a", MaxNameLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("error %v does not wrap ErrInvalidName", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		backend string
		wantErr bool
	}{
		{BackendFS, false},
		{"", false},
		{BackendSQLite, false},
		{"redis", true},
	}

	for _, tt := range tests {
		store, err := Open(tt.backend, filepath.Join(dir, "files"), filepath.Join(dir, "kollab.db"))
		if (err != nil) != tt.wantErr {
			t.Fatalf("Open(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
		}
		if store != nil {
			store.Close()
		}
	}
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("fs", func(t *testing.T) {
		t.Parallel()

		store, err := NewFSStore(filepath.Join(t.TempDir(), "files"))
		if err != nil {
			t.Fatalf("NewFSStore() error = %v", err)
		}
		fn(t, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()

		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kollab.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		names, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(names) != 0 {
			t.Fatalf("List() = %v, want empty", names)
		}

		content := "line one\n\t\"quoted\" \\ line two\r\n"
		for _, name := range []string{"b.txt", "a.txt"} {
			if err := store.Write(ctx, name, content); err != nil {
				t.Fatalf("Write(%q) error = %v", name, err)
			}
		}

		names, err = store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if !slices.Equal(names, []string{"a.txt", "b.txt"}) {
			t.Errorf("List() = %v, want [a.txt b.txt]", names)
		}

		got, err := store.Read(ctx, "a.txt")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got != content {
			t.Errorf("Read() = %q, want %q", got, content)
		}

		if err := store.Write(ctx, "a.txt", "replaced"); err != nil {
			t.Fatalf("overwrite error = %v", err)
		}
		if got, _ := store.Read(ctx, "a.txt"); got != "replaced" {
			t.Errorf("Read() after overwrite = %q", got)
		}

		if err := store.Delete(ctx, "a.txt"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Read(ctx, "a.txt"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Read() after Delete error = %v, want ErrNotFound", err)
		}
		if err := store.Delete(ctx, "a.txt"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete() error = %v, want ErrNotFound", err)
		}
	})
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		if err := store.Write(ctx, "../escape.txt", "x"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Write() error = %v, want ErrInvalidName", err)
		}
		if _, err := store.Read(ctx, "../escape.txt"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Read() error = %v, want ErrInvalidName", err)
		}
		if err := store.Delete(ctx, ""); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Delete() error = %v, want ErrInvalidName", err)
		}
	})
}

func TestFSStoreListsRegularFilesOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Equal(names, []string{"notes.txt"}) {
		t.Errorf("List() = %v, want [notes.txt]", names)
	}
	if store.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", store.Dir(), dir)
	}
}
