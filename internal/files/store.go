// Package files stores the shared text files edited through the HTTP API.
//
// The collaboration server never reads or writes files itself; clients load a
// file over HTTP, relay edits over the WebSocket connection and save through
// HTTP again.
package files

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidName is returned for names that are empty, too long or that
	// would escape the store.
	ErrInvalidName = errors.New("invalid file name")
)

// MaxNameLength matches the usual filesystem limit for one path element.
const MaxNameLength = 255

// Store is a flat namespace of text files.
type Store interface {
	// List returns the file names in lexical order.
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) (string, error)
	// Write creates or replaces a file.
	Write(ctx context.Context, name, content string) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend. dir is used by the filesystem backend,
// path by the sqlite backend.
func Open(backend, dir, path string) (Store, error) {
	switch backend {
	case BackendFS, "":
		return NewFSStore(dir)
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// ValidateName rejects names that are not a single plain path element.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
