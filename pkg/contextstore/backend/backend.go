// Package backend defines the storage interface deployment context records
// are persisted through, plus the registry the concrete backends register
// into from their init functions.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// ErrNotFound is returned when the requested path does not exist.
var ErrNotFound = errors.New("context record not found")

// ErrLocked is returned when a lock is already held.
var ErrLocked = errors.New("context is locked")

// Backend is a flat blob store keyed by slash-separated paths. All
// implementations must treat paths as opaque below their configured prefix.
type Backend interface {
	// Type returns the backend's registered name.
	Type() string

	// Read opens the blob at path. Returns ErrNotFound if it does not exist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write stores the blob at path, replacing any existing content.
	Write(ctx context.Context, path string, data io.Reader) error

	// Delete removes the blob at path. Deleting a missing path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// List returns every path under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether a blob exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Lock acquires an advisory lock guarding path. Returns a LockError
	// wrapping ErrLocked when another holder has it.
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)
}

// LockInfo describes a held or requested lock.
type LockInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Who       string    `json:"who"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
}

// Lock is a held advisory lock.
type Lock interface {
	ID() string
	Unlock(ctx context.Context) error
	Info() LockInfo
}

// LockError reports a lock that could not be acquired, carrying the current
// holder's info for the error message.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("locked by %s since %s (operation %s)", e.Info.Who, e.Info.Created.Format(time.RFC3339), e.Info.Operation)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// StaleLockAge is how old a lock must be before a new acquisition may steal
// it. Crashed runs leave locks behind; anything older than this is treated
// as abandoned.
const StaleLockAge = time.Hour

// Config selects and configures a backend.
type Config struct {
	Type    string            `json:"type" yaml:"type"`
	Options map[string]string `json:"options" yaml:"options"`
}

// Factory constructs a backend from its option map.
type Factory func(options map[string]string) (Backend, error)

var registry = map[string]Factory{}

// Register makes a backend available by name. Called from the backend
// subpackages' init functions.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Create builds the backend the config names. An empty type falls back to
// "local".
func Create(cfg Config) (Backend, error) {
	name := cfg.Type
	if name == "" {
		name = "local"
	}
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown context backend %q (registered: %v)", name, Registered())
	}
	return factory(cfg.Options)
}

// Registered returns the registered backend names, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
