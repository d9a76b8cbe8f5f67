// Package facade implements the synchronous request/response interface
// over an opened crash dump. It never spawns a host shell and never
// interprets the meaning of the text a debugger returns — that is the
// parser's job.
package facade

import (
	"context"
	"fmt"
	"sync"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// ErrDumpNotOpen is returned by Execute when called before Open succeeds.
var ErrDumpNotOpen = fmt.Errorf("facade: dump is not open")

// ErrUnsafeCommand is returned when a command is rejected by the
// unsafe-command filter.
var ErrUnsafeCommand = fmt.Errorf("facade: unsafe command rejected")

// Session abstracts the bottom half of the facade: the actual debugger
// process transport. It is deliberately minimal — open/close/execute over
// an already-running subprocess — mirroring a single long-lived debugger
// session the way a gdbserver connection is a single long-lived channel.
type Session interface {
	// Execute sends command to the debugger and returns its raw text
	// output. It must be safe to call repeatedly; it is invoked only
	// while holding the Facade's lock so it needs no internal locking
	// of its own.
	Execute(ctx context.Context, command string) (string, error)
	// Close releases the underlying process/connection.
	Close() error
}

// Facade is the debugger-session implementation: one opened dump, a
// command cache, and the unsafe-command filter. All calls are serialized
// through mu — the
// facade holds exclusive ownership of the dump.
type Facade struct {
	mu      sync.Mutex
	dialect model.Dialect
	session Session
	open    bool
	cache   map[string]string
}

// New constructs a Facade bound to dialect. Open must be called before
// Execute.
func New(dialect model.Dialect) *Facade {
	return &Facade{dialect: dialect, cache: make(map[string]string)}
}

// Open binds an already-connected Session to this facade, e.g. the result
// of spawning `lldb --core <dump>` or attaching to a WinDbg/SOS pipe.
func (f *Facade) Open(session Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = session
	f.open = true
	f.cache = make(map[string]string)
}

// Close releases the underlying session.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	if f.session == nil {
		return nil
	}
	s := f.session
	f.session = nil
	return s.Close()
}

// IsOpen reports whether a dump is currently bound.
func (f *Facade) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Dialect returns the bound dialect.
func (f *Facade) Dialect() model.Dialect { return f.dialect }

// Execute runs command synchronously and deterministically: output is
// cached per command string for the lifetime of the opened dump. Multi-line
// commands and anything the unsafe-command filter rejects fail without
// reaching the session.
func (f *Facade) Execute(ctx context.Context, command string) (string, error) {
	if err := CheckSafe(command); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open || f.session == nil {
		return "", ErrDumpNotOpen
	}
	if cached, ok := f.cache[command]; ok {
		return cached, nil
	}

	out, err := f.session.Execute(ctx, command)
	if err != nil {
		return "", fmt.Errorf("facade: execute %q: %w", command, err)
	}
	f.cache[command] = out
	return out, nil
}
