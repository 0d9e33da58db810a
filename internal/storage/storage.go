// Package storage defines the database collaborator used by the table
// materializer: a connection that can probe tables, execute parameterized
// statements and open transactions, plus the per-backend SQL dialect.
//
// Backends register themselves from init() (see storage/all) and are selected
// by kind at runtime through Open.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"wfsetl/internal/schema"
)

// Config is the minimal configuration needed to open a connection.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Conn is a single-owner database connection.
//
// Statements are executed in the order they are issued; DDL runs outside any
// transaction. Conn implementations are not required to be safe for
// concurrent use.
type Conn interface {
	Dialect() Dialect

	// TableExists probes the catalog. table must already be normalized.
	TableExists(ctx context.Context, schemaName, table string) (bool, error)

	// TableColumns returns the user columns of an existing table in ordinal
	// order, excluding the reserved id and geometry columns.
	TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error)

	Exec(ctx context.Context, sql string, args ...any) error
	Begin(ctx context.Context) (Tx, error)

	// Close releases backend resources. Call once.
	Close() error
}

// Tx is an open transaction. Rollback after Commit is a no-op.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory opens a connection for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Conn, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
	dialects  = map[string]Dialect{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Duplicate
//     registration fails fast to avoid ambiguous backend selection.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// RegisterDialect makes d available to LookupDialect under kind, so SQL can
// be rendered for a backend without connecting to it. Backends call it from
// init() next to Register.
func RegisterDialect(kind string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" || d == nil {
		panic("storage: RegisterDialect called with empty kind or nil dialect")
	}
	dialects[kind] = d
}

// LookupDialect returns the dialect registered for kind.
func LookupDialect(kind string) (Dialect, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))

	mu.RLock()
	d := dialects[kind]
	mu.RUnlock()

	if d == nil {
		return nil, fmt.Errorf("storage: no dialect for kind=%q", kind)
	}
	return d, nil
}

// Open constructs a Conn using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Conn, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %s)", kind, strings.Join(Kinds(), ","))
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
