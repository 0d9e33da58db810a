package materialize

import (
	"context"
	"errors"
	"strings"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
	"wfsetl/internal/storage/postgres"
)

// fakeConn records every statement and simulates commit visibility.
//
// Rows inserted through a transaction only become visible in committed when
// Commit succeeds; rollback discards them. This lets tests assert the
// all-or-nothing property without a database.
type fakeConn struct {
	exists  bool
	columns []schema.Column

	// failInsertAt makes the n-th INSERT (1-based) fail; 0 disables.
	failInsertAt int
	probeErr     error

	stmts     []string
	committed int
	cleared   bool
	inserts   int
	rollbacks int
	args      [][]any
}

func (f *fakeConn) Dialect() storage.Dialect { return postgres.Dialect{} }

func (f *fakeConn) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	return f.exists, f.probeErr
}

func (f *fakeConn) TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error) {
	return f.columns, nil
}

func (f *fakeConn) Exec(ctx context.Context, sql string, args ...any) error {
	f.stmts = append(f.stmts, sql)
	return nil
}

func (f *fakeConn) Begin(ctx context.Context) (storage.Tx, error) {
	return &fakeTx{conn: f}, nil
}

func (f *fakeConn) Close() error { return nil }

// count returns how many recorded statements start with prefix.
func (f *fakeConn) count(prefix string) int {
	n := 0
	for _, s := range f.stmts {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

type fakeTx struct {
	conn    *fakeConn
	pending int
	clear   bool
	done    bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) error {
	t.conn.stmts = append(t.conn.stmts, sql)
	switch {
	case strings.HasPrefix(sql, "DELETE"):
		t.clear = true
	case strings.HasPrefix(sql, "INSERT"):
		t.conn.inserts++
		if t.conn.failInsertAt > 0 && t.conn.inserts == t.conn.failInsertAt {
			return errors.New("injected insert failure")
		}
		t.conn.args = append(t.conn.args, args)
		t.pending++
	}
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.done = true
	if t.clear {
		t.conn.cleared = true
		t.conn.committed = 0
	}
	t.conn.committed += t.pending
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.done {
		t.conn.rollbacks++
		t.done = true
	}
	return nil
}
