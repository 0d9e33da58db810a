// Package sqldb adapts a database/sql handle to storage.Conn. It is shared by
// every backend reached through a database/sql driver (SQLite, SQL Server,
// MySQL, DuckDB); only the dialect and catalog queries differ between them.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

// Catalog supplies the backend-specific catalog queries.
type Catalog interface {
	// TableExistsQuery must return a single COUNT(*) row.
	TableExistsQuery(schemaName, table string) (string, []any)

	// ColumnsQuery must return (column_name, type_name) rows in ordinal order.
	ColumnsQuery(schemaName, table string) (string, []any)
}

// Options controls pool sizing for Open.
type Options struct {
	// MaxOpenConns caps the pool. In-memory databases need 1 so every
	// statement sees the same database.
	MaxOpenConns int
}

// dbConn is a small interface over *sql.DB used for testability.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

// Conn implements storage.Conn over database/sql.
type Conn struct {
	db      dbConn
	dialect storage.Dialect
	catalog Catalog
}

// New wraps an already opened *sql.DB.
func New(db *sql.DB, d storage.Dialect, c Catalog) *Conn {
	return &Conn{db: &sqlDB{db: db}, dialect: d, catalog: c}
}

// Open opens driverName with dsn and validates connectivity via PingContext.
func Open(ctx context.Context, driverName, dsn string, d storage.Dialect, c Catalog, opts Options) (*Conn, error) {
	raw, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Name(), err)
	}
	if opts.MaxOpenConns > 0 {
		raw.SetMaxOpenConns(opts.MaxOpenConns)
		raw.SetMaxIdleConns(opts.MaxOpenConns)
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name(), err)
	}
	return New(raw, d, c), nil
}

func (c *Conn) Dialect() storage.Dialect { return c.dialect }

// TableExists runs the catalog COUNT(*) query.
func (c *Conn) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	q, args := c.catalog.TableExistsQuery(schemaName, table)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("%s: probe %s.%s: %w", c.dialect.Name(), schemaName, table, err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

// TableColumns lists the user columns of an existing table.
func (c *Conn) TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error) {
	q, args := c.catalog.ColumnsQuery(schemaName, table)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: columns %s.%s: %w", c.dialect.Name(), schemaName, table, err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, typ sql.NullString
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		if storage.IsReservedColumn(name.String) {
			continue
		}
		cols = append(cols, schema.Column{Name: name.String, Type: storage.ColumnTypeFromSQL(typ.String)})
	}
	return cols, rows.Err()
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

func (c *Conn) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Tx implements storage.Tx over *sql.Tx.
type Tx struct {
	tx txConn
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit() }

// Rollback ignores sql.ErrTxDone so it can be deferred after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
