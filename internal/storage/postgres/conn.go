// Package postgres implements storage.Conn for PostgreSQL/PostGIS using pgx.
//
// Geometries land in a geometry(Geometry,4326) column, converted server-side
// with ST_GeomFromGeoJSON, so the PostGIS extension must be installed in the
// target database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

// Conn implements storage.Conn on a pgx pool.
type Conn struct {
	pool *pgxpool.Pool
}

// Open creates a pool for cfg.DSN and validates connectivity with Ping.
func Open(ctx context.Context, cfg storage.Config) (storage.Conn, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Conn{pool: pool}, nil
}

func (c *Conn) Dialect() storage.Dialect { return Dialect{} }

func (c *Conn) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schemaName, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: probe %s.%s: %w", schemaName, table, err)
	}
	return exists, nil
}

func (c *Conn) TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schemaName, table,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns %s.%s: %w", schemaName, table, err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		if storage.IsReservedColumn(name) {
			continue
		}
		cols = append(cols, schema.Column{Name: name, Type: storage.ColumnTypeFromSQL(typ)})
	}
	return cols, rows.Err()
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.pool.Exec(ctx, sql, args...)
	return err
}

func (c *Conn) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Close() error {
	c.pool.Close()
	return nil
}

// Tx wraps pgx.Tx.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Dialect implements storage.Dialect for PostGIS.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

// QuoteIdent double-quotes an identifier, preserving case.
func (Dialect) QuoteIdent(name string) string { return pgIdent(name) }

func (Dialect) QualifyTable(schemaName, table string) string {
	return pgIdent(schemaName) + "." + pgIdent(table)
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.Boolean:
		return "boolean"
	case schema.Integer:
		return "bigint"
	case schema.Float:
		return "double precision"
	default:
		return "text"
	}
}

func (Dialect) IDColumnDef() string { return "id SERIAL PRIMARY KEY" }

func (Dialect) GeometryColumnDef() string {
	return fmt.Sprintf("geom geometry(Geometry,%d)", storage.SRID)
}

// GeometryValue casts the parameter to text so ST_GeomFromGeoJSON resolves
// to a single overload.
func (Dialect) GeometryValue(p string) string {
	return fmt.Sprintf("ST_SetSRID(ST_GeomFromGeoJSON(%s::text),%d)", p, storage.SRID)
}

func (Dialect) CreateSchemaSQL(schemaName string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schemaName)
}

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
