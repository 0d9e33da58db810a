// Package duckdb registers the DuckDB storage backend using
// github.com/duckdb/duckdb-go/v2. An empty DSN opens an in-memory database.
//
// DuckDB has no SERIAL type; ids are drawn from one shared sequence created
// alongside the schema. Geometries are stored as GeoJSON text.
package duckdb

import (
	"context"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
	"wfsetl/internal/storage/sqldb"
)

const idSequence = "wfsetl_feature_id"

func init() {
	storage.Register("duckdb", Open)
	storage.RegisterDialect("duckdb", Dialect{})
}

func Open(ctx context.Context, cfg storage.Config) (storage.Conn, error) {
	return sqldb.Open(ctx, "duckdb", cfg.DSN, Dialect{}, catalog{}, sqldb.Options{MaxOpenConns: 1})
}

// Dialect implements storage.Dialect for DuckDB.
type Dialect struct{}

func (Dialect) Name() string { return "duckdb" }

func (Dialect) QuoteIdent(name string) string { return storage.QuoteDouble(name) }

func (Dialect) QualifyTable(schemaName, table string) string {
	return storage.QuoteDouble(schemaName) + "." + storage.QuoteDouble(table)
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

func (Dialect) IDColumnDef() string {
	return fmt.Sprintf("id BIGINT PRIMARY KEY DEFAULT nextval('%s')", idSequence)
}

func (Dialect) GeometryColumnDef() string { return "geom VARCHAR" }

func (Dialect) GeometryValue(p string) string { return p }

// CreateSchemaSQL also creates the id sequence, so it must run before the
// first CREATE TABLE.
func (Dialect) CreateSchemaSQL(schemaName string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + storage.QuoteDouble(schemaName) +
		"; CREATE SEQUENCE IF NOT EXISTS " + idSequence
}

type catalog struct{}

func (catalog) TableExistsQuery(schemaName, table string) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		[]any{schemaName, table}
}

func (catalog) ColumnsQuery(schemaName, table string) (string, []any) {
	return `SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
		[]any{schemaName, table}
}
