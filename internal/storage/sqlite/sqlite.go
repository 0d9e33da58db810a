// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// pure Go). SQLite has no schemas and no spatial types: the schema part of a
// table reference is ignored and geometries are stored as GeoJSON text.
package sqlite

import (
	"context"

	_ "modernc.org/sqlite"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
	"wfsetl/internal/storage/sqldb"
)

func init() {
	storage.Register("sqlite", Open)
	storage.RegisterDialect("sqlite", Dialect{})
}

// Open opens the database file named by cfg.DSN (":memory:" for an
// in-memory database). The pool is capped at one connection so an in-memory
// database is shared by every statement.
func Open(ctx context.Context, cfg storage.Config) (storage.Conn, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	return sqldb.Open(ctx, "sqlite", dsn, Dialect{}, catalog{}, sqldb.Options{MaxOpenConns: 1})
}

// Dialect implements storage.Dialect for SQLite.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) QuoteIdent(name string) string { return storage.QuoteDouble(name) }

// QualifyTable ignores schemaName.
func (Dialect) QualifyTable(_, table string) string { return storage.QuoteDouble(table) }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Integer:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (Dialect) IDColumnDef() string { return "id INTEGER PRIMARY KEY AUTOINCREMENT" }

func (Dialect) GeometryColumnDef() string { return "geom TEXT" }

func (Dialect) GeometryValue(p string) string { return p }

func (Dialect) CreateSchemaSQL(string) string { return "" }

type catalog struct{}

func (catalog) TableExistsQuery(_, table string) (string, []any) {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, []any{table}
}

func (catalog) ColumnsQuery(_, table string) (string, []any) {
	return `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, []any{table}
}
