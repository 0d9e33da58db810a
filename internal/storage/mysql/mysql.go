// Package mysql registers the MySQL storage backend using
// github.com/go-sql-driver/mysql. MySQL 8.0 or later is required for
// SRID-restricted geometry columns.
//
// In MySQL a schema is a database, so CreateSchemaSQL creates a database.
package mysql

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
	"wfsetl/internal/storage/sqldb"
)

func init() {
	storage.Register("mysql", Open)
	storage.RegisterDialect("mysql", Dialect{})
}

func Open(ctx context.Context, cfg storage.Config) (storage.Conn, error) {
	return sqldb.Open(ctx, "mysql", cfg.DSN, Dialect{}, catalog{}, sqldb.Options{MaxOpenConns: 4})
}

// Dialect implements storage.Dialect for MySQL.
type Dialect struct{}

func (Dialect) Name() string { return "mysql" }

func (Dialect) QuoteIdent(name string) string { return myIdent(name) }

func (Dialect) QualifyTable(schemaName, table string) string {
	return myIdent(schemaName) + "." + myIdent(table)
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE"
	default:
		return "LONGTEXT"
	}
}

func (Dialect) IDColumnDef() string { return "id BIGINT AUTO_INCREMENT PRIMARY KEY" }

func (Dialect) GeometryColumnDef() string {
	return fmt.Sprintf("geom GEOMETRY SRID %d", storage.SRID)
}

// GeometryValue passes option 1 so geometries with more than two dimensions
// are rejected rather than silently flattened.
func (Dialect) GeometryValue(p string) string {
	return fmt.Sprintf("ST_GeomFromGeoJSON(%s, 1, %d)", p, storage.SRID)
}

func (Dialect) CreateSchemaSQL(schemaName string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + myIdent(schemaName)
}

type catalog struct{}

func (catalog) TableExistsQuery(schemaName, table string) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		[]any{schemaName, table}
}

// ColumnsQuery reads column_type rather than data_type so BOOLEAN columns
// come back as tinyint(1).
func (catalog) ColumnsQuery(schemaName, table string) (string, []any) {
	return `SELECT column_name, column_type FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
		[]any{schemaName, table}
}

func myIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
