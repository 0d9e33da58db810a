// Package mssql registers the SQL Server storage backend ("sqlserver", alias
// "mssql") using github.com/microsoft/go-mssqldb.
//
// Geometries are stored as GeoJSON text in an NVARCHAR(MAX) column: the
// native geometry type has no GeoJSON constructor.
package mssql

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
	"wfsetl/internal/storage/sqldb"
)

func init() {
	storage.Register("sqlserver", Open)
	storage.Register("mssql", Open)
	storage.RegisterDialect("sqlserver", Dialect{})
	storage.RegisterDialect("mssql", Dialect{})
}

// Open connects with the "sqlserver" driver and validates connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Conn, error) {
	return sqldb.Open(ctx, "sqlserver", cfg.DSN, Dialect{}, catalog{}, sqldb.Options{MaxOpenConns: 4})
}

// Dialect implements storage.Dialect for SQL Server.
type Dialect struct{}

func (Dialect) Name() string { return "sqlserver" }

func (Dialect) QuoteIdent(name string) string { return mssqlIdent(name) }

func (Dialect) QualifyTable(schemaName, table string) string {
	return mssqlIdent(schemaName) + "." + mssqlIdent(table)
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (Dialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.Boolean:
		return "BIT"
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "FLOAT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (Dialect) IDColumnDef() string { return "id INT IDENTITY(1,1) PRIMARY KEY" }

func (Dialect) GeometryColumnDef() string { return "geom NVARCHAR(MAX)" }

func (Dialect) GeometryValue(p string) string { return p }

// CreateSchemaSQL wraps CREATE SCHEMA in EXEC because it must be the only
// statement in its batch.
func (Dialect) CreateSchemaSQL(schemaName string) string {
	create := "CREATE SCHEMA " + mssqlIdent(schemaName)
	return fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC('%s')",
		strings.ReplaceAll(schemaName, "'", "''"),
		strings.ReplaceAll(create, "'", "''"),
	)
}

type catalog struct{}

func (catalog) TableExistsQuery(schemaName, table string) (string, []any) {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`,
		[]any{schemaName, table}
}

func (catalog) ColumnsQuery(schemaName, table string) (string, []any) {
	return `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION`,
		[]any{schemaName, table}
}

// mssqlIdent bracket-quotes a single identifier.
//
// Example:
//
//	"a]b" -> [a]]b]
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
