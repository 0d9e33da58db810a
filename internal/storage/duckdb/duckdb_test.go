package duckdb

import (
	"context"
	"testing"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

func TestDialect_Statements(t *testing.T) {
	t.Parallel()

	desc := storage.NewTableDescriptor("lake", "Wells")
	desc.Columns = []schema.Column{{Name: "depth", Type: schema.Float}}

	want := `CREATE TABLE "lake"."wells" (id BIGINT PRIMARY KEY DEFAULT nextval('wfsetl_feature_id'), geom VARCHAR, "depth" DOUBLE)`
	if got := storage.CreateTableSQL(Dialect{}, desc); got != want {
		t.Fatalf("create:\n got %s\nwant %s", got, want)
	}
	if got := storage.InsertSQL(Dialect{}, desc); got != `INSERT INTO "lake"."wells" ("geom", "depth") VALUES ($1, $2)` {
		t.Fatalf("insert=%s", got)
	}
}

// TestConn_InMemoryRoundTrip runs the full create/probe/introspect cycle
// against an in-memory database.
func TestConn_InMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := storage.Open(ctx, storage.Config{Kind: "duckdb"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	desc := storage.NewTableDescriptor("lake", "wells")
	desc.Columns = []schema.Column{{Name: "depth", Type: schema.Float}, {Name: "dry", Type: schema.Boolean}}

	if err := conn.Exec(ctx, conn.Dialect().CreateSchemaSQL(desc.Schema)); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := conn.Exec(ctx, storage.CreateTableSQL(conn.Dialect(), desc)); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := conn.TableExists(ctx, desc.Schema, desc.Table)
	if err != nil || !ok {
		t.Fatalf("TableExists=%v,%v", ok, err)
	}
	cols, err := conn.TableColumns(ctx, desc.Schema, desc.Table)
	if err != nil {
		t.Fatalf("TableColumns: %v", err)
	}
	if len(cols) != 2 || cols[0] != desc.Columns[0] || cols[1] != desc.Columns[1] {
		t.Fatalf("cols=%v", cols)
	}
	if err := conn.Exec(ctx, storage.InsertSQL(conn.Dialect(), desc), nil, 12.5, false); err != nil {
		t.Fatalf("insert: %v", err)
	}
}
