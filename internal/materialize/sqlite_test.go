package materialize

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"wfsetl/internal/feature"
	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
	_ "wfsetl/internal/storage/sqlite"
)

// openSQLiteFile opens the same database file twice: once through the
// storage registry (under test) and once through database/sql for assertions.
func openSQLiteFile(t *testing.T) (storage.Conn, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.db")

	conn, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open verify db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return conn, db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSQLite_CreateThenClearAndReuse(t *testing.T) {
	ctx := context.Background()
	conn, db := openSQLiteFile(t)
	var m Materializer

	res, err := m.Materialize(ctx, conn, "public", "Places", sampleCollection(3), Policy{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.Action != ActionCreate || countRows(t, db, "places") != 3 {
		t.Fatalf("first run: action=%s rows=%d", res.Action, countRows(t, db, "places"))
	}

	cols, err := conn.TableColumns(ctx, "public", "places")
	if err != nil {
		t.Fatalf("TableColumns: %v", err)
	}
	want := []schema.Column{{Name: "count", Type: schema.Integer}, {Name: "rate", Type: schema.Float}, {Name: "active", Type: schema.Boolean}, {Name: "name", Type: schema.Text}}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("column %d = %v, want %v", i, cols[i], want[i])
		}
	}

	// Second run reuses the table: old rows are replaced by the new batch.
	res, err = m.Materialize(ctx, conn, "public", "places", sampleCollection(2), Policy{Overwrite: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Action != ActionClearAndReuse || countRows(t, db, "places") != 2 {
		t.Fatalf("second run: action=%s rows=%d", res.Action, countRows(t, db, "places"))
	}

	// Without overwrite the table is left alone.
	res, err = m.Materialize(ctx, conn, "public", "places", sampleCollection(5), Policy{})
	if err != nil || res.Action != ActionSkip || countRows(t, db, "places") != 2 {
		t.Fatalf("third run: action=%s err=%v", res.Action, err)
	}
}

func TestSQLite_FailedReuseKeepsPreviousRows(t *testing.T) {
	ctx := context.Background()
	conn, db := openSQLiteFile(t)

	if _, err := (&Materializer{}).Materialize(ctx, conn, "public", "places", sampleCollection(3), Policy{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Under reject, the second feature's text "count" aborts the load after
	// the DELETE already ran inside the transaction.
	bad := sampleCollection(2)
	bad.Features[1].Properties[0].Value = feature.Text("many")

	_, err := (&Materializer{Drift: DriftReject}).Materialize(ctx, conn, "public", "places", bad, Policy{Overwrite: true})
	if err == nil {
		t.Fatalf("expected load failure")
	}
	if n := countRows(t, db, "places"); n != 3 {
		t.Fatalf("rows after failed reuse = %d, want 3", n)
	}
}

func TestSQLite_ReservedNamesSurviveCreateAndReuse(t *testing.T) {
	ctx := context.Background()
	conn, db := openSQLiteFile(t)
	var m Materializer

	batch := func(id, featureID int64) *feature.Collection {
		return &feature.Collection{Features: []feature.Feature{{
			Properties: feature.Properties{
				{Name: "id", Value: feature.Int(id)},
				{Name: "feature_id", Value: feature.Int(featureID)},
			},
		}}}
	}
	stored := func() (renamed, literal int64) {
		t.Helper()
		if err := db.QueryRow(`SELECT "feature_id_2", "feature_id" FROM "t"`).Scan(&renamed, &literal); err != nil {
			t.Fatalf("select: %v", err)
		}
		return renamed, literal
	}

	if _, err := m.Materialize(ctx, conn, "public", "t", batch(1, 2), Policy{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if r, l := stored(); r != 1 || l != 2 {
		t.Fatalf("after create: feature_id_2=%d feature_id=%d, want 1 and 2", r, l)
	}

	res, err := m.Materialize(ctx, conn, "public", "t", batch(3, 4), Policy{Overwrite: true})
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if res.Action != ActionClearAndReuse || res.Drifted() {
		t.Fatalf("reuse: action=%s result=%+v", res.Action, res)
	}
	if r, l := stored(); r != 3 || l != 4 {
		t.Fatalf("after reuse: feature_id_2=%d feature_id=%d, want 3 and 4", r, l)
	}
}
