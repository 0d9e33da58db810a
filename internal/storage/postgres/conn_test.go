package postgres

import (
	"testing"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

func TestDialect_Statements(t *testing.T) {
	t.Parallel()

	desc := storage.NewTableDescriptor("Hydro", "Rivers")
	desc.Columns = []schema.Column{
		{Name: "count", Type: schema.Integer},
		{Name: "rate", Type: schema.Float},
		{Name: "active", Type: schema.Boolean},
		{Name: "Name", Type: schema.Text},
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "create schema",
			got:  Dialect{}.CreateSchemaSQL(desc.Schema),
			want: `CREATE SCHEMA IF NOT EXISTS "Hydro"`,
		},
		{
			name: "create table",
			got:  storage.CreateTableSQL(Dialect{}, desc),
			want: `CREATE TABLE "Hydro"."rivers" (id SERIAL PRIMARY KEY, geom geometry(Geometry,4326), ` +
				`"count" bigint, "rate" double precision, "active" boolean, "Name" text)`,
		},
		{
			name: "insert",
			got:  storage.InsertSQL(Dialect{}, desc),
			want: `INSERT INTO "Hydro"."rivers" ("geom", "count", "rate", "active", "Name") ` +
				`VALUES (ST_SetSRID(ST_GeomFromGeoJSON($1::text),4326), $2, $3, $4, $5)`,
		},
		{
			name: "quote escapes embedded quotes",
			got:  Dialect{}.QuoteIdent(`a"b`),
			want: `"a""b"`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.got != tt.want {
				t.Fatalf("got  %s\nwant %s", tt.got, tt.want)
			}
		})
	}
}
