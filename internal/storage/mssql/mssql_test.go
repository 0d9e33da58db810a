package mssql

import (
	"testing"

	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

func TestDialect_Statements(t *testing.T) {
	t.Parallel()

	desc := storage.NewTableDescriptor("dbo", "Roads")
	desc.Columns = []schema.Column{{Name: "lanes", Type: schema.Integer}, {Name: "lit]", Type: schema.Boolean}}

	if got, want := storage.CreateTableSQL(Dialect{}, desc),
		`CREATE TABLE [dbo].[roads] (id INT IDENTITY(1,1) PRIMARY KEY, geom NVARCHAR(MAX), [lanes] BIGINT, [lit]]] BIT)`; got != want {
		t.Fatalf("create:\n got %s\nwant %s", got, want)
	}
	if got, want := storage.InsertSQL(Dialect{}, desc),
		`INSERT INTO [dbo].[roads] ([geom], [lanes], [lit]]]) VALUES (@p1, @p2, @p3)`; got != want {
		t.Fatalf("insert:\n got %s\nwant %s", got, want)
	}
}

func TestDialect_CreateSchemaEscapesQuotes(t *testing.T) {
	t.Parallel()

	got := Dialect{}.CreateSchemaSQL("o'neil")
	want := `IF SCHEMA_ID(N'o''neil') IS NULL EXEC('CREATE SCHEMA [o''neil]')`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}
