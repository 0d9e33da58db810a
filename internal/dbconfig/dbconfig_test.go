package dbconfig

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "wfsetl/internal/storage/sqlite"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const iniBody = `
[dev]
kind     = postgresql
host     = db.internal
port     = 6432
user     = gis
password = ${WFSETL_TEST_PASSWORD}
database = wfs
params   = application_name=wfsload

[prod]
dsn = postgresql://u:p@prod:5432/wfs

[local]
kind   = sqlite
dbname = %s

[broken]
kind = oracle
`

func writeINI(t *testing.T, sqlitePath string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "database.ini")
	body := strings.Replace(iniBody, "%s", sqlitePath, 1)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write ini: %v", err)
	}
	return p
}

func TestLoad_SectionAndEnvExpansion(t *testing.T) {
	t.Setenv("WFSETL_TEST_PASSWORD", "s3cr3t")
	path := writeINI(t, "x.db")

	s, err := Load(path, "dev")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Kind != "postgres" || s.Host != "db.internal" || s.DBName != "wfs" || s.Password != "s3cr3t" {
		t.Fatalf("unexpected settings: %+v", s)
	}

	dsn, err := s.ConnString()
	if err != nil {
		t.Fatalf("ConnString: %v", err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse dsn %q: %v", dsn, err)
	}
	if u.Host != "db.internal:6432" || u.Path != "/wfs" {
		t.Fatalf("dsn host/path: %q", dsn)
	}
	if pw, _ := u.User.Password(); pw != "s3cr3t" {
		t.Fatalf("dsn password=%q", pw)
	}
	if u.Query().Get("sslmode") != "disable" || u.Query().Get("application_name") != "wfsload" {
		t.Fatalf("dsn query: %q", u.RawQuery)
	}
}

func TestLoad_ExplicitDSNWins(t *testing.T) {
	t.Parallel()

	s, err := Load(writeINI(t, "x.db"), "prod")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dsn, err := s.ConnString()
	if err != nil || dsn != "postgresql://u:p@prod:5432/wfs" {
		t.Fatalf("ConnString=%q, %v", dsn, err)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	path := writeINI(t, "x.db")
	if _, err := Load(path, "missing"); err == nil || !strings.Contains(err.Error(), "section [missing]") {
		t.Fatalf("missing section err=%v", err)
	}
	if _, err := Load(path, "broken"); err == nil || !strings.Contains(err.Error(), "unsupported kind") {
		t.Fatalf("broken kind err=%v", err)
	}
}

func TestBuilders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    Settings
		want string
	}{
		{
			name: "mssql",
			s:    Settings{Kind: "sqlserver", Host: "sql", User: "sa", Password: "pw", DBName: "gis"},
			want: "sqlserver://sa:pw@sql:1433?database=gis",
		},
		{
			name: "mysql",
			s:    Settings{Kind: "mysql", Host: "my", User: "u", Password: "p", DBName: "gis"},
			want: "u:p@tcp(my:3306)/gis?parseTime=true",
		},
		{
			name: "sqlite_default_path",
			s:    Settings{Kind: "sqlite"},
			want: "wfsetl.db",
		},
		{
			name: "sqlite_dsn_with_params",
			s:    Settings{Kind: "sqlite", DBName: "file:a.db?cache=shared", Params: "_fk=1"},
			want: "file:a.db?cache=shared&_fk=1",
		},
		{
			name: "duckdb_in_memory",
			s:    Settings{Kind: "duckdb"},
			want: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.s.ConnString()
			if err != nil {
				t.Fatalf("ConnString: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ConnString=%q, want %q", got, tt.want)
			}
		})
	}

	if _, err := (&Settings{Kind: "postgres"}).ConnString(); err != errNoDatabase {
		t.Fatalf("postgres without dbname err=%v", err)
	}
}

func TestOpen_MissingFileWarnsAndReturnsNil(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.ini"), "dev", zap.New(core))
	if err != nil || conn != nil {
		t.Fatalf("Open=(%v, %v), want (nil, nil)", conn, err)
	}
	if logs.FilterMessage(MissingConfigWarning).Len() != 1 {
		t.Fatalf("missing-config warning not logged: %v", logs.All())
	}
}

func TestOpen_SQLite(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "wfs.db")
	conn, err := Open(context.Background(), writeINI(t, dbPath), "local", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if conn.Dialect().Name() != "sqlite" {
		t.Fatalf("dialect=%s", conn.Dialect().Name())
	}
	if err := conn.Exec(context.Background(), "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("exec: %v", err)
	}
}

func TestOpen_BrokenConfigIsError(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), writeINI(t, "x.db"), "broken", nil); err == nil {
		t.Fatalf("expected error for broken section")
	}
}
