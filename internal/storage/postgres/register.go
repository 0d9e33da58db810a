package postgres

import "wfsetl/internal/storage"

func init() {
	// registers the PostGIS-backed factory
	storage.Register("postgres", Open)
	storage.RegisterDialect("postgres", Dialect{})
}
