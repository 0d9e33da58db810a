// Package all links every storage backend into the binary.
package all

import (
	_ "wfsetl/internal/storage/duckdb"
	_ "wfsetl/internal/storage/mssql"
	_ "wfsetl/internal/storage/mysql"
	_ "wfsetl/internal/storage/postgres"
	_ "wfsetl/internal/storage/sqlite"
)
