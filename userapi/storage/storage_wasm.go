//go:build wasm
// +build wasm

package storage

import (
	"fmt"

	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/storage/sqlite3"
)

// NewUserDatabase opens the database backend selected by the connection
// string. The PostgreSQL driver is unavailable on this platform, so asking
// for it is a configuration error.
func NewUserDatabase(conMan *sqlutil.Connections, dbProperties *config.DatabaseOptions) (Database, error) {
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		return sqlite3.NewDatabase(conMan, dbProperties)
	case dbProperties.ConnectionString.IsPostgres():
		return nil, fmt.Errorf("can't use the PostgreSQL implementation: driver not available on this platform")
	default:
		return nil, fmt.Errorf("unexpected database type in connection string %q", dbProperties.ConnectionString)
	}
}
