//go:build !wasm
// +build !wasm

package storage

import (
	"fmt"

	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/storage/postgres"
	"github.com/halcyonchat/halcyon/userapi/storage/sqlite3"
)

// NewUserDatabase opens the database backend selected by the connection
// string. An unrecognised connection string is a configuration error and is
// fatal to startup.
func NewUserDatabase(conMan *sqlutil.Connections, dbProperties *config.DatabaseOptions) (Database, error) {
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		return sqlite3.NewDatabase(conMan, dbProperties)
	case dbProperties.ConnectionString.IsPostgres():
		return postgres.NewDatabase(conMan, dbProperties)
	default:
		return nil, fmt.Errorf("unexpected database type in connection string %q", dbProperties.ConnectionString)
	}
}
