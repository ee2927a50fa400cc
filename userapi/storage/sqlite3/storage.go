package sqlite3

import (
	"database/sql"

	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/storage/shared"
)

// Database stores the threepid state needed by the user API.
type Database struct {
	shared.Database
	db     *sql.DB
	writer sqlutil.Writer
}

// NewDatabase opens a new database
func NewDatabase(conMan *sqlutil.Connections, dbProperties *config.DatabaseOptions) (*Database, error) {
	var d Database
	var err error
	if d.db, d.writer, err = conMan.Connection(dbProperties); err != nil {
		return nil, err
	}
	threepids, err := NewSQLiteThreePIDTable(d.db)
	if err != nil {
		return nil, err
	}
	boundThreePIDs, err := NewSQLiteBoundThreePIDTable(d.db)
	if err != nil {
		return nil, err
	}
	devices, err := NewSQLiteDeviceTable(d.db)
	if err != nil {
		return nil, err
	}
	d.Database = shared.Database{
		DB:             d.db,
		Writer:         d.writer,
		ThreePIDs:      threepids,
		BoundThreePIDs: boundThreePIDs,
		Devices:        devices,
	}
	return &d, nil
}
