package tables

import (
	"context"
	"database/sql"

	"github.com/halcyonchat/halcyon/clientapi/auth/authtypes"
	"github.com/halcyonchat/halcyon/userapi/api"
)

// ThreePIDTable stores the third-party identifiers associated with local
// accounts.
type ThreePIDTable interface {
	SelectLocalpartForThreePID(ctx context.Context, txn *sql.Tx, threepid string, medium string) (localpart string, serverName string, err error)
	SelectThreePIDsForLocalpart(ctx context.Context, localpart string, serverName string) (threepids []authtypes.ThreePID, err error)
	InsertThreePID(ctx context.Context, txn *sql.Tx, threepid, medium, localpart, serverName string) (err error)
	DeleteThreePID(ctx context.Context, txn *sql.Tx, threepid, medium string) (err error)
}

// BoundThreePIDTable records which identity servers this server has published
// a threepid binding to, so that the bindings can be removed again later. The
// id_server column always holds the canonical server name, never the host
// that was dialled for it.
type BoundThreePIDTable interface {
	InsertBoundThreePID(ctx context.Context, txn *sql.Tx, userID, medium, address, idServer string) error
	DeleteBoundThreePID(ctx context.Context, txn *sql.Tx, userID, medium, address, idServer string) error
	SelectIDServersForBoundThreePID(ctx context.Context, txn *sql.Tx, userID, medium, address string) ([]string, error)
}

// DeviceTable stores the devices of local users, keyed by access token.
type DeviceTable interface {
	InsertDevice(ctx context.Context, txn *sql.Tx, deviceID, localpart, serverName, accessToken string) error
	SelectDeviceByToken(ctx context.Context, accessToken string) (*api.Device, error)
	DeleteDevice(ctx context.Context, txn *sql.Tx, deviceID, localpart, serverName string) error
}
