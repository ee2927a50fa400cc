package shared

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/halcyonchat/halcyon/clientapi/auth/authtypes"
	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/userapi/api"
	"github.com/halcyonchat/halcyon/userapi/storage/tables"
)

// ErrThreePIDInUse is returned by SaveThreePIDAssociation when the identifier
// is already associated with an account.
var ErrThreePIDInUse = errors.New("this third-party identifier is already in use")

// Database is shared between the PostgreSQL and SQLite backends: the table
// implementations differ, the logic over them does not.
type Database struct {
	DB             *sql.DB
	Writer         sqlutil.Writer
	ThreePIDs      tables.ThreePIDTable
	BoundThreePIDs tables.BoundThreePIDTable
	Devices        tables.DeviceTable
}

func (d *Database) SaveThreePIDAssociation(ctx context.Context, threepid, localpart, serverName, medium string) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		user, _, err := d.ThreePIDs.SelectLocalpartForThreePID(ctx, txn, threepid, medium)
		if err != nil {
			return err
		}
		if user != "" {
			return ErrThreePIDInUse
		}
		return d.ThreePIDs.InsertThreePID(ctx, txn, threepid, medium, localpart, serverName)
	})
}

func (d *Database) RemoveThreePIDAssociation(ctx context.Context, threepid, medium string) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		return d.ThreePIDs.DeleteThreePID(ctx, txn, threepid, medium)
	})
}

func (d *Database) GetLocalpartForThreePID(ctx context.Context, threepid, medium string) (string, string, error) {
	return d.ThreePIDs.SelectLocalpartForThreePID(ctx, nil, threepid, medium)
}

func (d *Database) GetThreePIDsForLocalpart(ctx context.Context, localpart, serverName string) ([]authtypes.ThreePID, error) {
	return d.ThreePIDs.SelectThreePIDsForLocalpart(ctx, localpart, serverName)
}

func (d *Database) AddUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		err := d.BoundThreePIDs.InsertBoundThreePID(ctx, txn, userID, medium, address, idServer)
		if sqlutil.IsUniqueConstraintViolationErr(err) {
			// the binding is already recorded, nothing to do
			return nil
		}
		return err
	})
}

func (d *Database) RemoveUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		return d.BoundThreePIDs.DeleteBoundThreePID(ctx, txn, userID, medium, address, idServer)
	})
}

func (d *Database) GetIDServersForBoundThreePID(ctx context.Context, userID, medium, address string) ([]string, error) {
	return d.BoundThreePIDs.SelectIDServersForBoundThreePID(ctx, nil, userID, medium, address)
}

func (d *Database) CreateDevice(ctx context.Context, localpart, serverName, deviceID, accessToken string) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		return d.Devices.InsertDevice(ctx, txn, deviceID, localpart, serverName, accessToken)
	})
}

// GetDeviceByAccessToken returns nil with no error when the token is unknown,
// so that callers can distinguish a bad token from a failed lookup.
func (d *Database) GetDeviceByAccessToken(ctx context.Context, accessToken string) (*api.Device, error) {
	device, err := d.Devices.SelectDeviceByToken(ctx, accessToken)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return device, err
}

func (d *Database) RemoveDevice(ctx context.Context, deviceID, localpart, serverName string) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		return d.Devices.DeleteDevice(ctx, txn, deviceID, localpart, serverName)
	})
}
