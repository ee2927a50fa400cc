package storage

import (
	"context"

	"github.com/halcyonchat/halcyon/clientapi/auth/authtypes"
	"github.com/halcyonchat/halcyon/userapi/api"
	"github.com/halcyonchat/halcyon/userapi/storage/shared"
)

// Err3PIDInUse is returned when trying to associate a third-party identifier
// that is already associated with a different local account.
var Err3PIDInUse = shared.ErrThreePIDInUse

// Database is what the user API requires of its persistent storage for
// threepid handling.
type Database interface {
	// SaveThreePIDAssociation associates a third-party identifier with a
	// local account. Returns Err3PIDInUse if the identifier is already
	// associated with an account.
	SaveThreePIDAssociation(ctx context.Context, threepid, localpart, serverName, medium string) error
	RemoveThreePIDAssociation(ctx context.Context, threepid, medium string) error
	GetLocalpartForThreePID(ctx context.Context, threepid, medium string) (localpart, serverName string, err error)
	GetThreePIDsForLocalpart(ctx context.Context, localpart, serverName string) ([]authtypes.ThreePID, error)

	// AddUserBoundThreePID records that an identity server holds a binding
	// for the given user and threepid.
	AddUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error
	// RemoveUserBoundThreePID removes the record of a binding at an identity
	// server. It is a no-op if no such record exists.
	RemoveUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error
	// GetIDServersForBoundThreePID returns the identity servers recorded as
	// holding a binding for the given user and threepid.
	GetIDServersForBoundThreePID(ctx context.Context, userID, medium, address string) ([]string, error)

	CreateDevice(ctx context.Context, localpart, serverName, deviceID, accessToken string) error
	// GetDeviceByAccessToken returns nil with no error if the token is not
	// known.
	GetDeviceByAccessToken(ctx context.Context, accessToken string) (*api.Device, error)
	RemoveDevice(ctx context.Context, deviceID, localpart, serverName string) error
}
