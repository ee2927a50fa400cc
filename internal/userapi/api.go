package userapi

import (
	"context"

	"github.com/halcyonchat/halcyon/userapi/api"
	"github.com/halcyonchat/halcyon/userapi/storage"
)

// UserInternalAPI answers queries from other components of the server about
// local accounts and their third-party identifiers.
type UserInternalAPI struct {
	DB         storage.Database
	ServerName string
}

func (a *UserInternalAPI) QueryThreePIDsForLocalpart(ctx context.Context, req *api.QueryThreePIDsForLocalpartRequest, res *api.QueryThreePIDsForLocalpartResponse) error {
	threepids, err := a.DB.GetThreePIDsForLocalpart(ctx, req.Localpart, req.ServerName)
	if err != nil {
		return err
	}
	res.ThreePIDs = threepids
	return nil
}

func (a *UserInternalAPI) QueryLocalpartForThreePID(ctx context.Context, req *api.QueryLocalpartForThreePIDRequest, res *api.QueryLocalpartForThreePIDResponse) error {
	localpart, serverName, err := a.DB.GetLocalpartForThreePID(ctx, req.ThreePID, req.Medium)
	if err != nil {
		return err
	}
	res.Localpart = localpart
	res.ServerName = serverName
	return nil
}

func (a *UserInternalAPI) PerformSaveThreePIDAssociation(ctx context.Context, req *api.PerformSaveThreePIDAssociationRequest, res *struct{}) error {
	return a.DB.SaveThreePIDAssociation(ctx, req.ThreePID, req.Localpart, req.ServerName, req.Medium)
}

func (a *UserInternalAPI) PerformForgetThreePID(ctx context.Context, req *api.PerformForgetThreePIDRequest, res *struct{}) error {
	return a.DB.RemoveThreePIDAssociation(ctx, req.ThreePID, req.Medium)
}

// QueryAccessToken returns the device that owns the given access token, or
// nil if the token is not known.
func (a *UserInternalAPI) QueryAccessToken(ctx context.Context, token string) (*api.Device, error) {
	return a.DB.GetDeviceByAccessToken(ctx, token)
}
