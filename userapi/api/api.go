package api

import (
	"context"

	"github.com/halcyonchat/halcyon/clientapi/auth/authtypes"
)

// ClientUserAPI is the subset of the user API used by the client API service.
type ClientUserAPI interface {
	QueryThreePIDsForLocalpart(ctx context.Context, req *QueryThreePIDsForLocalpartRequest, res *QueryThreePIDsForLocalpartResponse) error
	QueryLocalpartForThreePID(ctx context.Context, req *QueryLocalpartForThreePIDRequest, res *QueryLocalpartForThreePIDResponse) error
	PerformSaveThreePIDAssociation(ctx context.Context, req *PerformSaveThreePIDAssociationRequest, res *struct{}) error
	PerformForgetThreePID(ctx context.Context, req *PerformForgetThreePIDRequest, res *struct{}) error
}

type QueryThreePIDsForLocalpartRequest struct {
	Localpart  string
	ServerName string
}

type QueryThreePIDsForLocalpartResponse struct {
	ThreePIDs []authtypes.ThreePID
}

type QueryLocalpartForThreePIDRequest struct {
	ThreePID string
	Medium   string
}

type QueryLocalpartForThreePIDResponse struct {
	Localpart  string
	ServerName string
}

type PerformSaveThreePIDAssociationRequest struct {
	ThreePID   string
	Localpart  string
	ServerName string
	Medium     string
}

type PerformForgetThreePIDRequest struct {
	ThreePID string
	Medium   string
}

// Device represents a client's authenticated session. Only the fields the
// threepid handlers need are carried here.
type Device struct {
	UserID      string
	ID          string
	AccessToken string
}
