package routing

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/clientapi/auth/authtypes"
	"github.com/halcyonchat/halcyon/clientapi/jsonerror"
	"github.com/halcyonchat/halcyon/clientapi/threepid"
	"github.com/halcyonchat/halcyon/internal/httputil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/api"
	userdb "github.com/halcyonchat/halcyon/userapi/storage"
)

type reqTokenResponse struct {
	SID string `json:"sid"`
}

type threePIDsResponse struct {
	ThreePIDs []authtypes.ThreePID `json:"threepids"`
}

type forgetThreePIDResponse struct {
	IDServerUnbindResult string `json:"id_server_unbind_result"`
}

// RequestEmailToken implements:
//
//	POST /account/3pid/email/requestToken
//	POST /register/email/requestToken
func RequestEmailToken(req *http.Request, threePIDAPI api.ClientUserAPI, cfg *config.ClientAPI, client *threepid.IdentityClient, sessions *cache.Cache) httputil.JSONResponse {
	var body threepid.EmailAssociationRequest
	if reqErr := httputil.UnmarshalJSONRequest(req, &body); reqErr != nil {
		return *reqErr
	}

	// Check if the 3PID is already in use locally
	res := &api.QueryLocalpartForThreePIDResponse{}
	err := threePIDAPI.QueryLocalpartForThreePID(req.Context(), &api.QueryLocalpartForThreePIDRequest{
		ThreePID: body.Email,
		Medium:   authtypes.MediumEmail,
	}, res)
	if err != nil {
		logrus.WithError(err).Error("threePIDAPI.QueryLocalpartForThreePID failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}
	if len(res.Localpart) > 0 {
		return httputil.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.ThreePIDInUse(userdb.Err3PIDInUse.Error()),
		}
	}

	// A client retrying with the same secret and send_attempt gets the same
	// session back without the identity server sending another mail.
	sessionKey := sessionCacheKey(body.Secret, body.Email, body.SendAttempt)
	if sid, ok := sessions.Get(sessionKey); ok {
		return httputil.JSONResponse{
			Code: http.StatusOK,
			JSON: reqTokenResponse{SID: sid.(string)},
		}
	}

	var resp reqTokenResponse
	resp.SID, err = threepid.CreateSession(req.Context(), body, client)
	switch err.(type) {
	case nil:
	case threepid.ErrNotTrusted:
		logrus.WithError(err).Error("threepid.CreateSession failed")
		return httputil.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.NotTrusted(body.IDServer),
		}
	default:
		logrus.WithError(err).Error("threepid.CreateSession failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}
	sessions.SetDefault(sessionKey, resp.SID)

	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: resp,
	}
}

// RequestMSISDNToken implements POST /account/3pid/msisdn/requestToken
func RequestMSISDNToken(req *http.Request, threePIDAPI api.ClientUserAPI, cfg *config.ClientAPI, client *threepid.IdentityClient, sessions *cache.Cache) httputil.JSONResponse {
	var body threepid.PhoneAssociationRequest
	if reqErr := httputil.UnmarshalJSONRequest(req, &body); reqErr != nil {
		return *reqErr
	}

	res := &api.QueryLocalpartForThreePIDResponse{}
	err := threePIDAPI.QueryLocalpartForThreePID(req.Context(), &api.QueryLocalpartForThreePIDRequest{
		ThreePID: body.PhoneNumber,
		Medium:   authtypes.MediumMSISDN,
	}, res)
	if err != nil {
		logrus.WithError(err).Error("threePIDAPI.QueryLocalpartForThreePID failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}
	if len(res.Localpart) > 0 {
		return httputil.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.ThreePIDInUse(userdb.Err3PIDInUse.Error()),
		}
	}

	sessionKey := sessionCacheKey(body.Secret, body.PhoneNumber, body.SendAttempt)
	if sid, ok := sessions.Get(sessionKey); ok {
		return httputil.JSONResponse{
			Code: http.StatusOK,
			JSON: reqTokenResponse{SID: sid.(string)},
		}
	}

	var resp reqTokenResponse
	resp.SID, err = threepid.CreatePhoneSession(req.Context(), body, client)
	switch err.(type) {
	case nil:
	case threepid.ErrNotTrusted:
		logrus.WithError(err).Error("threepid.CreatePhoneSession failed")
		return httputil.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.NotTrusted(body.IDServer),
		}
	default:
		logrus.WithError(err).Error("threepid.CreatePhoneSession failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}
	sessions.SetDefault(sessionKey, resp.SID)

	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: resp,
	}
}

// CheckAndSave3PIDAssociation implements POST /account/3pid
func CheckAndSave3PIDAssociation(
	req *http.Request, threePIDAPI api.ClientUserAPI, device *api.Device,
	cfg *config.ClientAPI, client *threepid.IdentityClient,
) httputil.JSONResponse {
	var body threepid.AssociationCheckRequest
	if reqErr := httputil.UnmarshalJSONRequest(req, &body); reqErr != nil {
		return *reqErr
	}

	// Check if the association has been validated
	verified, address, medium, err := threepid.CheckAssociation(req.Context(), body.Creds, client)
	switch err.(type) {
	case nil:
	case threepid.ErrMissingParam:
		return httputil.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.MissingParam(err.Error()),
		}
	default:
		logrus.WithError(err).Error("threepid.CheckAssociation failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}

	if !verified {
		return httputil.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.ThreePIDAuthFailed("Failed to auth 3pid"),
		}
	}

	if body.Bind {
		// Publish the association on the identity server if requested
		err = threepid.PublishAssociation(req.Context(), body.Creds, device.UserID, client)
		switch err.(type) {
		case nil:
		case threepid.ErrMissingParam:
			return httputil.JSONResponse{
				Code: http.StatusBadRequest,
				JSON: jsonerror.MissingParam(err.Error()),
			}
		default:
			logrus.WithError(err).Error("threepid.PublishAssociation failed")
			return httputil.JSONResponse{
				Code: http.StatusInternalServerError,
				JSON: jsonerror.InternalServerError{},
			}
		}
	}

	// Save the association in the database
	localpart, domain, err := splitUserID(device.UserID)
	if err != nil {
		logrus.WithError(err).Error("splitUserID failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}

	if err = threePIDAPI.PerformSaveThreePIDAssociation(req.Context(), &api.PerformSaveThreePIDAssociationRequest{
		ThreePID:   address,
		Localpart:  localpart,
		ServerName: domain,
		Medium:     medium,
	}, &struct{}{}); err != nil {
		if err == userdb.Err3PIDInUse {
			return httputil.JSONResponse{
				Code: http.StatusBadRequest,
				JSON: jsonerror.ThreePIDInUse(err.Error()),
			}
		}
		logrus.WithError(err).Error("threePIDAPI.PerformSaveThreePIDAssociation failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}

	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct{}{},
	}
}

// GetAssociated3PIDs implements GET /account/3pid
func GetAssociated3PIDs(req *http.Request, threepidAPI api.ClientUserAPI, device *api.Device) httputil.JSONResponse {
	localpart, domain, err := splitUserID(device.UserID)
	if err != nil {
		logrus.WithError(err).Error("splitUserID failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}

	res := &api.QueryThreePIDsForLocalpartResponse{}
	err = threepidAPI.QueryThreePIDsForLocalpart(req.Context(), &api.QueryThreePIDsForLocalpartRequest{
		Localpart:  localpart,
		ServerName: domain,
	}, res)
	if err != nil {
		logrus.WithError(err).Error("threepidAPI.QueryThreePIDsForLocalpart failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}

	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: threePIDsResponse{res.ThreePIDs},
	}
}

// Forget3PID implements POST /account/3pid/delete. The association is removed
// locally and, where possible, unbound at the identity servers that hold it.
func Forget3PID(
	req *http.Request, threepidAPI api.ClientUserAPI, device *api.Device,
	client *threepid.IdentityClient,
) httputil.JSONResponse {
	var body threepid.ThreePID
	if reqErr := httputil.UnmarshalJSONRequest(req, &body); reqErr != nil {
		return *reqErr
	}

	changed, err := client.TryUnbind(req.Context(), device.UserID, body)
	switch err.(type) {
	case nil:
	case threepid.ErrRemoteServerFailed:
		logrus.WithError(err).Error("client.TryUnbind failed")
		return httputil.JSONResponse{
			Code: http.StatusBadGateway,
			JSON: jsonerror.Unknown("Failed to contact identity server"),
		}
	default:
		logrus.WithError(err).Error("client.TryUnbind failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}

	if err := threepidAPI.PerformForgetThreePID(req.Context(), &api.PerformForgetThreePIDRequest{
		ThreePID: body.Address,
		Medium:   body.Medium,
	}, &struct{}{}); err != nil {
		logrus.WithError(err).Error("threepidAPI.PerformForgetThreePID failed")
		return httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}

	result := "no-support"
	if changed {
		result = "success"
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: forgetThreePIDResponse{IDServerUnbindResult: result},
	}
}

func sessionCacheKey(secret, address string, sendAttempt int) string {
	return fmt.Sprintf("%s|%s|%d", secret, address, sendAttempt)
}

// splitUserID parses "@localpart:domain" into its two halves.
func splitUserID(userID string) (localpart, domain string, err error) {
	if len(userID) == 0 || userID[0] != '@' {
		return "", "", fmt.Errorf("user ID %q does not start with '@'", userID)
	}
	parts := strings.SplitN(userID[1:], ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("user ID %q is not of the form '@localpart:domain'", userID)
	}
	return parts[0], parts[1], nil
}
