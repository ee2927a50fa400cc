// Package auth implements authentication checks for the client API.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/clientapi/jsonerror"
	"github.com/halcyonchat/halcyon/internal/httputil"
	"github.com/halcyonchat/halcyon/userapi/api"
)

// QueryAccessTokenAPI looks up the device that an access token belongs to.
type QueryAccessTokenAPI interface {
	QueryAccessToken(ctx context.Context, token string) (*api.Device, error)
}

// VerifyUserFromRequest authenticates the HTTP request, on success returning
// the Device of the requester. On failure returns a JSON error response which
// can be sent to the client.
func VerifyUserFromRequest(req *http.Request, userAPI QueryAccessTokenAPI) (*api.Device, *httputil.JSONResponse) {
	token, err := ExtractAccessToken(req)
	if err != nil {
		return nil, &httputil.JSONResponse{
			Code: http.StatusUnauthorized,
			JSON: jsonerror.MatrixError{ErrCode: "M_MISSING_TOKEN", Err: err.Error()},
		}
	}
	device, err := userAPI.QueryAccessToken(req.Context(), token)
	if err != nil {
		logrus.WithError(err).Error("userAPI.QueryAccessToken failed")
		return nil, &httputil.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: jsonerror.InternalServerError{},
		}
	}
	if device == nil {
		return nil, &httputil.JSONResponse{
			Code: http.StatusUnauthorized,
			JSON: jsonerror.MatrixError{ErrCode: "M_UNKNOWN_TOKEN", Err: "Unknown token"},
		}
	}
	return device, nil
}

// ExtractAccessToken from a request, or return an error detailing what went
// wrong. The access token is given in the Authorization header.
func ExtractAccessToken(req *http.Request) (string, error) {
	authBearer := req.Header.Get("Authorization")
	if authBearer == "" {
		return "", fmt.Errorf("missing access token")
	}
	parts := strings.SplitN(authBearer, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid Authorization header")
	}
	return parts[1], nil
}
