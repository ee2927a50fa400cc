package jsonerror

import (
	"encoding/json"
	"fmt"
)

// MatrixError represents the "standard error response" in Matrix.
// http://matrix.org/docs/spec/client_server/r0.2.0.html#api-standards
type MatrixError struct {
	ErrCode string `json:"errcode"`
	Err     string `json:"error"`
}

func (e MatrixError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Err)
}

// InternalServerError returns a 500 Internal Server Error in a matrix-compliant
// format.
type InternalServerError struct{}

func (e InternalServerError) MarshalJSON() ([]byte, error) {
	return json.Marshal(MatrixError{
		ErrCode: "M_UNKNOWN",
		Err:     "Internal Server Error",
	})
}

// Unknown is an unexpected error
func Unknown(msg string) *MatrixError {
	return &MatrixError{"M_UNKNOWN", msg}
}

// Forbidden is an error when the client tries to access a resource
// they are not allowed to access.
func Forbidden(msg string) *MatrixError {
	return &MatrixError{"M_FORBIDDEN", msg}
}

// BadJSON is an error when the client supplies malformed JSON.
func BadJSON(msg string) *MatrixError {
	return &MatrixError{"M_BAD_JSON", msg}
}

// NotJSON is an error when the client supplies something that is not JSON
// to a JSON endpoint.
func NotJSON(msg string) *MatrixError {
	return &MatrixError{"M_NOT_JSON", msg}
}

// NotFound is an error when the client tries to access an unknown resource.
func NotFound(msg string) *MatrixError {
	return &MatrixError{"M_NOT_FOUND", msg}
}

// MissingParam is an error when the client did not supply a required
// parameter in the request body.
func MissingParam(msg string) *MatrixError {
	return &MatrixError{"M_MISSING_PARAM", msg}
}

// NotTrusted is an error which is returned when the client asks the server to
// proxy a request (e.g. 3PID association) to a server that isn't trusted
func NotTrusted(serverName string) *MatrixError {
	return &MatrixError{
		ErrCode: "M_SERVER_NOT_TRUSTED",
		Err:     fmt.Sprintf("Untrusted server '%s'", serverName),
	}
}

// ThreePIDInUse is an error when the client tries to associate a third-party
// identifier that is already associated with a local account.
func ThreePIDInUse(msg string) *MatrixError {
	return &MatrixError{"M_THREEPID_IN_USE", msg}
}

// ThreePIDAuthFailed is an error when the third-party identifier could not
// be verified with the identity server.
func ThreePIDAuthFailed(msg string) *MatrixError {
	return &MatrixError{"M_THREEPID_AUTH_FAILED", msg}
}
