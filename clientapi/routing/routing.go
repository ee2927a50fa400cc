package routing

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"github.com/halcyonchat/halcyon/clientapi/auth"
	"github.com/halcyonchat/halcyon/clientapi/threepid"
	"github.com/halcyonchat/halcyon/internal/httputil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/api"
)

const sessionCacheTTL = time.Hour * 24

// Setup configures the given mux with the threepid client-server listeners.
func Setup(
	csMux *mux.Router,
	cfg *config.ClientAPI,
	threePIDAPI api.ClientUserAPI,
	tokenAPI auth.QueryAccessTokenAPI,
	client *threepid.IdentityClient,
) {
	v3mux := csMux.PathPrefix("/{apiversion:(?:r0|v3)}/").Subrouter()

	sessions := cache.New(sessionCacheTTL, time.Hour)

	v3mux.Handle("/account/3pid/email/requestToken",
		httputil.MakeExternalAPI("account_3pid_request_token", func(req *http.Request) httputil.JSONResponse {
			return RequestEmailToken(req, threePIDAPI, cfg, client, sessions)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v3mux.Handle("/register/email/requestToken",
		httputil.MakeExternalAPI("register_request_token", func(req *http.Request) httputil.JSONResponse {
			return RequestEmailToken(req, threePIDAPI, cfg, client, sessions)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v3mux.Handle("/account/3pid/msisdn/requestToken",
		httputil.MakeExternalAPI("account_3pid_request_msisdn_token", func(req *http.Request) httputil.JSONResponse {
			return RequestMSISDNToken(req, threePIDAPI, cfg, client, sessions)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v3mux.Handle("/account/3pid",
		httputil.MakeExternalAPI("account_3pid", func(req *http.Request) httputil.JSONResponse {
			device, errRes := auth.VerifyUserFromRequest(req, tokenAPI)
			if errRes != nil {
				return *errRes
			}
			switch req.Method {
			case http.MethodGet:
				return GetAssociated3PIDs(req, threePIDAPI, device)
			case http.MethodPost:
				return CheckAndSave3PIDAssociation(req, threePIDAPI, device, cfg, client)
			}
			return httputil.MessageResponse(http.StatusMethodNotAllowed, "Bad method")
		}),
	).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)

	v3mux.Handle("/account/3pid/delete",
		httputil.MakeExternalAPI("account_3pid_delete", func(req *http.Request) httputil.JSONResponse {
			device, errRes := auth.VerifyUserFromRequest(req, tokenAPI)
			if errRes != nil {
				return *errRes
			}
			return Forget3PID(req, threePIDAPI, device, client)
		}),
	).Methods(http.MethodPost, http.MethodOptions)
}
