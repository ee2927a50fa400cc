package threepid

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/halcyonchat/halcyon/setup/config"
)

// Credentials identifies a validated 3PID session at an identity server.
type Credentials struct {
	SID          string
	ClientSecret string
	IDServer     string
}

// UnmarshalJSON accepts both the canonical and the historical spellings of
// the id_server and client_secret fields. Where both spellings are present,
// the canonical one wins.
func (c *Credentials) UnmarshalJSON(data []byte) error {
	c.SID = gjson.GetBytes(data, "sid").String()
	c.ClientSecret = firstOfKeys(data, "client_secret", "clientSecret")
	c.IDServer = firstOfKeys(data, "id_server", "idServer")
	return nil
}

func firstOfKeys(data []byte, keys ...string) string {
	for _, key := range keys {
		if r := gjson.GetBytes(data, key); r.Exists() {
			return r.String()
		}
	}
	return ""
}

// check returns an ErrMissingParam if either of the fields that
// every identity-server operation needs is absent under all of its accepted
// spellings. It never performs any I/O.
func (c *Credentials) check() error {
	if c.IDServer == "" {
		return ErrMissingParam{Param: "id_server"}
	}
	if c.ClientSecret == "" {
		return ErrMissingParam{Param: "client_secret"}
	}
	return nil
}

// ErrMissingParam is returned when the caller's input is missing a required
// field. Surfaces to clients as a 400 with M_MISSING_PARAM.
type ErrMissingParam struct {
	Param string
}

func (e ErrMissingParam) Error() string {
	return fmt.Sprintf("no %s in creds", e.Param)
}

// ErrNotTrusted is returned when the caller names an identity server that is
// not in the trusted list. Surfaces to clients as a 400 with
// M_SERVER_NOT_TRUSTED.
type ErrNotTrusted struct {
	Server string
}

func (e ErrNotTrusted) Error() string {
	return fmt.Sprintf("untrusted identity server '%s'", e.Server)
}

// ErrRemoteServerFailed is returned when an identity server was reachable but
// returned an unexpected failure. Surfaces to clients as a 502.
type ErrRemoteServerFailed struct {
	Server string
}

func (e ErrRemoteServerFailed) Error() string {
	return fmt.Sprintf("failed to unbind threepid at identity server '%s'", e.Server)
}

// isTrusted decides whether the given identity server may be contacted for
// verification and token requests. The testing override grants trust to any
// host but is loudly logged; it must never be enabled in production.
func isTrusted(idServer string, cfg *config.ClientAPI) bool {
	for _, server := range cfg.TrustedIDServers {
		if idServer == server {
			return true
		}
	}
	if cfg.TrustAnyIDServerForTesting {
		logrus.WithField("id_server", idServer).Warn(
			"Trusting untrustworthy identity server because " +
				"'trust_any_id_server_for_testing' is set in the config",
		)
		return true
	}
	return false
}

// resolveIdentityServer maps the canonical name of an identity server to the
// host that should actually be dialled for it. It is only ever applied at the
// point an outbound connection is made: trust checks, request signing and
// storage all use the canonical name.
func resolveIdentityServer(idServer string, cfg *config.ClientAPI) string {
	if host, ok := cfg.RewriteIDServerURLs[idServer]; ok {
		return host
	}
	return idServer
}
