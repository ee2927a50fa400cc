package threepid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"

	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/producers"
)

// Fixed identity-service API paths. These are the remote server's contract
// and are versioned independently of anything local.
const (
	getValidated3PIDPath   = "/_matrix/identity/api/v1/3pid/getValidated3pid"
	bind3PIDPath           = "/_matrix/identity/api/v1/3pid/bind"
	unbind3PIDPath         = "/_matrix/identity/api/v1/3pid/unbind"
	emailTokenRequestPath  = "/_matrix/identity/api/v1/validate/email/requestToken"
	msisdnTokenRequestPath = "/_matrix/identity/api/v1/validate/msisdn/requestToken"
)

var identityRequestsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "halcyon",
		Subsystem: "clientapi",
		Name:      "identity_server_requests_total",
		Help:      "Requests made to identity servers, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// RequestSigner produces Authorization header values for requests sent to
// other servers. The destination passed in is always the canonical identity
// server name, even when rewrite rules will redirect the connection.
type RequestSigner interface {
	SignRequest(destination, method, uri string, content interface{}) (string, error)
}

// BindingStore records which identity servers hold a binding for a user's
// third-party identifier.
type BindingStore interface {
	AddUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error
	RemoveUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error
	GetIDServersForBoundThreePID(ctx context.Context, userID, medium, address string) ([]string, error)
}

// BindingEventProducer is notified after the set of recorded bindings
// changes.
type BindingEventProducer interface {
	SendBindingChange(change producers.ThreePIDBindingChange) error
}

// ThreePID names the identifier in an unbind request. IDServer, when set,
// restricts the unbind to that one identity server.
type ThreePID struct {
	Medium   string `json:"medium"`
	Address  string `json:"address"`
	IDServer string `json:"id_server,omitempty"`
}

// IdentityClient issues 3PID operations against identity servers and keeps
// the local record of bindings consistent with their outcomes.
type IdentityClient struct {
	cfg       *config.ClientAPI
	transport Transport
	signer    RequestSigner
	db        BindingStore
	producer  BindingEventProducer
}

func NewIdentityClient(cfg *config.ClientAPI, transport Transport, signer RequestSigner, db BindingStore, producer BindingEventProducer) *IdentityClient {
	return &IdentityClient{
		cfg:       cfg,
		transport: transport,
		signer:    signer,
		db:        db,
		producer:  producer,
	}
}

// GetValidated3PID asks the identity server named in the credentials for the
// 3PID that the session validated. It returns nil with no error both when the
// identity server is untrusted (so that callers probing arbitrary hosts learn
// nothing about the trust configuration) and when the response has no usable
// medium in it.
func (c *IdentityClient) GetValidated3PID(ctx context.Context, creds *Credentials) (map[string]interface{}, error) {
	if err := creds.check(); err != nil {
		return nil, err
	}
	if !isTrusted(creds.IDServer, c.cfg) {
		logrus.WithField("id_server", creds.IDServer).Warn(
			"Rejecting 3PID credentials: not a trusted identity server",
		)
		identityRequestsCounter.WithLabelValues("get_validated_3pid", "untrusted").Inc()
		return nil, nil
	}

	host := resolveIdentityServer(creds.IDServer, c.cfg)
	query := url.Values{}
	query.Set("sid", creds.SID)
	query.Set("client_secret", creds.ClientSecret)
	contents, err := c.transport.GetJSON(ctx, fmt.Sprintf("https://%s%s", host, getValidated3PIDPath), query)
	if err != nil {
		identityRequestsCounter.WithLabelValues("get_validated_3pid", "error").Inc()
		return nil, err
	}
	identityRequestsCounter.WithLabelValues("get_validated_3pid", "ok").Inc()

	if !gjson.GetBytes(contents, "medium").Exists() {
		return nil, nil
	}
	var data map[string]interface{}
	if err = json.Unmarshal(contents, &data); err != nil {
		return nil, nil
	}
	return data, nil
}

// Bind publishes an association between a user and a validated 3PID on the
// identity server named in the credentials, and records which server the
// binding was made at. There is deliberately no trust check here: binding is
// user-initiated and was authorised upstream, unlike verification.
//
// If the identity server answers with a structured Matrix error, the error
// body is returned as the call's payload rather than as an error. Clients
// have relied on seeing the errcode in a 200 response since the earliest
// versions of this endpoint, so the shape is preserved.
func (c *IdentityClient) Bind(ctx context.Context, creds *Credentials, userID string) (map[string]interface{}, error) {
	if err := creds.check(); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"id_server": creds.IDServer,
		"user_id":   userID,
	}).Debug("Binding threepid")

	host := resolveIdentityServer(creds.IDServer, c.cfg)
	body := map[string]interface{}{
		"sid":           creds.SID,
		"client_secret": creds.ClientSecret,
		"mxid":          userID,
	}
	contents, err := c.transport.PostJSON(ctx, fmt.Sprintf("https://%s%s", host, bind3PIDPath), body, nil)
	if err != nil {
		if remoteErr, ok := err.(RemoteError); ok && gjson.GetBytes(remoteErr.Contents, "errcode").Exists() {
			identityRequestsCounter.WithLabelValues("bind", "remote_error").Inc()
			var data map[string]interface{}
			if jsonErr := json.Unmarshal(remoteErr.Contents, &data); jsonErr != nil {
				return nil, err
			}
			return data, nil
		}
		identityRequestsCounter.WithLabelValues("bind", "error").Inc()
		return nil, err
	}
	identityRequestsCounter.WithLabelValues("bind", "ok").Inc()

	var data map[string]interface{}
	if err = json.Unmarshal(contents, &data); err != nil {
		return nil, err
	}

	// Remember where we bound the threepid. The medium and address come from
	// the identity server's response, not from the caller, and the id_server
	// recorded is the canonical name, not the host that was dialled.
	medium, _ := data["medium"].(string)
	address, _ := data["address"].(string)
	if err = c.db.AddUserBoundThreePID(ctx, userID, medium, address, creds.IDServer); err != nil {
		return nil, err
	}
	c.notifyBindingChange(userID, medium, address, creds.IDServer, true)
	return data, nil
}

// TryUnbind removes a binding from every identity server recorded as holding
// one for the given user and 3PID, or from just the one named in the request.
// It returns true only if every contacted server reported success; false if
// there was nowhere to unbind from, or if any server does not support
// unbinding.
func (c *IdentityClient) TryUnbind(ctx context.Context, userID string, threepid ThreePID) (bool, error) {
	var idServers []string
	if threepid.IDServer != "" {
		idServers = []string{threepid.IDServer}
	} else {
		var err error
		idServers, err = c.db.GetIDServersForBoundThreePID(ctx, userID, threepid.Medium, threepid.Address)
		if err != nil {
			return false, err
		}
	}

	// We don't know where to unbind, so we don't have a choice but to return
	if len(idServers) == 0 {
		return false, nil
	}

	changed := atomic.NewBool(true)
	errs := make([]error, len(idServers))
	var wg sync.WaitGroup
	for i, idServer := range idServers {
		wg.Add(1)
		go func(i int, idServer string) {
			defer wg.Done()
			ok, err := c.TryUnbindWithServer(ctx, userID, threepid, idServer)
			if err != nil {
				errs[i] = err
				return
			}
			if !ok {
				changed.Store(false)
			}
		}(i, idServer)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return false, err
		}
	}
	return changed.Load(), nil
}

// TryUnbindWithServer removes a binding from a single identity server. It
// returns false without an error when the server does not support unbinding.
// The local record of the binding is removed whenever the remote gave a
// definitive answer, including "not supported"; it is kept when the remote
// failed unexpectedly, so that a later attempt can retry.
func (c *IdentityClient) TryUnbindWithServer(ctx context.Context, userID string, threepid ThreePID, idServer string) (bool, error) {
	content := map[string]interface{}{
		"mxid": userID,
		"threepid": map[string]string{
			"medium":  threepid.Medium,
			"address": threepid.Address,
		},
	}

	// The request must be signed against the canonical identity server name
	// before any rewrite rule is applied: the receiving end verifies the
	// destination in the signature, and it knows nothing about the host we
	// were redirected to.
	authHeader, err := c.signer.SignRequest(idServer, "POST", unbind3PIDPath, content)
	if err != nil {
		return false, err
	}
	host := resolveIdentityServer(idServer, c.cfg)

	changed := true
	_, err = c.transport.PostJSON(
		ctx,
		fmt.Sprintf("https://%s%s", host, unbind3PIDPath),
		content,
		map[string]string{"Authorization": authHeader},
	)
	switch remoteErr := err.(type) {
	case nil:
		identityRequestsCounter.WithLabelValues("unbind", "ok").Inc()
	case RemoteError:
		changed = false
		if remoteErr.Code == 400 || remoteErr.Code == 404 || remoteErr.Code == 501 {
			// The remote server probably doesn't support unbinding (yet)
			logrus.WithFields(logrus.Fields{
				"id_server": idServer,
				"code":      remoteErr.Code,
			}).Warn("Received error response while unbinding threepid")
			identityRequestsCounter.WithLabelValues("unbind", "unsupported").Inc()
		} else {
			logrus.WithError(err).WithField("id_server", idServer).Error(
				"Failed to unbind threepid on identity server",
			)
			identityRequestsCounter.WithLabelValues("unbind", "error").Inc()
			return false, ErrRemoteServerFailed{Server: idServer}
		}
	default:
		identityRequestsCounter.WithLabelValues("unbind", "error").Inc()
		return false, ErrRemoteServerFailed{Server: idServer}
	}

	if err = c.db.RemoveUserBoundThreePID(ctx, userID, threepid.Medium, threepid.Address, idServer); err != nil {
		return false, err
	}
	c.notifyBindingChange(userID, threepid.Medium, threepid.Address, idServer, false)
	return changed, nil
}

// RequestEmailToken proxies a validation-token request to a trusted identity
// server, which will email the token to the address.
func (c *IdentityClient) RequestEmailToken(ctx context.Context, idServer, email, clientSecret string, sendAttempt int, nextLink string) (map[string]interface{}, error) {
	if !isTrusted(idServer, c.cfg) {
		return nil, ErrNotTrusted{Server: idServer}
	}

	params := map[string]interface{}{
		"email":         email,
		"client_secret": clientSecret,
		"send_attempt":  sendAttempt,
	}
	if nextLink != "" {
		params["next_link"] = nextLink
	}

	host := resolveIdentityServer(idServer, c.cfg)
	contents, err := c.transport.PostJSON(ctx, fmt.Sprintf("https://%s%s", host, emailTokenRequestPath), params, nil)
	if err != nil {
		identityRequestsCounter.WithLabelValues("request_email_token", "error").Inc()
		return nil, err
	}
	identityRequestsCounter.WithLabelValues("request_email_token", "ok").Inc()

	var data map[string]interface{}
	if err = json.Unmarshal(contents, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// RequestMSISDNToken proxies a validation-token request for a phone number to
// a trusted identity server. Any extra parameters given by the caller are
// passed through to the identity server verbatim.
func (c *IdentityClient) RequestMSISDNToken(ctx context.Context, idServer, country, phoneNumber, clientSecret string, sendAttempt int, extraParams map[string]interface{}) (map[string]interface{}, error) {
	if !isTrusted(idServer, c.cfg) {
		return nil, ErrNotTrusted{Server: idServer}
	}

	params := map[string]interface{}{
		"country":       country,
		"phone_number":  phoneNumber,
		"client_secret": clientSecret,
		"send_attempt":  sendAttempt,
	}
	for k, v := range extraParams {
		params[k] = v
	}

	host := resolveIdentityServer(idServer, c.cfg)
	contents, err := c.transport.PostJSON(ctx, fmt.Sprintf("https://%s%s", host, msisdnTokenRequestPath), params, nil)
	if err != nil {
		identityRequestsCounter.WithLabelValues("request_msisdn_token", "error").Inc()
		return nil, err
	}
	identityRequestsCounter.WithLabelValues("request_msisdn_token", "ok").Inc()

	var data map[string]interface{}
	if err = json.Unmarshal(contents, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *IdentityClient) notifyBindingChange(userID, medium, address, idServer string, bound bool) {
	if c.producer == nil {
		return
	}
	if err := c.producer.SendBindingChange(producers.ThreePIDBindingChange{
		UserID:   userID,
		Medium:   medium,
		Address:  address,
		IDServer: idServer,
		Bound:    bound,
	}); err != nil {
		logrus.WithError(err).Warn("Failed to produce threepid binding change event")
	}
}
