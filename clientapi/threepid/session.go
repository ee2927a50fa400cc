package threepid

import (
	"context"

	"github.com/tidwall/gjson"
)

// EmailAssociationRequest is the request body for requesting a validation
// token to be emailed out.
type EmailAssociationRequest struct {
	IDServer    string `json:"id_server"`
	Secret      string `json:"client_secret"`
	Email       string `json:"email"`
	SendAttempt int    `json:"send_attempt"`
	NextLink    string `json:"next_link"`
}

// PhoneAssociationRequest is the request body for requesting a validation
// token to be sent to a phone number.
type PhoneAssociationRequest struct {
	IDServer    string                 `json:"id_server"`
	Secret      string                 `json:"client_secret"`
	Country     string                 `json:"country"`
	PhoneNumber string                 `json:"phone_number"`
	SendAttempt int                    `json:"send_attempt"`
	ExtraParams map[string]interface{} `json:"-"`
}

// AssociationCheckRequest is the request body for associating a validated
// 3PID with an account, optionally publishing the association on the
// identity server.
type AssociationCheckRequest struct {
	Creds Credentials
	Bind  bool
}

// UnmarshalJSON accepts both the canonical and the historical spellings of
// the three_pid_creds field.
func (r *AssociationCheckRequest) UnmarshalJSON(data []byte) error {
	raw := gjson.GetBytes(data, "three_pid_creds")
	if !raw.Exists() {
		raw = gjson.GetBytes(data, "threePidCreds")
	}
	if raw.Exists() {
		if err := r.Creds.UnmarshalJSON([]byte(raw.Raw)); err != nil {
			return err
		}
	}
	r.Bind = gjson.GetBytes(data, "bind").Bool()
	return nil
}

// CreateSession requests a validation token to be emailed out by the given
// identity server, creating a validation session there. Returns the session
// ID the identity server allocated.
func CreateSession(ctx context.Context, req EmailAssociationRequest, client *IdentityClient) (string, error) {
	data, err := client.RequestEmailToken(ctx, req.IDServer, req.Email, req.Secret, req.SendAttempt, req.NextLink)
	if err != nil {
		return "", err
	}
	sid, _ := data["sid"].(string)
	return sid, nil
}

// CreatePhoneSession is the phone-number variant of CreateSession.
func CreatePhoneSession(ctx context.Context, req PhoneAssociationRequest, client *IdentityClient) (string, error) {
	data, err := client.RequestMSISDNToken(ctx, req.IDServer, req.Country, req.PhoneNumber, req.Secret, req.SendAttempt, req.ExtraParams)
	if err != nil {
		return "", err
	}
	sid, _ := data["sid"].(string)
	return sid, nil
}

// CheckAssociation checks whether a validation session has been completed,
// returning the validated address and medium if it has.
func CheckAssociation(ctx context.Context, creds Credentials, client *IdentityClient) (verified bool, address, medium string, err error) {
	data, err := client.GetValidated3PID(ctx, &creds)
	if err != nil || data == nil {
		return false, "", "", err
	}
	medium, _ = data["medium"].(string)
	address, _ = data["address"].(string)
	if medium == "" || address == "" {
		return false, "", "", nil
	}
	return true, address, medium, nil
}

// PublishAssociation publishes the association between a user and their
// validated 3PID on the identity server that validated it.
func PublishAssociation(ctx context.Context, creds Credentials, userID string, client *IdentityClient) error {
	_, err := client.Bind(ctx, &creds, userID)
	return err
}
