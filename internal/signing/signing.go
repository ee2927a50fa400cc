package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/halcyonchat/halcyon/setup/config"
)

// FederationSigner produces X-Matrix Authorization header values for requests
// sent on behalf of this server.
//
// The destination in the signed content is the canonical name of the server
// the request is meant for. When identity-server rewrite rules are in play the
// caller must sign against the canonical name before resolving the host to
// dial, otherwise the receiving server will not be able to verify the
// signature.
type FederationSigner struct {
	serverName string
	keyID      string
	privateKey ed25519.PrivateKey
}

func NewFederationSigner(cfg *config.Global) *FederationSigner {
	return &FederationSigner{
		serverName: cfg.ServerName,
		keyID:      cfg.KeyID,
		privateKey: cfg.PrivateKey,
	}
}

// SignRequest returns the Authorization header value for a request with the
// given method, URI and JSON content, destined for the named server.
func (s *FederationSigner) SignRequest(destination, method, uri string, content interface{}) (string, error) {
	toSign := map[string]interface{}{
		"method":      method,
		"uri":         uri,
		"origin":      s.serverName,
		"destination": destination,
	}
	if content != nil {
		toSign["content"] = content
	}
	// encoding/json writes map keys in sorted order with no insignificant
	// whitespace, which is the canonical form the receiving end verifies.
	canonical, err := json.Marshal(toSign)
	if err != nil {
		return "", errors.Wrap(err, "failed to build canonical request JSON")
	}
	sig := ed25519.Sign(s.privateKey, canonical)
	return fmt.Sprintf(
		"X-Matrix origin=%q,key=%q,sig=%q,destination=%q",
		s.serverName,
		s.keyID,
		base64.RawStdEncoding.EncodeToString(sig),
		destination,
	), nil
}

// VerifyRequest checks a signature produced by SignRequest against the given
// public key. Used in tests and by servers verifying inbound requests.
func VerifyRequest(publicKey ed25519.PublicKey, origin, destination, method, uri, sig string, content interface{}) (bool, error) {
	toVerify := map[string]interface{}{
		"method":      method,
		"uri":         uri,
		"origin":      origin,
		"destination": destination,
	}
	if content != nil {
		toVerify["content"] = content
	}
	canonical, err := json.Marshal(toVerify)
	if err != nil {
		return false, err
	}
	rawSig, err := base64.RawStdEncoding.DecodeString(sig)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(publicKey, canonical, rawSig), nil
}
