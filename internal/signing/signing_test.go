package signing

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halcyonchat/halcyon/setup/config"
)

func newTestSigner(t *testing.T) (*FederationSigner, ed25519.PublicKey) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return NewFederationSigner(&config.Global{
		ServerName: "home.example",
		KeyID:      "ed25519:abcd",
		PrivateKey: private,
	}), public
}

// extractSig pulls the sig= value out of an X-Matrix header.
func extractSig(t *testing.T, header string) string {
	t.Helper()
	for _, part := range strings.Split(strings.TrimPrefix(header, "X-Matrix "), ",") {
		if strings.HasPrefix(part, "sig=") {
			return strings.Trim(strings.TrimPrefix(part, "sig="), `"`)
		}
	}
	t.Fatalf("no sig in header %q", header)
	return ""
}

func TestSignRequestRoundTrip(t *testing.T) {
	signer, public := newTestSigner(t)
	content := map[string]interface{}{"mxid": "@alice:home.example"}

	header, err := signer.SignRequest("id.example", "POST", "/_matrix/identity/api/v1/3pid/unbind", content)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "X-Matrix "))
	require.Contains(t, header, `origin="home.example"`)
	require.Contains(t, header, `key="ed25519:abcd"`)
	require.Contains(t, header, `destination="id.example"`)

	sig := extractSig(t, header)
	ok, err := VerifyRequest(public, "home.example", "id.example", "POST", "/_matrix/identity/api/v1/3pid/unbind", sig, content)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignRequestBindsDestination(t *testing.T) {
	signer, public := newTestSigner(t)

	header, err := signer.SignRequest("id.example", "POST", "/_matrix/identity/api/v1/3pid/unbind", nil)
	require.NoError(t, err)
	sig := extractSig(t, header)

	// a signature made for one destination must not verify for another
	ok, err := VerifyRequest(public, "home.example", "other.example", "POST", "/_matrix/identity/api/v1/3pid/unbind", sig, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSignRequestBindsContent(t *testing.T) {
	signer, public := newTestSigner(t)
	content := map[string]interface{}{"mxid": "@alice:home.example"}

	header, err := signer.SignRequest("id.example", "POST", "/_matrix/identity/api/v1/3pid/unbind", content)
	require.NoError(t, err)
	sig := extractSig(t, header)

	tampered := map[string]interface{}{"mxid": "@mallory:home.example"}
	ok, err := VerifyRequest(public, "home.example", "id.example", "POST", "/_matrix/identity/api/v1/3pid/unbind", sig, tampered)
	require.NoError(t, err)
	require.False(t, ok)
}
