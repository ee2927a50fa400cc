package threepid

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/producers"
)

type fakeResponse struct {
	body []byte
	err  error
}

// fakeTransport records every request made through it and plays back scripted
// responses keyed by URL substring.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	gets      []string
	posts     []string
	bodies    []interface{}
	headers   []map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: map[string]fakeResponse{}}
}

func (t *fakeTransport) respond(urlPart string, body string, err error) {
	t.responses[urlPart] = fakeResponse{body: []byte(body), err: err}
}

func (t *fakeTransport) lookup(rawurl string) fakeResponse {
	for part, resp := range t.responses {
		if strings.Contains(rawurl, part) {
			return resp
		}
	}
	return fakeResponse{body: []byte(`{}`)}
}

func (t *fakeTransport) GetJSON(ctx context.Context, rawurl string, query url.Values) ([]byte, error) {
	t.mu.Lock()
	t.gets = append(t.gets, rawurl)
	t.mu.Unlock()
	resp := t.lookup(rawurl)
	return resp.body, resp.err
}

func (t *fakeTransport) PostJSON(ctx context.Context, rawurl string, body interface{}, headers map[string]string) ([]byte, error) {
	t.mu.Lock()
	t.posts = append(t.posts, rawurl)
	t.bodies = append(t.bodies, body)
	t.headers = append(t.headers, headers)
	t.mu.Unlock()
	resp := t.lookup(rawurl)
	return resp.body, resp.err
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.gets) + len(t.posts)
}

type fakeSigner struct {
	mu           sync.Mutex
	destinations []string
}

func (s *fakeSigner) SignRequest(destination, method, uri string, content interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinations = append(s.destinations, destination)
	return "X-Matrix origin=\"test\",sig=\"fake\",destination=\"" + destination + "\"", nil
}

type binding struct {
	userID, medium, address, idServer string
}

type fakeStore struct {
	mu       sync.Mutex
	bindings []binding
}

func (s *fakeStore) AddUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, binding{userID, medium, address, idServer})
	return nil
}

func (s *fakeStore) RemoveUserBoundThreePID(ctx context.Context, userID, medium, address, idServer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.bindings {
		if b == (binding{userID, medium, address, idServer}) {
			s.bindings = append(s.bindings[:i], s.bindings[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) GetIDServersForBoundThreePID(ctx context.Context, userID, medium, address string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var servers []string
	for _, b := range s.bindings {
		if b.userID == userID && b.medium == medium && b.address == address {
			servers = append(servers, b.idServer)
		}
	}
	return servers, nil
}

func (s *fakeStore) snapshot() []binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]binding(nil), s.bindings...)
}

type fakeProducer struct {
	mu      sync.Mutex
	changes []producers.ThreePIDBindingChange
}

func (p *fakeProducer) SendBindingChange(change producers.ThreePIDBindingChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func newTestClient(cfg *config.ClientAPI) (*IdentityClient, *fakeTransport, *fakeSigner, *fakeStore, *fakeProducer) {
	transport := newFakeTransport()
	signer := &fakeSigner{}
	store := &fakeStore{}
	producer := &fakeProducer{}
	return NewIdentityClient(cfg, transport, signer, store, producer), transport, signer, store, producer
}

func trustingConfig(servers ...string) *config.ClientAPI {
	return &config.ClientAPI{
		TrustedIDServers:    servers,
		RewriteIDServerURLs: map[string]string{},
	}
}

func TestCredentialsAcceptBothSpellings(t *testing.T) {
	var canonical, historical Credentials
	require.NoError(t, json.Unmarshal([]byte(`{"sid":"abc","id_server":"id.example","client_secret":"s3cr3t"}`), &canonical))
	require.NoError(t, json.Unmarshal([]byte(`{"sid":"abc","idServer":"id.example","clientSecret":"s3cr3t"}`), &historical))
	require.Equal(t, canonical, historical)
	require.Equal(t, "id.example", canonical.IDServer)
	require.Equal(t, "s3cr3t", canonical.ClientSecret)
}

func TestMissingCredentialFieldsFailBeforeNetwork(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig("id.example"))

	missingIDServer := &Credentials{SID: "abc", ClientSecret: "s3cr3t"}
	missingSecret := &Credentials{SID: "abc", IDServer: "id.example"}

	for _, creds := range []*Credentials{missingIDServer, missingSecret} {
		_, err := client.GetValidated3PID(context.Background(), creds)
		require.IsType(t, ErrMissingParam{}, err)

		_, err = client.Bind(context.Background(), creds, "@alice:home.example")
		require.IsType(t, ErrMissingParam{}, err)
	}
	require.Zero(t, transport.calls())
}

func TestGetValidated3PIDUntrustedIsSilent(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig("trusted.example"))

	data, err := client.GetValidated3PID(context.Background(), &Credentials{
		SID: "abc", ClientSecret: "s3cr3t", IDServer: "evil.example",
	})
	require.NoError(t, err)
	require.Nil(t, data)
	require.Zero(t, transport.calls())
}

func TestGetValidated3PIDTestingOverride(t *testing.T) {
	cfg := trustingConfig()
	cfg.TrustAnyIDServerForTesting = true
	client, transport, _, _, _ := newTestClient(cfg)
	transport.respond("getValidated3pid", `{"medium":"email","address":"alice@example.com"}`, nil)

	data, err := client.GetValidated3PID(context.Background(), &Credentials{
		SID: "abc", ClientSecret: "s3cr3t", IDServer: "anything.example",
	})
	require.NoError(t, err)
	require.Equal(t, "email", data["medium"])
	require.Equal(t, 1, transport.calls())
}

func TestGetValidated3PIDNoMedium(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig("id.example"))
	transport.respond("getValidated3pid", `{"something":"else"}`, nil)

	data, err := client.GetValidated3PID(context.Background(), &Credentials{
		SID: "abc", ClientSecret: "s3cr3t", IDServer: "id.example",
	})
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestBindPersistsLogicalHost(t *testing.T) {
	cfg := trustingConfig("id.example")
	cfg.RewriteIDServerURLs["id.example"] = "localhost:8090"
	client, transport, _, store, producer := newTestClient(cfg)
	transport.respond("/3pid/bind", `{"medium":"email","address":"alice@example.com"}`, nil)

	data, err := client.Bind(context.Background(), &Credentials{
		SID: "abc", ClientSecret: "s3cr3t", IDServer: "id.example",
	}, "@alice:home.example")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", data["address"])

	// the network call goes to the rewritten host
	require.Len(t, transport.posts, 1)
	require.Contains(t, transport.posts[0], "https://localhost:8090/")

	// but the persisted binding is keyed by the canonical host
	require.Equal(t, []binding{{"@alice:home.example", "email", "alice@example.com", "id.example"}}, store.snapshot())
	require.Len(t, producer.changes, 1)
	require.True(t, producer.changes[0].Bound)
	require.Equal(t, "id.example", producer.changes[0].IDServer)
}

func TestBindStructuredErrorReturnedAsPayload(t *testing.T) {
	client, transport, _, store, _ := newTestClient(trustingConfig("id.example"))
	transport.respond("/3pid/bind", "", RemoteError{Code: 400, Contents: []byte(`{"errcode":"M_FOO","error":"no"}`)})

	data, err := client.Bind(context.Background(), &Credentials{
		SID: "abc", ClientSecret: "s3cr3t", IDServer: "id.example",
	}, "@alice:home.example")
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"errcode": "M_FOO", "error": "no"}, data)
	require.Empty(t, store.snapshot())
}

func TestBindUnstructuredErrorPropagates(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig("id.example"))
	transport.respond("/3pid/bind", "", RemoteError{Code: 500, Contents: []byte("gateway exploded")})

	_, err := client.Bind(context.Background(), &Credentials{
		SID: "abc", ClientSecret: "s3cr3t", IDServer: "id.example",
	}, "@alice:home.example")
	require.Error(t, err)
	require.IsType(t, RemoteError{}, err)
}

func TestTryUnbindNoServers(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig())

	changed, err := client.TryUnbind(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com",
	})
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, transport.calls())
}

func TestTryUnbindAllSucceed(t *testing.T) {
	client, _, _, store, _ := newTestClient(trustingConfig())
	seed := []binding{
		{"@alice:home.example", "email", "alice@example.com", "id-one.example"},
		{"@alice:home.example", "email", "alice@example.com", "id-two.example"},
	}
	store.bindings = append(store.bindings, seed...)

	changed, err := client.TryUnbind(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com",
	})
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, store.snapshot())
}

func TestTryUnbindAggregateIsLogicalAND(t *testing.T) {
	client, transport, _, store, _ := newTestClient(trustingConfig())
	store.bindings = append(store.bindings,
		binding{"@alice:home.example", "email", "alice@example.com", "id-one.example"},
		binding{"@alice:home.example", "email", "alice@example.com", "id-two.example"},
	)
	// id-two does not support unbinding
	transport.respond("id-two.example", "", RemoteError{Code: 404, Contents: []byte("not found")})

	changed, err := client.TryUnbind(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com",
	})
	require.NoError(t, err)
	require.False(t, changed)
	// both hosts were attempted and both local bindings pruned
	require.Equal(t, 2, transport.calls())
	require.Empty(t, store.snapshot())
}

func TestTryUnbindFatalErrorAttemptsSiblings(t *testing.T) {
	client, transport, _, store, _ := newTestClient(trustingConfig())
	store.bindings = append(store.bindings,
		binding{"@alice:home.example", "email", "alice@example.com", "id-one.example"},
		binding{"@alice:home.example", "email", "alice@example.com", "id-two.example"},
	)
	transport.respond("id-one.example", "", RemoteError{Code: 500, Contents: []byte("boom")})

	_, err := client.TryUnbind(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com",
	})
	require.Error(t, err)
	require.IsType(t, ErrRemoteServerFailed{}, err)
	// the failing host did not stop the other attempt
	require.Equal(t, 2, transport.calls())
	// the binding for the failed host is still recorded
	require.Contains(t, store.snapshot(), binding{"@alice:home.example", "email", "alice@example.com", "id-one.example"})
	require.NotContains(t, store.snapshot(), binding{"@alice:home.example", "email", "alice@example.com", "id-two.example"})
}

func TestTryUnbindHonoursExplicitIDServer(t *testing.T) {
	client, transport, _, store, _ := newTestClient(trustingConfig())
	store.bindings = append(store.bindings,
		binding{"@alice:home.example", "email", "alice@example.com", "id-one.example"},
		binding{"@alice:home.example", "email", "alice@example.com", "id-two.example"},
	)

	changed, err := client.TryUnbind(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com", IDServer: "id-two.example",
	})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, transport.calls())
	require.Contains(t, transport.posts[0], "id-two.example")
}

func TestUnbindRemovesBindingOnUnsupported(t *testing.T) {
	client, transport, _, store, producer := newTestClient(trustingConfig())
	store.bindings = append(store.bindings,
		binding{"@alice:home.example", "email", "alice@example.com", "id.example"},
	)
	transport.respond("id.example", "", RemoteError{Code: 404, Contents: []byte("not found")})

	changed, err := client.TryUnbindWithServer(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com",
	}, "id.example")
	require.NoError(t, err)
	require.False(t, changed)
	require.Empty(t, store.snapshot())
	require.Len(t, producer.changes, 1)
	require.False(t, producer.changes[0].Bound)
}

func TestUnbindKeepsBindingOnFatalError(t *testing.T) {
	client, transport, _, store, _ := newTestClient(trustingConfig())
	store.bindings = append(store.bindings,
		binding{"@alice:home.example", "email", "alice@example.com", "id.example"},
	)
	transport.respond("id.example", "", RemoteError{Code: 500, Contents: []byte("boom")})

	_, err := client.TryUnbindWithServer(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com",
	}, "id.example")
	require.IsType(t, ErrRemoteServerFailed{}, err)
	require.Len(t, store.snapshot(), 1)
}

func TestUnbindSignsAgainstLogicalHost(t *testing.T) {
	cfg := trustingConfig()
	cfg.RewriteIDServerURLs["id.example"] = "localhost:8090"
	client, transport, signer, store, _ := newTestClient(cfg)
	store.bindings = append(store.bindings,
		binding{"@alice:home.example", "email", "alice@example.com", "id.example"},
	)

	changed, err := client.TryUnbindWithServer(context.Background(), "@alice:home.example", ThreePID{
		Medium: "email", Address: "alice@example.com",
	}, "id.example")
	require.NoError(t, err)
	require.True(t, changed)

	// signed against the canonical host, dialled at the rewritten one
	require.Equal(t, []string{"id.example"}, signer.destinations)
	require.Len(t, transport.posts, 1)
	require.Contains(t, transport.posts[0], "https://localhost:8090/")
	require.NotEmpty(t, transport.headers[0]["Authorization"])
}

func TestRequestEmailTokenUntrusted(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig("trusted.example"))

	_, err := client.RequestEmailToken(context.Background(), "evil.example", "alice@example.com", "s3cr3t", 1, "")
	require.IsType(t, ErrNotTrusted{}, err)
	require.Zero(t, transport.calls())
}

func TestTrustNeverGrantedForEmptyTrustedSet(t *testing.T) {
	cfg := trustingConfig()
	for _, host := range []string{"a.example", "b.example", ""} {
		require.False(t, isTrusted(host, cfg))
	}
}

func TestRequestEmailTokenProxied(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig("id.example"))
	transport.respond("requestToken", `{"sid":"123"}`, nil)

	data, err := client.RequestEmailToken(context.Background(), "id.example", "alice@example.com", "s3cr3t", 1, "https://next.example")
	require.NoError(t, err)
	require.Equal(t, "123", data["sid"])

	body := transport.bodies[0].(map[string]interface{})
	require.Equal(t, "alice@example.com", body["email"])
	require.Equal(t, "https://next.example", body["next_link"])
}

func TestRequestMSISDNTokenMergesExtraParams(t *testing.T) {
	client, transport, _, _, _ := newTestClient(trustingConfig("id.example"))
	transport.respond("requestToken", `{"sid":"123"}`, nil)

	_, err := client.RequestMSISDNToken(context.Background(), "id.example", "GB", "07700900000", "s3cr3t", 1, map[string]interface{}{
		"next_link": "https://next.example",
		"brand":     "halcyon",
	})
	require.NoError(t, err)

	body := transport.bodies[0].(map[string]interface{})
	require.Equal(t, "GB", body["country"])
	require.Equal(t, "halcyon", body["brand"])
	require.Equal(t, "https://next.example", body["next_link"])
}

func TestResolveIdentityServerIsDispatchOnly(t *testing.T) {
	cfg := trustingConfig()
	cfg.RewriteIDServerURLs["id.example"] = "localhost:8090"
	require.Equal(t, "localhost:8090", resolveIdentityServer("id.example", cfg))
	require.Equal(t, "other.example", resolveIdentityServer("other.example", cfg))
}
