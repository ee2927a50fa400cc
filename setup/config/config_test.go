package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestKey(t *testing.T, dir string) string {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	data := pem.EncodeToMemory(&pem.Block{
		Type:    PEMBlockKeyType,
		Headers: map[string]string{"Key-ID": "ed25519:test"},
		Bytes:   seed,
	})
	path := filepath.Join(dir, "halcyon.pem")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeTestKey(t, dir)
	configYAML := `
global:
  server_name: home.example
  private_key: ` + keyPath + `
  database:
    connection_string: file:halcyon.db
  jetstream:
    addresses:
      - nats://localhost:4222
    topic_prefix: Halcyon
client_api:
  trusted_third_party_id_servers:
    - id.example
    - vector.im
  rewrite_identity_server_urls:
    id.example: localhost:8090
`
	path := filepath.Join(dir, "halcyon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "home.example", cfg.Global.ServerName)
	require.Equal(t, "ed25519:test", cfg.Global.KeyID)
	require.Len(t, cfg.Global.PrivateKey, ed25519.PrivateKeySize)
	require.Equal(t, []string{"id.example", "vector.im"}, cfg.ClientAPI.TrustedIDServers)
	require.Equal(t, "localhost:8090", cfg.ClientAPI.RewriteIDServerURLs["id.example"])
	require.False(t, cfg.ClientAPI.TrustAnyIDServerForTesting)
	require.Equal(t, "HalcyonOutputThreePIDBindingChange", cfg.Global.JetStream.Prefixed("OutputThreePIDBindingChange"))

	// client_api inherits the global pool when it has no connection string of
	// its own
	require.Empty(t, cfg.UserAPI.AccountDatabase.ConnectionString)
	require.True(t, cfg.Global.DatabaseOptions.ConnectionString.IsSQLite())
}

func TestLoadMissingServerName(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeTestKey(t, dir)
	path := filepath.Join(dir, "halcyon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global:\n  private_key: "+keyPath+"\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "server_name")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeTestKey(t, dir)
	path := filepath.Join(dir, "halcyon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
global:
  server_name: home.example
  private_key: `+keyPath+`
  no_such_option: true
`), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDataSourceSniffing(t *testing.T) {
	require.True(t, DataSource("file:halcyon.db").IsSQLite())
	require.True(t, DataSource("file::memory:").IsSQLite())
	require.False(t, DataSource("file:halcyon.db").IsPostgres())
	require.True(t, DataSource("postgres://user@localhost/halcyon").IsPostgres())
	require.True(t, DataSource("postgresql://user@localhost/halcyon").IsPostgres())
	require.False(t, DataSource("postgres://user@localhost/halcyon").IsSQLite())
	require.False(t, DataSource("mysql://nope").IsPostgres())
}

func TestReadPrivateKey(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{
			Type:    PEMBlockKeyType,
			Headers: map[string]string{"Key-ID": "ed25519:abcd"},
			Bytes:   seed,
		})
		keyID, key, err := ReadPrivateKey(data)
		require.NoError(t, err)
		require.Equal(t, "ed25519:abcd", keyID)
		require.Equal(t, ed25519.NewKeyFromSeed(seed), key)
	})

	t.Run("wrong block type", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{
			Type:    "RSA PRIVATE KEY",
			Headers: map[string]string{"Key-ID": "ed25519:abcd"},
			Bytes:   seed,
		})
		_, _, err := ReadPrivateKey(data)
		require.Error(t, err)
	})

	t.Run("bad key ID", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{
			Type:    PEMBlockKeyType,
			Headers: map[string]string{"Key-ID": "rsa:abcd"},
			Bytes:   seed,
		})
		_, _, err := ReadPrivateKey(data)
		require.Error(t, err)
	})

	t.Run("truncated seed", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{
			Type:    PEMBlockKeyType,
			Headers: map[string]string{"Key-ID": "ed25519:abcd"},
			Bytes:   seed[:16],
		})
		_, _, err := ReadPrivateKey(data)
		require.Error(t, err)
	})
}
