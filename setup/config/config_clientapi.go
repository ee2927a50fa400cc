package config

type ClientAPI struct {
	Halcyon *Global `yaml:"-"`

	// The identity servers that 3PID verification sessions may be delegated
	// to. Requests naming any other identity server are rejected.
	TrustedIDServers []string `yaml:"trusted_third_party_id_servers"`

	// Maps the canonical name of an identity server to the host that is
	// actually dialled for it. Only ever applied to the outbound connection;
	// trust checks, request signing and storage all use the canonical name.
	RewriteIDServerURLs map[string]string `yaml:"rewrite_identity_server_urls"`

	// Skips the trusted-server check for 3PID verification. Exists for test
	// environments only and must never be set in production.
	TrustAnyIDServerForTesting bool `yaml:"trust_any_id_server_for_testing"`
}

func (c *ClientAPI) Defaults() {
	if c.RewriteIDServerURLs == nil {
		c.RewriteIDServerURLs = map[string]string{}
	}
}

func (c *ClientAPI) Verify(configErrs *ConfigErrors) {
}
