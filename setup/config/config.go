package config

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// ConfigErrors stores problems encountered when parsing a config file.
// It implements the error interface.
type ConfigErrors []string

func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf(
		"%s (and %d other problems)", errs[0], len(errs)-1,
	)
}

// Add appends an error to the list of errors in this ConfigErrors.
func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// PEMBlockKeyType is the type found in the PEM header of the server
// signing key.
const PEMBlockKeyType = "HALCYON PRIVATE KEY"

// Global contains the config values shared between every component of the
// server.
type Global struct {
	// The name of the server. This is usually the domain name, e.g 'example.com'.
	ServerName string `yaml:"server_name"`

	// Path to the private key which will be used to sign requests and events.
	PrivateKeyPath string `yaml:"private_key"`

	// The private key which will be used to sign requests and events.
	PrivateKey ed25519.PrivateKey `yaml:"-"`

	// An arbitrary string used to uniquely identify the PrivateKey. Must start
	// with the prefix "ed25519:".
	KeyID string `yaml:"-"`

	// Global pool of database connections, used if per-component connection
	// strings are not given.
	DatabaseOptions DatabaseOptions `yaml:"database,omitempty"`

	// JetStream configuration for the binding-change event stream.
	JetStream JetStreamOptions `yaml:"jetstream"`

	// Sentry configuration for error reporting.
	Sentry SentryOptions `yaml:"sentry"`
}

// SentryOptions configures reporting of panics to an external sentry server.
type SentryOptions struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

func (c *Global) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "global.server_name", c.ServerName)
	checkNotEmpty(configErrs, "global.private_key", c.PrivateKeyPath)
}

// JetStreamOptions hold the addresses of the NATS JetStream deployment that
// binding change events are produced to.
type JetStreamOptions struct {
	Addresses   []string `yaml:"addresses"`
	TopicPrefix string   `yaml:"topic_prefix"`
}

// Prefixed returns the given stream name with the configured topic prefix
// prepended.
func (o *JetStreamOptions) Prefixed(name string) string {
	return fmt.Sprintf("%s%s", o.TopicPrefix, name)
}

// DataSource is a connection string. The prefix decides which database driver
// is selected.
type DataSource string

// IsSQLite returns true if the connection string is for a SQLite database.
func (s DataSource) IsSQLite() bool {
	return strings.HasPrefix(string(s), "file:")
}

// IsPostgres returns true if the connection string is for a PostgreSQL database.
func (s DataSource) IsPostgres() bool {
	return strings.HasPrefix(string(s), "postgres:") ||
		strings.HasPrefix(string(s), "postgresql:")
}

// DatabaseOptions contains the configuration for one database connection.
type DatabaseOptions struct {
	ConnectionString   DataSource `yaml:"connection_string"`
	MaxOpenConnections int        `yaml:"max_open_conns"`
	MaxIdleConnections int        `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int        `yaml:"conn_max_lifetime"`
}

func (c *DatabaseOptions) Defaults(conns int) {
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = conns
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = 2
	}
	if c.ConnMaxLifetimeSec == 0 {
		c.ConnMaxLifetimeSec = -1
	}
}

// Halcyon is the top-level config for this component.
type Halcyon struct {
	Global    Global    `yaml:"global"`
	ClientAPI ClientAPI `yaml:"client_api"`
	UserAPI   UserAPI   `yaml:"user_api"`
}

// Defaults sets default config values for anything that was not given in the
// file.
func (c *Halcyon) Defaults() {
	c.ClientAPI.Halcyon = &c.Global
	c.UserAPI.Halcyon = &c.Global
	c.Global.DatabaseOptions.Defaults(20)
	c.ClientAPI.Defaults()
	c.UserAPI.Defaults()
}

// Verify returns an error if the loaded config is unusable.
func (c *Halcyon) Verify() error {
	configErrs := ConfigErrors{}
	c.Global.Verify(&configErrs)
	c.ClientAPI.Verify(&configErrs)
	c.UserAPI.Verify(&configErrs)
	if len(configErrs) > 0 {
		return configErrs
	}
	return nil
}

// Load reads, parses and validates the config file at the given path, and
// loads the signing key it references.
func Load(path string) (*Halcyon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", path)
	}
	var cfg Halcyon
	if err = yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", path)
	}
	cfg.Defaults()
	if err = cfg.Verify(); err != nil {
		return nil, err
	}
	if err = cfg.Global.loadPrivateKey(); err != nil {
		return nil, err
	}
	if cfg.ClientAPI.TrustAnyIDServerForTesting {
		logrus.Warn(
			"The config option 'trust_any_id_server_for_testing' is set. This " +
				"must never be enabled outside of test environments.",
		)
	}
	return &cfg, nil
}

func (c *Global) loadPrivateKey() error {
	data, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read private key file %q", c.PrivateKeyPath)
	}
	keyID, key, err := ReadPrivateKey(data)
	if err != nil {
		return errors.Wrapf(err, "failed to parse private key file %q", c.PrivateKeyPath)
	}
	c.KeyID = keyID
	c.PrivateKey = key
	return nil
}

// ReadPrivateKey parses a PEM-encoded ed25519 signing key and the key ID
// stored in its headers.
func ReadPrivateKey(data []byte) (string, ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return "", nil, errors.New("no PEM data found")
	}
	if block.Type != PEMBlockKeyType {
		return "", nil, errors.Errorf("unexpected PEM block type %q", block.Type)
	}
	keyID := block.Headers["Key-ID"]
	if !strings.HasPrefix(keyID, "ed25519:") {
		return "", nil, errors.Errorf("key ID %q does not have the 'ed25519:' prefix", keyID)
	}
	if len(block.Bytes) != ed25519.SeedSize {
		return "", nil, errors.Errorf("private key is %d bytes, expected %d", len(block.Bytes), ed25519.SeedSize)
	}
	return keyID, ed25519.NewKeyFromSeed(block.Bytes), nil
}
