package config

type UserAPI struct {
	Halcyon *Global `yaml:"-"`

	// The database which stores account threepids and the record of which
	// identity servers hold bindings for them.
	AccountDatabase DatabaseOptions `yaml:"account_database,omitempty"`
}

func (c *UserAPI) Defaults() {
	c.AccountDatabase.Defaults(10)
}

func (c *UserAPI) Verify(configErrs *ConfigErrors) {
	if c.Halcyon.DatabaseOptions.ConnectionString == "" {
		checkNotEmpty(configErrs, "user_api.account_database.connection_string", string(c.AccountDatabase.ConnectionString))
	}
}
