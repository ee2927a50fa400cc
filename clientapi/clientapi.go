package clientapi

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/clientapi/routing"
	"github.com/halcyonchat/halcyon/clientapi/threepid"
	"github.com/halcyonchat/halcyon/internal/signing"
	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/setup/jetstream"
	userinternal "github.com/halcyonchat/halcyon/internal/userapi"
	"github.com/halcyonchat/halcyon/userapi/producers"
	"github.com/halcyonchat/halcyon/userapi/storage"
)

// AddPublicRoutes sets up and registers HTTP handlers for the client API
// component of the server.
func AddPublicRoutes(
	csMux *mux.Router,
	cfg *config.Halcyon,
	conMan *sqlutil.Connections,
	js producers.JetStreamPublisher,
) error {
	dbOptions := cfg.UserAPI.AccountDatabase
	if dbOptions.ConnectionString == "" {
		dbOptions = cfg.Global.DatabaseOptions
	}
	db, err := storage.NewUserDatabase(conMan, &dbOptions)
	if err != nil {
		logrus.WithError(err).Panic("failed to connect to the account database")
	}

	userAPI := &userinternal.UserInternalAPI{
		DB:         db,
		ServerName: cfg.Global.ServerName,
	}

	producer := producers.NewSyncAPI(
		js, cfg.Global.JetStream.Prefixed(jetstream.OutputThreePIDBindingChange),
	)

	client := threepid.NewIdentityClient(
		&cfg.ClientAPI,
		threepid.NewTransport(),
		signing.NewFederationSigner(&cfg.Global),
		db,
		producer,
	)

	routing.Setup(csMux, &cfg.ClientAPI, userAPI, userAPI, client)
	return nil
}
