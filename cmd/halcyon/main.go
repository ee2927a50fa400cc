// Halcyon serves the third-party identifier endpoints of the client-server
// API, delegating verification to trusted Matrix identity servers.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/clientapi"
	"github.com/halcyonchat/halcyon/internal/httputil"
	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/setup/jetstream"
)

var (
	configPath   = flag.String("config", "halcyon.yaml", "The path to the config file")
	httpBindAddr = flag.String("http-bind-address", ":8071", "The listening address for the HTTP server")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid config file")
	}

	if cfg.Global.Sentry.Enabled {
		logrus.Info("Setting up Sentry for error reporting")
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Global.Sentry.DSN,
			Environment:      cfg.Global.Sentry.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logrus.WithError(err).Panic("failed to start Sentry")
		}
		defer sentry.Flush(time.Second * 5)
	}

	js, err := jetstream.Connect(&cfg.Global.JetStream)
	if err != nil {
		logrus.WithError(err).Panic("failed to connect to NATS JetStream")
	}

	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	router.Handle("/metrics", promhttp.Handler())
	csMux := router.PathPrefix(httputil.PublicClientPathPrefix).Subrouter().UseEncodedPath()

	conMan := sqlutil.NewConnectionManager()
	if err = clientapi.AddPublicRoutes(csMux, cfg, conMan, js); err != nil {
		logrus.WithError(err).Panic("failed to set up the client API")
	}

	srv := &http.Server{
		Addr:              *httpBindAddr,
		Handler:           router,
		ReadHeaderTimeout: time.Second * 10,
	}
	logrus.WithFields(logrus.Fields{
		"address":     *httpBindAddr,
		"server_name": cfg.Global.ServerName,
	}).Info("Starting client API listener")
	if err = srv.ListenAndServe(); err != nil {
		logrus.WithError(err).Fatal("failed to serve HTTP")
	}
}
