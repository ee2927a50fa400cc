// Creates a device and access token for a local user, so that a client can
// authenticate against the 3PID endpoints.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/setup/config"
	"github.com/halcyonchat/halcyon/userapi/storage"
)

var (
	configPath = flag.String("config", "halcyon.yaml", "The path to the config file")
	username   = flag.String("username", "", "The localpart of the user to create a token for")
	deviceID   = flag.String("device", "", "The device ID to attach the token to (generated if empty)")
)

func main() {
	flag.Parse()
	if *username == "" {
		logrus.Fatal("--username must not be empty")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid config file")
	}

	dbOptions := cfg.UserAPI.AccountDatabase
	if dbOptions.ConnectionString == "" {
		dbOptions = cfg.Global.DatabaseOptions
	}
	db, err := storage.NewUserDatabase(sqlutil.NewConnectionManager(), &dbOptions)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to the account database")
	}

	device := *deviceID
	if device == "" {
		device = uuid.NewString()
	}
	token := "syt_" + uuid.NewString()

	if err = db.CreateDevice(context.Background(), *username, cfg.Global.ServerName, device, token); err != nil {
		logrus.WithError(err).Fatal("failed to create the device")
	}

	fmt.Printf("user_id:      @%s:%s\n", *username, cfg.Global.ServerName)
	fmt.Printf("device_id:    %s\n", device)
	fmt.Printf("access_token: %s\n", token)
}
