package jetstream

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/setup/config"
)

// Header names used on produced messages.
const (
	UserID = "user_id"
)

var (
	OutputThreePIDBindingChange = "OutputThreePIDBindingChange"
)

var safeCharacters = regexp.MustCompile("[^A-Za-z0-9$]+")

func Tokenise(str string) string {
	return safeCharacters.ReplaceAllString(str, "_")
}

var streams = []*nats.StreamConfig{
	{
		Name:      OutputThreePIDBindingChange,
		Retention: nats.InterestPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    time.Hour * 24,
	},
}

// Connect dials the configured NATS deployment, creates any streams that
// don't exist yet, and returns a JetStream context for producing to them.
func Connect(cfg *config.JetStreamOptions) (nats.JetStreamContext, error) {
	nc, err := nats.Connect(strings.Join(cfg.Addresses, ","))
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	for _, stream := range streams {
		name := cfg.Prefixed(stream.Name)
		info, err := js.StreamInfo(name)
		if err != nil && err != nats.ErrStreamNotFound {
			return nil, err
		}
		if info == nil {
			namespaced := *stream
			namespaced.Name = name
			namespaced.Subjects = []string{fmt.Sprintf("%s.>", name)}
			if _, err = js.AddStream(&namespaced); err != nil {
				logrus.WithError(err).WithField("stream", name).Fatal("Unable to add stream")
			}
		}
	}
	return js, nil
}
