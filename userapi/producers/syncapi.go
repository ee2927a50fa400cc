package producers

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/setup/jetstream"
)

type JetStreamPublisher interface {
	PublishMsg(*nats.Msg, ...nats.PubOpt) (*nats.PubAck, error)
}

// ThreePIDBindingChange describes a change to the set of identity-server
// bindings for a user's third-party identifier.
type ThreePIDBindingChange struct {
	UserID   string `json:"user_id"`
	Medium   string `json:"medium"`
	Address  string `json:"address"`
	IDServer string `json:"id_server"`
	Bound    bool   `json:"bound"`
}

// SyncAPI produces messages for the sync API server to consume.
type SyncAPI struct {
	producer         JetStreamPublisher
	bindingDataTopic string
}

func NewSyncAPI(js JetStreamPublisher, bindingDataTopic string) *SyncAPI {
	return &SyncAPI{
		producer:         js,
		bindingDataTopic: bindingDataTopic,
	}
}

// SendBindingChange notifies downstream consumers that an identity-server
// binding was created or removed for a user.
func (p *SyncAPI) SendBindingChange(change ThreePIDBindingChange) error {
	m := &nats.Msg{
		Subject: p.bindingDataTopic + "." + jetstream.Tokenise(change.UserID),
		Header:  nats.Header{},
	}
	m.Header.Set(jetstream.UserID, change.UserID)

	var err error
	m.Data, err = json.Marshal(change)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"user_id":   change.UserID,
		"medium":    change.Medium,
		"id_server": change.IDServer,
		"bound":     change.Bound,
	}).Tracef("Producing to topic '%s'", p.bindingDataTopic)

	_, err = p.producer.PublishMsg(m)
	return err
}
