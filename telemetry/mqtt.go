package telemetry

import (
	"context"
	"fmt"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"go-tankloop/logger"
)

type MQTTPublisher struct {
	clientID string
	conn     *autopaho.ConnectionManager
}

// NewMQTTPublisher connects to brokerURL and waits for the first connection.
// An empty clientID is replaced by a random one.
func NewMQTTPublisher(ctx context.Context, brokerURL, clientID string, log logger.Logger) (*MQTTPublisher, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt url: %w", err)
	}
	if clientID == "" {
		clientID = "tankloop-" + uuid.NewString()
	}

	log = log.With("broker", u.Host, "client_id", clientID)
	cfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{u},
		KeepAlive:  20,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			log.Info("mqtt connection up")
		},
		OnConnectError: func(err error) {
			log.Warn("mqtt connection attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnClientError: func(err error) {
				log.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					log.Warn("mqtt server requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					log.Warn("mqtt server requested disconnect", "reason_code", d.ReasonCode)
				}
			},
		},
	}

	conn, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := conn.AwaitConnection(ctx); err != nil {
		return nil, fmt.Errorf("await mqtt connection: %w", err)
	}

	return &MQTTPublisher{clientID: clientID, conn: conn}, nil
}

func (p *MQTTPublisher) ClientID() string {
	return p.clientID
}

// Publish sends payload at QoS 1. MQTT has no message key, so key is ignored.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, _ []byte, payload []byte) error {
	_, err := p.conn.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   topic,
		Payload: payload,
	})
	return err
}

func (p *MQTTPublisher) Close() error {
	return p.conn.Disconnect(context.Background())
}
