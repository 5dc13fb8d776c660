// Package telemetry publishes plant and controller records as JSON to an MQTT
// broker or a Kafka cluster.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go-tankloop/config"
	"go-tankloop/eventlog"
	"go-tankloop/logger"
)

const (
	BackendMQTT  = "mqtt"
	BackendKafka = "kafka"

	KindPlant      = "plant"
	KindController = "controller"

	publishTimeout = 2 * time.Second
)

// Publisher delivers one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

// Telemetry binds a Publisher to the topic naming of its backend.
type Telemetry struct {
	pub       Publisher
	prefix    string
	separator string
	key       []byte
}

// New connects the backend named in cfg. The caller closes the result.
func New(ctx context.Context, cfg config.TelemetryConfig, log logger.Logger) (*Telemetry, error) {
	switch cfg.Backend {
	case BackendMQTT:
		pub, err := NewMQTTPublisher(ctx, cfg.URL, cfg.ClientID, log)
		if err != nil {
			return nil, err
		}
		return Wrap(pub, cfg.TopicPrefix, "/", pub.ClientID()), nil
	case BackendKafka:
		// kafka topic names cannot contain '/'
		return Wrap(NewKafkaPublisher(cfg.Brokers, log), cfg.TopicPrefix, ".", cfg.ClientID), nil
	default:
		return nil, fmt.Errorf("unknown telemetry backend %q", cfg.Backend)
	}
}

// Wrap builds a Telemetry around an existing publisher. key is attached to
// every message and may be empty.
func Wrap(pub Publisher, prefix, separator, key string) *Telemetry {
	t := &Telemetry{pub: pub, prefix: prefix, separator: separator}
	if key != "" {
		t.key = []byte(key)
	}
	return t
}

// Topic returns <prefix><separator><kind>, or kind alone without a prefix.
func (t *Telemetry) Topic(kind string) string {
	if t.prefix == "" {
		return kind
	}
	return strings.Join([]string{t.prefix, kind}, t.separator)
}

func (t *Telemetry) PlantSink() eventlog.Sink[eventlog.PlantRecord] {
	return RecordSink[eventlog.PlantRecord](t.pub, t.Topic(KindPlant), t.key)
}

func (t *Telemetry) ControllerSink() eventlog.Sink[eventlog.ControllerRecord] {
	return RecordSink[eventlog.ControllerRecord](t.pub, t.Topic(KindController), t.key)
}

func (t *Telemetry) Close() error {
	return t.pub.Close()
}

// RecordSink marshals every appended record to JSON and publishes it to topic.
func RecordSink[T any](pub Publisher, topic string, key []byte) eventlog.Sink[T] {
	return eventlog.SinkFunc[T](func(rec T) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", topic, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := pub.Publish(ctx, topic, key, payload); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	})
}
