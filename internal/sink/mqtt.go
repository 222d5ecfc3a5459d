package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/infrastructure/mqtt"
	"github.com/fieldline-io/fieldline-core/internal/rule"
)

// MQTTSink publishes events as JSON to the configured broker.
type MQTTSink struct {
	client *mqtt.Client
	qos    byte
}

// NewMQTTSink wraps a connected MQTT client.
func NewMQTTSink(client *mqtt.Client, qos byte) *MQTTSink {
	return &MQTTSink{client: client, qos: qos}
}

func (s *MQTTSink) Name() string { return rule.SinkMQTT }

// Deliver publishes to the per-point event topic, or to target when the
// rule overrides the topic.
func (s *MQTTSink) Deliver(_ context.Context, ev bus.Event, target string) error {
	topic := target
	if topic == "" {
		topic = s.client.Topics().Event(ev.DeviceID, ev.PointID)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sink: marshal event: %w", err)
	}
	return s.client.Publish(topic, payload, s.qos, false)
}
