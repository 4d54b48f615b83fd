package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ReviewEvent is the payload the backend publishes when a review request
// changes. Only the conversation id is currently used; the engine refetches
// the whole list rather than patching single rows from event data.
type ReviewEvent struct {
	EventType      string `json:"event_type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// Refresher is the slice of the review store the trigger drives.
type Refresher interface {
	ForceRefresh(ctx context.Context)
}

// Options configures the MQTT connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Trigger subscribes to backend change events and forces a
// debounce-bypassing refresh for each one. Used in the "events" trigger
// mode; the polling scheduler stays the default.
type Trigger struct {
	client  mqtt.Client
	topic   string
	store   Refresher
	logger  *zap.Logger
	timeout time.Duration
}

// New connects to the broker. The connection auto-reconnects, but the
// session is clean, so a broker-side drop loses the subscription until the
// next Start. The polling scheduler keeps running in events mode, so a lost
// subscription degrades freshness rather than correctness.
func New(opts Options, store Refresher, logger *zap.Logger) (*Trigger, error) {
	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(opts.Broker)
	mqttOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		mqttOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		mqttOpts.SetPassword(opts.Password)
	}

	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetCleanSession(true)

	client := mqtt.NewClient(mqttOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Trigger{
		client:  client,
		topic:   opts.Topic,
		store:   store,
		logger:  logger,
		timeout: 30 * time.Second,
	}, nil
}

// Start subscribes to the change topic.
func (t *Trigger) Start() error {
	if token := t.client.Subscribe(t.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		t.handle(msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", t.topic, token.Error())
	}

	t.logger.Info("Review change trigger started", zap.String("topic", t.topic))
	return nil
}

func (t *Trigger) handle(payload []byte) {
	var event ReviewEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.logger.Warn("Ignoring malformed review event", zap.Error(err))
		return
	}

	t.logger.Debug("Review change event received",
		zap.String("event_type", event.EventType),
		zap.String("conversation_id", event.ConversationID),
	)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	t.store.ForceRefresh(ctx)
}

// Close unsubscribes and disconnects.
func (t *Trigger) Close() {
	if token := t.client.Unsubscribe(t.topic); token.Wait() && token.Error() != nil {
		t.logger.Warn("MQTT unsubscribe failed", zap.Error(token.Error()))
	}
	t.client.Disconnect(250)
	t.logger.Info("Review change trigger stopped")
}
