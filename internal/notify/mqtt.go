package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

// ChannelMQTT identifies the MQTT transport.
const ChannelMQTT = "mqtt"

// mqttPublisher is the subset of mqtt.Client the dispatcher uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTDispatcher publishes alerts to {prefix}/{farm_id}. Farm gateways
// subscribe to their own topic, so the farm ID is the recipient.
type MQTTDispatcher struct {
	client mqttPublisher
	prefix string
	qos    byte
	now    func() time.Time
}

// NewMQTTDispatcher wraps a connected client.
func NewMQTTDispatcher(client mqttPublisher, topicPrefix string, qos int) *MQTTDispatcher {
	if qos < 0 || qos > 2 {
		qos = 1
	}
	return &MQTTDispatcher{
		client: client,
		prefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:    byte(qos),
		now:    time.Now,
	}
}

// ConnectMQTT dials the broker, retrying with exponential backoff.
func ConnectMQTT(ctx context.Context, cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			zap.L().Warn("notify: mqtt connect failed", zap.String("broker", cfg.Broker), zap.Error(token.Error()))
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "notify: connect mqtt broker %s", cfg.Broker)
	}

	zap.L().Info("notify: connected to mqtt broker", zap.String("broker", cfg.Broker))
	return client, nil
}

// Recipient returns the farm's topic suffix.
func (d *MQTTDispatcher) Recipient(farm model.Farm) (string, error) {
	return farm.ID, nil
}

// Topic returns the topic alerts for farmID are published on.
func (d *MQTTDispatcher) Topic(farmID string) string {
	return d.prefix + "/" + farmID
}

// Send publishes one alert and waits for the broker acknowledgement.
func (d *MQTTDispatcher) Send(ctx context.Context, msg Message) (*Ack, error) {
	if !d.client.IsConnected() {
		return nil, transient(ChannelMQTT, "", mqtt.ErrNotConnected)
	}

	id := uuid.NewString()
	payload, err := json.Marshal(newEnvelope(id, msg, d.now()))
	if err != nil {
		return nil, permanent(ChannelMQTT, "", eris.Wrap(err, "marshal alert"))
	}

	token := d.client.Publish(d.Topic(msg.FarmID), d.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, transient(ChannelMQTT, "", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, transient(ChannelMQTT, "", err)
	}
	return &Ack{DeliveryID: id, Channel: ChannelMQTT}, nil
}

// Close disconnects from the broker.
func (d *MQTTDispatcher) Close() error {
	if d.client.IsConnected() {
		d.client.Disconnect(250)
	}
	return nil
}
