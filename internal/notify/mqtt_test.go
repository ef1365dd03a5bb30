package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/resilience"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

type fakePublisher struct {
	mu           sync.Mutex
	connected    bool
	token        mqtt.Token
	topic        string
	qos          byte
	payload      []byte
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.qos = qos
	p.payload = payload.([]byte)
	return p.token
}

func (p *fakePublisher) IsConnected() bool { return p.connected }
func (p *fakePublisher) Disconnect(uint) { p.disconnected = true }

func TestMQTTSend(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{connected: true, token: completedToken(nil)}
	d := NewMQTTDispatcher(pub, "farms/alerts/", 1)

	ack, err := d.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, ChannelMQTT, ack.Channel)
	assert.NotEmpty(t, ack.DeliveryID)

	assert.Equal(t, "farms/alerts/FARM-001", pub.topic)
	assert.Equal(t, byte(1), pub.qos)

	var env envelope
	require.NoError(t, json.Unmarshal(pub.payload, &env))
	assert.Equal(t, ack.DeliveryID, env.DeliveryID)
	assert.Equal(t, "soil_moisture", env.ConditionKey)
}

func TestMQTTSendErrors(t *testing.T) {
	t.Parallel()

	d := NewMQTTDispatcher(&fakePublisher{connected: false}, "farms", 1)
	_, err := d.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.True(t, errors.Is(err, mqtt.ErrNotConnected))

	d = NewMQTTDispatcher(&fakePublisher{connected: true, token: completedToken(errors.New("broker nack"))}, "farms", 1)
	_, err = d.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMQTTSendHonorsContext(t *testing.T) {
	t.Parallel()
	pending := &fakeToken{done: make(chan struct{})}
	d := NewMQTTDispatcher(&fakePublisher{connected: true, token: pending}, "farms", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Send(ctx, testMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMQTTRecipientAndClose(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{connected: true}
	d := NewMQTTDispatcher(pub, "farms", 7)

	addr, err := d.Recipient(testFarm())
	require.NoError(t, err)
	assert.Equal(t, "FARM-001", addr)
	assert.Equal(t, byte(1), d.qos)

	require.NoError(t, d.Close())
	assert.True(t, pub.disconnected)
}
