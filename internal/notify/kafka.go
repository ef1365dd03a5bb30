package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

// ChannelKafka identifies the Kafka transport.
const ChannelKafka = "kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher produces alerts onto a topic keyed by farm ID, so a farm's
// alerts stay ordered within one partition.
type KafkaDispatcher struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaWriter builds a synchronous writer that waits for all replicas.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1,
		BatchSize:    1,
		WriteTimeout: 10 * time.Second,
	}
}

// NewKafkaDispatcher wraps w.
func NewKafkaDispatcher(w messageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{writer: w, now: time.Now}
}

// Recipient returns the farm ID, which is the message key.
func (d *KafkaDispatcher) Recipient(farm model.Farm) (string, error) {
	return farm.ID, nil
}

// Send writes one alert record.
func (d *KafkaDispatcher) Send(ctx context.Context, msg Message) (*Ack, error) {
	id := uuid.NewString()
	value, err := json.Marshal(newEnvelope(id, msg, d.now()))
	if err != nil {
		return nil, permanent(ChannelKafka, "", eris.Wrap(err, "marshal alert"))
	}

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.FarmID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "delivery_id", Value: []byte(id)},
			{Key: "condition", Value: []byte(msg.ConditionKey)},
		},
	})
	if err != nil {
		return nil, classifyKafka(err)
	}
	return &Ack{DeliveryID: id, Channel: ChannelKafka}, nil
}

// Close flushes and closes the writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

func classifyKafka(err error) error {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				return classifyKafka(e)
			}
		}
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		if kerr.Temporary() {
			return transient(ChannelKafka, kerr.Title(), err)
		}
		return permanent(ChannelKafka, kerr.Title(), err)
	}
	if errors.Is(err, io.ErrClosedPipe) {
		return permanent(ChannelKafka, "", err)
	}
	// Broker unreachable, leader election and write timeouts all clear up on their own.
	return transient(ChannelKafka, "", err)
}
