// Package notify delivers approved alerts to farmers over email (SES), a
// webhook, MQTT or Kafka.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

// Message is one alert ready for delivery.
type Message struct {
	Recipient    string         `json:"recipient"`
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	ConditionKey string         `json:"condition_key"`
	FarmID       string         `json:"farm_id"`
	Severity     model.Severity `json:"severity"`
}

// Ack confirms the transport accepted a message.
type Ack struct {
	DeliveryID string
	Channel    string
}

// Dispatcher sends alerts over one transport. Send does not retry.
type Dispatcher interface {
	// Recipient resolves the farm's address on this transport.
	Recipient(farm model.Farm) (string, error)
	Send(ctx context.Context, msg Message) (*Ack, error)
	Close() error
}

// ErrNoRecipient means the farm has no address for the configured driver.
var ErrNoRecipient = eris.New("notify: farm has no recipient")

// Error is a classified dispatch failure.
type Error struct {
	Channel   string
	Transient bool
	Code      string
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notify %s: %s: %v", e.Channel, e.Code, e.Err)
	}
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorClass implements resilience.Classified.
func (e *Error) ErrorClass() resilience.Class {
	if e.Transient {
		return resilience.ClassTransient
	}
	return resilience.ClassPermanent
}

func transient(channel, code string, err error) *Error {
	return &Error{Channel: channel, Transient: true, Code: code, Err: err}
}

func permanent(channel, code string, err error) *Error {
	return &Error{Channel: channel, Code: code, Err: err}
}

// envelope is the JSON body published by the webhook, MQTT and Kafka drivers.
type envelope struct {
	DeliveryID   string    `json:"delivery_id"`
	FarmID       string    `json:"farm_id"`
	ConditionKey string    `json:"condition_key"`
	Severity     string    `json:"severity"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	SentAt       time.Time `json:"sent_at"`
}

func newEnvelope(id string, msg Message, at time.Time) envelope {
	return envelope{
		DeliveryID:   id,
		FarmID:       msg.FarmID,
		ConditionKey: msg.ConditionKey,
		Severity:     msg.Severity.String(),
		Recipient:    msg.Recipient,
		Subject:      msg.Subject,
		Body:         msg.Body,
		SentAt:       at.UTC(),
	}
}
