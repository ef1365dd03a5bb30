package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

// ChannelWebhook identifies the HTTP webhook transport.
const ChannelWebhook = "webhook"

// WebhookDispatcher POSTs alerts as JSON to a single endpoint.
type WebhookDispatcher struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookDispatcher creates a webhook dispatcher. A nil client gets a 15s timeout.
func NewWebhookDispatcher(url string, client *http.Client) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookDispatcher{url: url, client: client, now: time.Now}
}

// Recipient prefers email and falls back to phone.
func (d *WebhookDispatcher) Recipient(farm model.Farm) (string, error) {
	if addr := strings.TrimSpace(farm.Contact.Email); addr != "" {
		return addr, nil
	}
	if phone := strings.TrimSpace(farm.Contact.Phone); phone != "" {
		return phone, nil
	}
	return "", resilience.Permanent(ErrNoRecipient)
}

type webhookAck struct {
	DeliveryID string `json:"delivery_id"`
	ID         string `json:"id"`
}

// Send posts the alert. The receiver's delivery ID is used when it returns one.
func (d *WebhookDispatcher) Send(ctx context.Context, msg Message) (*Ack, error) {
	id := uuid.NewString()
	body, err := json.Marshal(newEnvelope(id, msg, d.now()))
	if err != nil {
		return nil, permanent(ChannelWebhook, "", eris.Wrap(err, "marshal alert"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(ChannelWebhook, "", eris.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", id)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, transient(ChannelWebhook, "", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		code := fmt.Sprintf("HTTP%d", resp.StatusCode)
		if resilience.ClassifyHTTPStatus(resp.StatusCode) == resilience.ClassTransient {
			return nil, transient(ChannelWebhook, code, err)
		}
		return nil, permanent(ChannelWebhook, code, err)
	}

	var ack webhookAck
	if len(bytes.TrimSpace(respBody)) > 0 && json.Unmarshal(respBody, &ack) == nil {
		if ack.DeliveryID != "" {
			id = ack.DeliveryID
		} else if ack.ID != "" {
			id = ack.ID
		}
	}
	return &Ack{DeliveryID: id, Channel: ChannelWebhook}, nil
}

// Close releases idle connections.
func (d *WebhookDispatcher) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
