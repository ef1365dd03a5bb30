package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agri-ai/farm-monitor/internal/model"
)

// HTTPEvaluator delegates the whole tool loop to a remote agent service.
// The service receives {farmId, sessionId, location, cropType, fields,
// conditions} and answers with the same payload submit_assessment takes.
type HTTPEvaluator struct {
	endpoint    string
	apiKey      string
	client      *http.Client
	callTimeout time.Duration
	limiter     *rate.Limiter
	now         func() time.Time
}

// NewHTTPEvaluator creates an evaluator that POSTs to endpoint.
func NewHTTPEvaluator(endpoint, apiKey string, callTimeout time.Duration, ratePerSec float64) *HTTPEvaluator {
	if callTimeout <= 0 {
		callTimeout = 90 * time.Second
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &HTTPEvaluator{
		endpoint:    endpoint,
		apiKey:      apiKey,
		client:      &http.Client{},
		callTimeout: callTimeout,
		limiter:     rate.NewLimiter(limit, max(1, int(ratePerSec))),
		now:         time.Now,
	}
}

type httpRequest struct {
	FarmID     string         `json:"farmId"`
	SessionID  string         `json:"sessionId"`
	Location   model.Location `json:"location"`
	CropType   string         `json:"cropType"`
	Fields     []model.Field  `json:"fields,omitempty"`
	Conditions []string       `json:"conditions"`
}

func (e *HTTPEvaluator) Evaluate(ctx context.Context, farm model.Farm) (*model.Assessment, error) {
	if !farm.Location.Valid() {
		return nil, invalid(farm.ID, eris.New("farm has no valid location"))
	}
	sessionID := SessionID(farm.ID, e.now())

	body, err := json.Marshal(httpRequest{
		FarmID:     farm.ID,
		SessionID:  sessionID,
		Location:   farm.Location,
		CropType:   farm.CropType,
		Fields:     farm.Fields,
		Conditions: farm.ConditionKeys(),
	})
	if err != nil {
		return nil, invalid(farm.ID, eris.Wrap(err, "agent: marshal request"))
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, unavailable(farm.ID, eris.Wrap(err, "agent: rate limiter wait"))
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, invalid(farm.ID, eris.Wrap(err, "agent: create request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Id", sessionID)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, unavailable(farm.ID, eris.Wrap(err, "agent: request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, unavailable(farm.ID, eris.Wrap(err, "agent: read response"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(farm.ID, resp.StatusCode, eris.Errorf("agent: endpoint returned %d: %s", resp.StatusCode, string(data)))
	}

	a, err := parseSubmission(farm.ID, data)
	if err != nil {
		// A 2xx without a usable assessment means the agent gave up.
		return nil, unavailable(farm.ID, err)
	}
	a.SessionID = sessionID
	a.AssessedAt = e.now().UTC()

	zap.L().Info("agent: remote assessment received",
		zap.String("farm_id", farm.ID),
		zap.String("session_id", sessionID),
		zap.Int("conditions", len(a.Conditions)),
	)
	return a, nil
}
