package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

// maxResponseBytes caps a tool response fed back to the model.
const maxResponseBytes = 256 << 10

// HTTPOptions configures the HTTP tool runner.
type HTTPOptions struct {
	// Endpoints maps tool name to service URL. Tools without an endpoint
	// are not offered to the agent.
	Endpoints   map[string]string
	APIKey      string
	Timeout     time.Duration
	RatePerSec  float64
	AOIRadiusKm float64
	HTTPClient  *http.Client
}

// HTTPRunner calls each tool's backing service with a JSON POST.
type HTTPRunner struct {
	client    *http.Client
	opts      HTTPOptions
	limiters  map[string]*AdaptiveLimiter
	available []string
}

// NewHTTPRunner creates a runner for every tool that has an endpoint.
func NewHTTPRunner(opts HTTPOptions) *HTTPRunner {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	r := &HTTPRunner{
		client:   client,
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
	for _, name := range []string{Weather, Satellite, Pest} {
		if opts.Endpoints[name] == "" {
			continue
		}
		r.available = append(r.available, name)
		r.limiters[name] = NewAdaptiveLimiter(name, rate.Limit(opts.RatePerSec), int(opts.RatePerSec))
	}
	return r
}

// Definitions returns the tools this runner can serve.
func (r *HTTPRunner) Definitions() []Definition {
	return DefinitionsFor(r.available...)
}

// request is the body posted to every tool service.
type request struct {
	FarmID   string          `json:"farm_id"`
	Location model.Location  `json:"location"`
	CropType string          `json:"crop_type,omitempty"`
	Fields   []model.Field   `json:"fields,omitempty"`
	Point    json.RawMessage `json:"point,omitempty"`
	AOI      json.RawMessage `json:"aoi,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// Run calls the named tool for farm. Errors are classified so the agent can
// report them to the model; the agent does not abort on a tool failure.
func (r *HTTPRunner) Run(ctx context.Context, farm model.Farm, name string, input json.RawMessage) (json.RawMessage, error) {
	endpoint := r.opts.Endpoints[name]
	lim := r.limiters[name]
	if endpoint == "" || lim == nil {
		return nil, resilience.Permanent(eris.Wrapf(ErrUnknownTool, "tools: %s", name))
	}

	body, err := r.buildRequest(farm, name, input)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "tools: %s rate limiter wait", name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(eris.Wrapf(err, "tools: %s create request", name))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.opts.APIKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "tools: %s request", name), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "tools: %s read response", name), resp.StatusCode)
	}

	zap.L().Debug("tools: call finished",
		zap.String("tool", name),
		zap.String("farm_id", farm.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnThrottle()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("tools: %s returned %d: %s", name, resp.StatusCode, truncate(string(data), 200))
		if resilience.ClassifyHTTPStatus(resp.StatusCode) == resilience.ClassTransient {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, resilience.Permanent(err)
	}
	lim.OnSuccess()

	if !json.Valid(data) {
		return nil, resilience.Permanent(eris.Errorf("tools: %s returned invalid JSON", name))
	}
	return data, nil
}

func (r *HTTPRunner) buildRequest(farm model.Farm, name string, input json.RawMessage) ([]byte, error) {
	req := request{
		FarmID:   farm.ID,
		Location: farm.Location,
		CropType: farm.CropType,
		Fields:   farm.Fields,
	}
	if len(input) > 0 && string(input) != "null" {
		if !json.Valid(input) {
			return nil, eris.Errorf("tools: %s input is not valid JSON", name)
		}
		req.Args = input
	}

	var err error
	switch name {
	case Satellite:
		req.AOI, err = AOIGeoJSON(farm.Location, r.opts.AOIRadiusKm)
	default:
		req.Point, err = PointGeoJSON(farm.Location)
	}
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrapf(err, "tools: marshal %s request", name)
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
