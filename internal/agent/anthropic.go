package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/tools"
	"github.com/agri-ai/farm-monitor/pkg/anthropic"
)

// SubmitTool is the tool the model calls to hand back its assessment.
const SubmitTool = "submit_assessment"

// Options tunes the Anthropic tool loop.
type Options struct {
	Model       string
	MaxTokens   int64
	MaxTurns    int
	CallTimeout time.Duration
	RatePerSec  float64
}

// AnthropicEvaluator runs a bounded tool-use conversation per farm.
type AnthropicEvaluator struct {
	client  anthropic.Client
	tools   tools.Runner
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
}

// NewAnthropicEvaluator creates an evaluator over client and the tool runner.
func NewAnthropicEvaluator(client anthropic.Client, runner tools.Runner, opts Options) *AnthropicEvaluator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 8
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 90 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = max(1, int(opts.RatePerSec))
	}
	return &AnthropicEvaluator{
		client:  client,
		tools:   runner,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// submission is the input of the submit_assessment tool.
type submission struct {
	Conditions map[string]struct {
		Value    *float64 `json:"value"`
		Severity string   `json:"severity"`
		Note     string   `json:"note"`
	} `json:"conditions"`
	Diagnostics string `json:"diagnostics"`
}

// Evaluate runs the tool loop until the model submits an assessment or the
// turn budget runs out. The last turn forces the submit tool.
func (e *AnthropicEvaluator) Evaluate(ctx context.Context, farm model.Farm) (*model.Assessment, error) {
	if !farm.Location.Valid() {
		return nil, invalid(farm.ID, eris.New("farm has no valid location"))
	}

	sessionID := SessionID(farm.ID, e.now())
	log := zap.L().With(zap.String("farm_id", farm.ID), zap.String("session_id", sessionID))

	toolDefs := e.toolDefinitions()
	messages := []anthropic.Message{anthropic.TextMessage("user", buildPrompt(farm))}
	var usage anthropic.TokenUsage
	var calls []string

	for turn := 1; turn <= e.opts.MaxTurns; turn++ {
		req := anthropic.MessageRequest{
			Model:     e.opts.Model,
			MaxTokens: e.opts.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
			Messages:  messages,
			Tools:     toolDefs,
			UserID:    sessionID,
		}
		if turn == e.opts.MaxTurns {
			req.ToolChoice = SubmitTool
		}

		resp, err := e.call(ctx, farm.ID, req)
		if err != nil {
			return nil, spent(err, usage)
		}
		usage.Add(resp.Usage)
		messages = append(messages, resp.AssistantMessage())

		uses := resp.ToolUses()
		if len(uses) == 0 {
			log.Debug("agent: turn ended without tool use", zap.Int("turn", turn), zap.String("stop_reason", resp.StopReason))
			messages = append(messages, anthropic.TextMessage("user", "Call "+SubmitTool+" now with the data gathered so far."))
			continue
		}

		results := make([]anthropic.Block, 0, len(uses))
		for _, use := range uses {
			if use.Name == SubmitTool {
				a, err := parseSubmission(farm.ID, use.Input)
				if err != nil {
					log.Warn("agent: malformed assessment", zap.Error(err))
					results = append(results, anthropic.ToolResult(use.ID, err.Error(), true))
					continue
				}
				a.SessionID = sessionID
				a.ToolCalls = calls
				a.Usage = toModelUsage(usage)
				a.AssessedAt = e.now().UTC()
				usage.LogUsage(e.opts.Model, farm.ID)
				log.Info("agent: assessment submitted",
					zap.Int("turns", turn),
					zap.Int("conditions", len(a.Conditions)),
					zap.Strings("tools", calls),
				)
				return a, nil
			}

			calls = append(calls, use.Name)
			out, err := e.tools.Run(ctx, farm, use.Name, use.Input)
			if err != nil {
				if ctx.Err() != nil {
					return nil, spent(unavailable(farm.ID, eris.Wrap(ctx.Err(), "agent: tool loop interrupted")), usage)
				}
				log.Warn("agent: tool failed", zap.String("tool", use.Name), zap.Error(err))
				results = append(results, anthropic.ToolResult(use.ID, err.Error(), true))
				continue
			}
			results = append(results, anthropic.ToolResult(use.ID, string(out), false))
		}
		messages = append(messages, anthropic.Message{Role: "user", Content: results})
	}

	usage.LogUsage(e.opts.Model, farm.ID)
	return nil, spent(unavailable(farm.ID, eris.Errorf("agent: no assessment after %d turns", e.opts.MaxTurns)), usage)
}

// spent records usage on err so the caller can charge a failed evaluation.
func spent(err *Error, usage anthropic.TokenUsage) *Error {
	err.Usage = toModelUsage(usage)
	return err
}

func toModelUsage(u anthropic.TokenUsage) model.TokenUsage {
	return model.TokenUsage{InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)}
}

func (e *AnthropicEvaluator) call(ctx context.Context, farmID string, req anthropic.MessageRequest) (*anthropic.MessageResponse, *Error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, unavailable(farmID, eris.Wrap(err, "agent: rate limiter wait"))
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	resp, err := e.client.CreateMessage(callCtx, req)
	if err != nil {
		return nil, classify(farmID, anthropic.StatusCode(err), err)
	}
	return resp, nil
}

func (e *AnthropicEvaluator) toolDefinitions() []anthropic.Tool {
	defs := e.tools.Definitions()
	out := make([]anthropic.Tool, 0, len(defs)+1)
	for _, d := range defs {
		out = append(out, anthropic.Tool{
			Name:        d.Name,
			Description: d.Description,
			Properties:  d.Properties,
			Required:    d.Required,
		})
	}
	return append(out, anthropic.Tool{
		Name:        SubmitTool,
		Description: "Submit the final farm assessment. Call exactly once after gathering data.",
		Properties:  submitSchema(),
		Required:    []string{"conditions"},
	})
}

func parseSubmission(farmID string, input json.RawMessage) (*model.Assessment, error) {
	var s submission
	if err := json.Unmarshal(input, &s); err != nil {
		return nil, eris.Wrap(err, "agent: decode assessment")
	}
	if s.Conditions == nil {
		return nil, eris.New("agent: assessment has no conditions object")
	}

	a := &model.Assessment{
		FarmID:      farmID,
		Conditions:  make(map[string]model.ConditionReading, len(s.Conditions)),
		Diagnostics: s.Diagnostics,
	}
	for key, c := range s.Conditions {
		if c.Value == nil {
			zap.L().Warn("agent: condition without value dropped",
				zap.String("farm_id", farmID),
				zap.String("condition", key),
			)
			continue
		}
		sev, _ := model.ParseSeverity(c.Severity)
		a.Conditions[key] = model.ConditionReading{Value: *c.Value, Severity: sev, Note: c.Note}
	}
	return a, nil
}
