package model

import "time"

// ConditionReading is the agent's observation for one condition.
type ConditionReading struct {
	Value    float64  `json:"value"`
	Severity Severity `json:"severity"`
	Note     string   `json:"note,omitempty"`
}

// TokenUsage counts LLM tokens spent producing an assessment.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Assessment is the structured result of evaluating one farm.
type Assessment struct {
	FarmID      string                      `json:"farm_id"`
	SessionID   string                      `json:"session_id,omitempty"`
	Conditions  map[string]ConditionReading `json:"conditions"`
	Diagnostics string                      `json:"diagnostics,omitempty"`
	ToolCalls   []string                    `json:"tool_calls,omitempty"`
	Usage       TokenUsage                  `json:"usage"`
	AssessedAt  time.Time                   `json:"assessed_at"`
}

// AlertDecision records that a condition crossed its threshold and should be
// sent. It is immutable once created.
type AlertDecision struct {
	FarmID       string     `json:"farm_id"`
	ConditionKey string     `json:"condition_key"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	Observed     float64    `json:"observed"`
	Threshold    float64    `json:"threshold"`
	Comparator   Comparator `json:"comparator"`
	Timestamp    time.Time  `json:"timestamp"`
}

// AlertHistoryEntry is the dedup state for one (farm, condition) pair.
type AlertHistoryEntry struct {
	FarmID       string    `json:"farm_id"`
	ConditionKey string    `json:"condition_key"`
	LastRaisedAt time.Time `json:"last_raised_at"`
	Severity     Severity  `json:"severity,omitempty"`
	DeliveryID   string    `json:"delivery_id,omitempty"`
	Message      string    `json:"message,omitempty"`
}
