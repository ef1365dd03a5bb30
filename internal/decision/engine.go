// Package decision turns an assessment into alert decisions. Nothing here
// performs I/O; the same inputs always yield the same ordered output.
package decision

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agri-ai/farm-monitor/internal/model"
)

// DefaultDedupWindow suppresses repeats of the same condition for a day.
const DefaultDedupWindow = 24 * time.Hour

// Engine holds the tunables of the decision step.
type Engine struct {
	DedupWindow time.Duration
}

// NewEngine returns an Engine; a non-positive window falls back to
// DefaultDedupWindow.
func NewEngine(window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Engine{DedupWindow: window}
}

// Decide compares every assessed condition with the farm's threshold for the
// same key and returns one decision per breach not already raised within the
// dedup window. The assessment timestamp is the evaluation instant.
//
// Conditions the farm has no threshold for are ignored. Output is ordered by
// descending severity, then ascending condition key.
func (e *Engine) Decide(farm model.Farm, assessment model.Assessment, history []model.AlertHistoryEntry) []model.AlertDecision {
	at := assessment.AssessedAt
	raised := lastRaised(farm.ID, history)

	var out []model.AlertDecision
	for key, reading := range assessment.Conditions {
		th, ok := farm.Thresholds[key]
		if !ok {
			continue
		}
		if !th.Comparator.Exceeded(reading.Value, th.Value) {
			continue
		}
		if last, ok := raised[key]; ok && e.withinWindow(last, at) {
			continue
		}
		out = append(out, model.AlertDecision{
			FarmID:       farm.ID,
			ConditionKey: key,
			Severity:     severityOf(reading, th),
			Message:      message(key, reading, th),
			Observed:     reading.Value,
			Threshold:    th.Value,
			Comparator:   th.Comparator,
			Timestamp:    at,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].ConditionKey < out[j].ConditionKey
	})
	return out
}

// withinWindow treats a lastRaisedAt in the future (clock skew) as recent.
func (e *Engine) withinWindow(last, at time.Time) bool {
	return at.Sub(last) < e.DedupWindow
}

// lastRaised indexes history by condition key, keeping the latest entry and
// ignoring entries that belong to another farm.
func lastRaised(farmID string, history []model.AlertHistoryEntry) map[string]time.Time {
	out := make(map[string]time.Time, len(history))
	for _, h := range history {
		if h.FarmID != farmID {
			continue
		}
		if prev, ok := out[h.ConditionKey]; !ok || h.LastRaisedAt.After(prev) {
			out[h.ConditionKey] = h.LastRaisedAt
		}
	}
	return out
}

func severityOf(r model.ConditionReading, th model.Threshold) model.Severity {
	switch {
	case r.Severity != model.SeverityUnknown:
		return r.Severity
	case th.Severity != model.SeverityUnknown:
		return th.Severity
	default:
		return model.SeverityMedium
	}
}

func message(key string, r model.ConditionReading, th model.Threshold) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: observed %s %s threshold %s",
		key, formatValue(r.Value), th.Comparator.Symbol(), formatValue(th.Value))
	if note := strings.TrimSpace(r.Note); note != "" {
		b.WriteString(" (")
		b.WriteString(note)
		b.WriteString(")")
	}
	return b.String()
}

func formatValue(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
