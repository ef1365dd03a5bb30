package agent

import (
	"fmt"
	"strings"

	"github.com/agri-ai/farm-monitor/internal/model"
)

const systemPrompt = `You are an agronomy monitoring agent. For the farm described by the user you:
1. Check current weather and the short-term forecast.
2. Analyze satellite vegetation indices for anomalies.
3. Query pest and disease risk for the crops and growth stages present.
Then call submit_assessment exactly once. Report a numeric value for every
requested condition using the stated unit, a severity (low, medium, high,
critical) and a one-sentence note. Put your overall reasoning in diagnostics.
If a tool fails, continue with the data you have and say so in diagnostics.`

// buildPrompt renders the per-farm user message.
func buildPrompt(farm model.Farm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monitor farm %s", farm.ID)
	if farm.Name != "" {
		fmt.Fprintf(&b, " (%s)", farm.Name)
	}
	fmt.Fprintf(&b, " at %.4f, %.4f for crop threats.\n", farm.Location.Lat, farm.Location.Lon)

	if len(farm.Fields) == 0 {
		fmt.Fprintf(&b, "The farm is planted with %s.\n", farm.CropType)
	} else {
		b.WriteString("Fields:\n")
		for _, f := range farm.Fields {
			crop := f.CropType
			if crop == "" {
				crop = farm.CropType
			}
			stage := f.GrowthStage
			if stage == "" {
				stage = "unknown"
			}
			fmt.Fprintf(&b, "- %s: %g acres of %s at growth stage %s\n", f.ID, f.Acres, crop, stage)
		}
	}

	b.WriteString("Report these conditions:\n")
	for _, k := range farm.ConditionKeys() {
		th := farm.Thresholds[k]
		fmt.Fprintf(&b, "- %s (alert when %s %g)\n", k, th.Comparator.Symbol(), th.Value)
	}
	return b.String()
}

// submitSchema is the JSON schema properties of the submit_assessment tool.
func submitSchema() map[string]any {
	return map[string]any{
		"conditions": map[string]any{
			"type":        "object",
			"description": "Observed value per condition key.",
			"additionalProperties": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"value":    map[string]any{"type": "number"},
					"severity": map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
					"note":     map[string]any{"type": "string"},
				},
				"required": []string{"value"},
			},
		},
		"diagnostics": map[string]any{"type": "string"},
	}
}
