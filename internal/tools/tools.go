// Package tools runs the data-fetching tools the evaluation agent calls:
// weather forecast, satellite vegetation indices and pest/disease risk.
package tools

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/model"
)

// Tool names exposed to the agent.
const (
	Weather   = "get_weather"
	Satellite = "get_satellite_indices"
	Pest      = "query_pest_risk"
)

// ErrUnknownTool is returned for a tool name that has no configured backend.
var ErrUnknownTool = eris.New("tools: unknown tool")

// Definition describes a tool to the model. Properties is a JSON schema
// properties object.
type Definition struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Runner executes one tool call on behalf of a farm. The farm's location,
// crop and AOI are injected by the runner; input carries only what the model
// chose.
type Runner interface {
	Definitions() []Definition
	Run(ctx context.Context, farm model.Farm, name string, input json.RawMessage) (json.RawMessage, error)
}

var definitions = map[string]Definition{
	Weather: {
		Name:        Weather,
		Description: "Current conditions and daily forecast for the farm location: temperature extremes, precipitation, humidity, wind and soil moisture.",
		Properties: map[string]any{
			"days": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"maximum":     10,
				"description": "Forecast horizon in days.",
			},
		},
	},
	Satellite: {
		Name:        Satellite,
		Description: "Latest satellite vegetation indices (NDVI, NDWI, EVI) over the farm's area of interest, with change against the trailing baseline.",
		Properties: map[string]any{
			"indices": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": []string{"ndvi", "ndwi", "evi"}},
			},
			"lookback_days": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 60,
			},
		},
	},
	Pest: {
		Name:        Pest,
		Description: "Pest and disease risk for the farm's crops and growth stages given recent weather, from the regional knowledge base.",
		Properties: map[string]any{
			"pests": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional pest or disease names to focus on.",
			},
		},
	},
}

// DefinitionsFor returns the definitions of the named tools in the given order.
func DefinitionsFor(names ...string) []Definition {
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		if d, ok := definitions[n]; ok {
			out = append(out, d)
		}
	}
	return out
}
