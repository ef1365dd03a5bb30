package agent

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/tools"
	"github.com/agri-ai/farm-monitor/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Definitions() []tools.Definition {
	return tools.DefinitionsFor(tools.Weather, tools.Satellite, tools.Pest)
}

func (m *mockRunner) Run(ctx context.Context, farm model.Farm, name string, input json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, farm.ID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return json.RawMessage(args.String(0)), args.Error(1)
}

func testFarm() model.Farm {
	return model.Farm{
		ID:       "FARM-001",
		Name:     "Green Acres",
		Location: model.Location{Lat: 41.5868, Lon: -93.6250},
		CropType: "corn",
		Fields:   []model.Field{{ID: "FIELD-A", CropType: "corn", GrowthStage: "V10", Acres: 120}},
		Thresholds: map[string]model.Threshold{
			"heat":    {Comparator: model.ComparatorGT, Value: 35},
			"drought": {Comparator: model.ComparatorLT, Value: 0.3},
		},
	}
}

func toolUse(id, name, input string) anthropic.ContentBlock {
	return anthropic.ContentBlock{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(input)}
}

func respond(stop string, usage anthropic.TokenUsage, blocks ...anthropic.ContentBlock) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{ID: "msg", StopReason: stop, Content: blocks, Usage: usage}
}
