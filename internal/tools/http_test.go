package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

func testFarm() model.Farm {
	return model.Farm{
		ID:       "FARM-002",
		Name:     "Johnson Family Farm",
		Location: model.Location{Lat: 41.8780, Lon: -93.0977},
		CropType: "soybeans",
		Fields:   []model.Field{{ID: "F-1", CropType: "soybeans", GrowthStage: "R2", Acres: 80}},
	}
}

func TestHTTPRunner_Definitions(t *testing.T) {
	r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{
		Weather: "http://weather",
		Pest:    "http://pest",
	}})

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, Weather, defs[0].Name)
	assert.Equal(t, Pest, defs[1].Name)
}

func TestHTTPRunner_Run_InjectsFarmContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tool-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "FARM-002", body["farm_id"])
		assert.Equal(t, "soybeans", body["crop_type"])
		loc := body["location"].(map[string]any)
		assert.InDelta(t, 41.8780, loc["lat"], 1e-9)
		args := body["args"].(map[string]any)
		assert.EqualValues(t, 3, args["days"])
		point := body["point"].(map[string]any)
		assert.Equal(t, "Point", point["type"])
		assert.Nil(t, body["aoi"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"max_temp_c":38.5,"precip_mm":0}`))
	}))
	defer ts.Close()

	r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{Weather: ts.URL}, APIKey: "tool-key"})
	out, err := r.Run(context.Background(), testFarm(), Weather, json.RawMessage(`{"days":3}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"max_temp_c":38.5,"precip_mm":0}`, string(out))
}

func TestHTTPRunner_Run_SatelliteSendsAOI(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		aoi := body["aoi"].(map[string]any)
		assert.Equal(t, "Polygon", aoi["type"])
		rings := aoi["coordinates"].([]any)
		require.Len(t, rings, 1)
		assert.Len(t, rings[0].([]any), 5)
		_, _ = w.Write([]byte(`{"ndvi":0.42}`))
	}))
	defer ts.Close()

	r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{Satellite: ts.URL}, AOIRadiusKm: 2})
	out, err := r.Run(context.Background(), testFarm(), Satellite, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ndvi":0.42}`, string(out))
}

func TestHTTPRunner_Run_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  resilience.Class
	}{
		{"throttled", http.StatusTooManyRequests, resilience.ClassTransient},
		{"server error", http.StatusBadGateway, resilience.ClassTransient},
		{"bad request", http.StatusBadRequest, resilience.ClassPermanent},
		{"not found", http.StatusNotFound, resilience.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer ts.Close()

			r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{Pest: ts.URL}})
			_, err := r.Run(context.Background(), testFarm(), Pest, nil)
			require.Error(t, err)
			assert.Equal(t, tt.class, resilience.Classify(err))
		})
	}
}

func TestHTTPRunner_Run_ThrottleLowersRate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{Weather: ts.URL}, RatePerSec: 4})
	_, err := r.Run(context.Background(), testFarm(), Weather, nil)
	require.Error(t, err)
	assert.InDelta(t, 2.0, float64(r.limiters[Weather].Limit()), 1e-9)
}

func TestHTTPRunner_Run_UnknownTool(t *testing.T) {
	r := NewHTTPRunner(HTTPOptions{})
	_, err := r.Run(context.Background(), testFarm(), "get_stock_price", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.True(t, resilience.IsPermanent(err))
}

func TestHTTPRunner_Run_InvalidInput(t *testing.T) {
	r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{Weather: "http://127.0.0.1:1"}})
	_, err := r.Run(context.Background(), testFarm(), Weather, json.RawMessage(`{"days":`))
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestHTTPRunner_Run_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{Weather: ts.URL}, Timeout: 50 * time.Millisecond})
	_, err := r.Run(context.Background(), testFarm(), Weather, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestHTTPRunner_Run_InvalidJSONResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer ts.Close()

	r := NewHTTPRunner(HTTPOptions{Endpoints: map[string]string{Pest: ts.URL}})
	_, err := r.Run(context.Background(), testFarm(), Pest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}
