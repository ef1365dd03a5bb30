package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/model"
)

func TestAOI_SquareAroundLocation(t *testing.T) {
	loc := model.Location{Lat: 41.8780, Lon: -93.0977}
	poly, err := AOI(loc, 1)
	require.NoError(t, err)

	bounds := poly.Bounds()
	assert.Less(t, bounds.Min(0), loc.Lon)
	assert.Greater(t, bounds.Max(0), loc.Lon)
	assert.InDelta(t, loc.Lat-1/kmPerDegreeLat, bounds.Min(1), 1e-9)
	assert.InDelta(t, loc.Lat+1/kmPerDegreeLat, bounds.Max(1), 1e-9)

	// Longitude span widens away from the equator.
	assert.Greater(t, bounds.Max(0)-bounds.Min(0), bounds.Max(1)-bounds.Min(1))
}

func TestAOI_InvalidLocation(t *testing.T) {
	_, err := AOI(model.Location{}, 1)
	require.Error(t, err)
	_, err = AOI(model.Location{Lat: 91, Lon: 0}, 1)
	require.Error(t, err)
}

func TestAOIGeoJSON(t *testing.T) {
	data, err := AOIGeoJSON(model.Location{Lat: 40, Lon: -90}, 0)
	require.NoError(t, err)

	var g struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(data, &g))
	assert.Equal(t, "Polygon", g.Type)
	require.Len(t, g.Coordinates, 1)
	ring := g.Coordinates[0]
	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[4], "ring is closed")
}

func TestPointGeoJSON(t *testing.T) {
	data, err := PointGeoJSON(model.Location{Lat: 41.5, Lon: -93.25})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[-93.25,41.5]}`, string(data))
}
