package tools

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/agri-ai/farm-monitor/internal/model"
)

const kmPerDegreeLat = 111.32

// AOI returns a square area of interest centred on loc with the given
// half-width in kilometres, as a closed lon/lat polygon.
func AOI(loc model.Location, radiusKm float64) (*geom.Polygon, error) {
	if !loc.Valid() {
		return nil, eris.Errorf("tools: invalid location %.4f,%.4f", loc.Lat, loc.Lon)
	}
	if radiusKm <= 0 {
		radiusKm = 1
	}
	dLat := radiusKm / kmPerDegreeLat
	dLon := radiusKm / (kmPerDegreeLat * math.Max(math.Cos(loc.Lat*math.Pi/180), 0.01))

	minX, maxX := loc.Lon-dLon, loc.Lon+dLon
	minY, maxY := math.Max(loc.Lat-dLat, -90), math.Min(loc.Lat+dLat, 90)

	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}})
	if err != nil {
		return nil, eris.Wrap(err, "tools: build aoi")
	}
	return poly, nil
}

// AOIGeoJSON encodes the farm's area of interest as a GeoJSON geometry.
func AOIGeoJSON(loc model.Location, radiusKm float64) (json.RawMessage, error) {
	poly, err := AOI(loc, radiusKm)
	if err != nil {
		return nil, err
	}
	data, err := geojson.Marshal(poly)
	if err != nil {
		return nil, eris.Wrap(err, "tools: encode aoi")
	}
	return data, nil
}

// PointGeoJSON encodes the farm location as a GeoJSON point.
func PointGeoJSON(loc model.Location) (json.RawMessage, error) {
	pt, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{loc.Lon, loc.Lat})
	if err != nil {
		return nil, eris.Wrap(err, "tools: build point")
	}
	data, err := geojson.Marshal(pt)
	if err != nil {
		return nil, eris.Wrap(err, "tools: encode point")
	}
	return data, nil
}
