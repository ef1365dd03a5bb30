package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/model"
)

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "farms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFarmsFromFile_DemoFixture(t *testing.T) {
	farms, err := LoadFarmsFromFile(filepath.Join("..", "..", "testdata", "farms.yaml"))
	require.NoError(t, err)
	require.Len(t, farms, 3)

	f := farms[0]
	assert.Equal(t, "FARM-001", f.ID)
	assert.Equal(t, "Green Acres", f.Name)
	assert.Equal(t, "Sarah Johnson", f.FarmerName)
	assert.Equal(t, "sarah@greenacres.example.com", f.Contact.Email)
	require.Len(t, f.Fields, 2)
	assert.Equal(t, "FIELD-A", f.Fields[0].ID)
	assert.InDelta(t, 120, f.Fields[0].Acres, 0.001)
	assert.Equal(t, model.ComparatorLT, f.Thresholds["soil_moisture"].Comparator)
	assert.Equal(t, model.SeverityCritical, f.Thresholds["disease_risk"].Severity)

	assert.Equal(t, "FARM-002", farms[1].ID)
	assert.Equal(t, model.SeverityUnknown, farms[1].Thresholds["pest_pressure"].Severity)
	assert.Empty(t, farms[2].Contact.Email)
	assert.Equal(t, "+1-701-555-0199", farms[2].Contact.Phone)
}

func TestParseFarms(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr string
	}{
		{
			name: "minimal farm",
			body: `
farms:
  - farm_id: F1
    location: {lat: 10, lon: 20}
    crop_type: rice
    thresholds:
      flood_risk: {comparator: gt, value: 0.8}
`,
			want: 1,
		},
		{
			name: "no farms",
			body: "farms: []\n",
			want: 0,
		},
		{
			name:    "empty file",
			body:    "",
			wantErr: "fixture is empty",
		},
		{
			name: "unknown key",
			body: `
farms:
  - farm_id: F1
    treshold: {}
`,
			wantErr: "unmarshal farms fixture",
		},
		{
			name: "invalid comparator",
			body: `
farms:
  - farm_id: F1
    location: {lat: 10, lon: 20}
    crop_type: rice
    thresholds:
      flood_risk: {comparator: above, value: 0.8}
`,
			wantErr: "unsupported comparator",
		},
		{
			name: "unknown severity",
			body: `
farms:
  - farm_id: F1
    location: {lat: 10, lon: 20}
    crop_type: rice
    thresholds:
      flood_risk: {comparator: gt, value: 0.8, severity: apocalyptic}
`,
			wantErr: "unknown severity",
		},
		{
			name: "missing location",
			body: `
farms:
  - farm_id: F1
    crop_type: rice
    thresholds:
      flood_risk: {comparator: gt, value: 0.8}
`,
			wantErr: "farm #1",
		},
		{
			name: "duplicate id",
			body: `
farms:
  - farm_id: F1
    location: {lat: 10, lon: 20}
    crop_type: rice
    thresholds: {flood_risk: {comparator: gt, value: 0.8}}
  - farm_id: F1
    location: {lat: 11, lon: 21}
    crop_type: rice
    thresholds: {flood_risk: {comparator: gt, value: 0.9}}
`,
			wantErr: "duplicate farm id F1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			farms, err := ParseFarms([]byte(tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, farms, tt.want)
		})
	}
}

func TestLoadFarmsFromFile_NotFound(t *testing.T) {
	_, err := LoadFarmsFromFile("/nonexistent/farms.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read farms fixture")
}

func TestLoadFarmsFromFile_NamesPath(t *testing.T) {
	path := writeFixture(t, "farms: [{farm_id: ''}]\n")
	_, err := LoadFarmsFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}
