package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/config"
)

func TestPoints(t *testing.T) {
	points := Points(testReport())
	require.Len(t, points, 4)

	run := points[0]
	assert.Equal(t, MeasurementRun, run.Name())
	assert.Equal(t, startedAt, run.Time())

	for i, id := range []string{"F01", "F02", "F03"} {
		p := points[i+1]
		assert.Equal(t, MeasurementFarm, p.Name())
		var farmID string
		for _, tag := range p.TagList() {
			if tag.Key == "farm_id" {
				farmID = tag.Value
			}
		}
		assert.Equal(t, id, farmID)
	}
}

func TestInfluxSink_Publish(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(config.InfluxConfig{URL: srv.URL, Token: "t", Org: "agri", Bucket: "runs"})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Publish(context.Background(), testReport()))
	assert.Equal(t, "/api/v2/write", path)

	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "farm_run,status=completed,trigger=cli "))
	assert.Contains(t, lines[0], "failed_transient=1i")
	assert.Contains(t, lines[1], "farm_id=F01")
}

func TestInfluxSink_WriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(config.InfluxConfig{URL: srv.URL, Org: "agri", Bucket: "runs"})
	require.NoError(t, err)
	defer sink.Close()

	assert.Error(t, sink.Publish(context.Background(), testReport()))
}

func TestNewInfluxSink_Incomplete(t *testing.T) {
	_, err := NewInfluxSink(config.InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}
