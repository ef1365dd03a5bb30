package report

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

// Measurement names.
const (
	MeasurementRun  = "farm_run"
	MeasurementFarm = "farm_outcome"
)

// InfluxSink writes one point per run plus one per farm.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxSink connects lazily; nothing is sent until Publish.
func NewInfluxSink(cfg config.InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, eris.New("report: influx url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Points converts a report into line-protocol points stamped at its start.
func Points(r *model.RunReport) []*write.Point {
	tags := map[string]string{"status": string(r.Status)}
	if r.Trigger != "" {
		tags["trigger"] = r.Trigger
	}
	fields := map[string]any{
		"farms":              r.Total(),
		"alerts_dispatched":  r.AlertsDispatched,
		"alerts_undelivered": r.AlertsUndelivered,
		"partial_deliveries": r.PartialDeliveries,
		"cost_usd":           r.CostUSD,
		"elapsed_ms":         r.ElapsedMs,
		"failure_rate":       r.FailureRate(),
	}
	for _, o := range model.Outcomes {
		fields[string(o)] = r.Counts[o]
	}

	points := []*write.Point{influxdb2.NewPoint(MeasurementRun, tags, fields, r.StartedAt)}
	for _, fo := range r.Sorted() {
		points = append(points, influxdb2.NewPoint(MeasurementFarm,
			map[string]string{"farm_id": fo.FarmID, "outcome": string(fo.Outcome)},
			map[string]any{
				"attempts":    fo.Attempts,
				"duration_ms": fo.DurationMs,
				"delivered":   len(fo.Delivered),
				"undelivered": len(fo.Undelivered),
				"cost_usd":    fo.CostUSD,
			},
			r.StartedAt,
		))
	}
	return points
}

// Publish writes the report's points.
func (s *InfluxSink) Publish(ctx context.Context, r *model.RunReport) error {
	if err := s.writer.WritePoint(ctx, Points(r)...); err != nil {
		return eris.Wrapf(err, "report: write influx points for run %s", r.RunID)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
