package report

import (
	"time"

	"github.com/agri-ai/farm-monitor/internal/model"
)

var startedAt = time.Date(2026, 7, 14, 6, 0, 0, 0, time.UTC)

func testReport() *model.RunReport {
	r := model.NewRunReport("run-1", startedAt, []string{"F01", "F02", "F03"})
	r.Trigger = "cli"
	r.Record(model.FarmOutcome{
		FarmID:     "F01",
		Outcome:    model.OutcomeSucceeded,
		Attempts:   1,
		Delivered:  []string{"heat"},
		CostUSD:    0.02,
		DurationMs: 1200,
	})
	r.Record(model.FarmOutcome{
		FarmID:     "F02",
		Outcome:    model.OutcomeFailedTransient,
		Attempts:   3,
		ErrorClass: "transient_infra",
		Error:      "agent unavailable",
		Undelivered: []model.UndeliveredAlert{
			{ConditionKey: "frost", Severity: model.SeverityHigh, Reason: "smtp down", Transient: true},
		},
	})
	r.Finalize(startedAt.Add(90 * time.Second))
	return r
}
