package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agri-ai/farm-monitor/internal/model"
)

var titleCaser = cases.Title(language.English)

// ConditionTitle turns a condition key like "soil_moisture" into "Soil Moisture".
func ConditionTitle(key string) string {
	return titleCaser.String(strings.NewReplacer("_", " ", "-", " ").Replace(key))
}

// Subject renders "[HIGH] Crop Alert: Heat at Green Acres".
func Subject(farm model.Farm, d model.AlertDecision) string {
	return fmt.Sprintf("[%s] Crop Alert: %s at %s",
		strings.ToUpper(d.Severity.String()), ConditionTitle(d.ConditionKey), farm.DisplayName())
}

// Render builds the plain-text alert for one decision.
func Render(farm model.Farm, d model.AlertDecision, a *model.Assessment, recipient string) Message {
	var b strings.Builder
	greeting := farm.FarmerName
	if greeting == "" {
		greeting = "farmer"
	}
	fmt.Fprintf(&b, "Hello %s,\n\n", greeting)
	fmt.Fprintf(&b, "Our daily monitoring flagged %s at %s (%s).\n\n",
		strings.ToLower(ConditionTitle(d.ConditionKey)), farm.DisplayName(), farm.ID)
	fmt.Fprintf(&b, "Severity:  %s\n", strings.ToUpper(d.Severity.String()))
	fmt.Fprintf(&b, "Observed:  %s\n", formatNumber(d.Observed))
	fmt.Fprintf(&b, "Threshold: %s %s\n", d.Comparator.Symbol(), formatNumber(d.Threshold))

	if a != nil {
		if r, ok := a.Conditions[d.ConditionKey]; ok && r.Note != "" {
			fmt.Fprintf(&b, "Note:      %s\n", r.Note)
		}
		if a.Diagnostics != "" {
			fmt.Fprintf(&b, "\nAssessment:\n%s\n", a.Diagnostics)
		}
	}
	fmt.Fprintf(&b, "\nAssessed at %s.\n", d.Timestamp.UTC().Format(time.RFC1123))

	return Message{
		Recipient:    recipient,
		Subject:      Subject(farm, d),
		Body:         b.String(),
		ConditionKey: d.ConditionKey,
		FarmID:       farm.ID,
		Severity:     d.Severity,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
