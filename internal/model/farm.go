package model

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// Comparator declares how an observed value is tested against a threshold.
type Comparator string

const (
	ComparatorGT  Comparator = "gt"
	ComparatorGTE Comparator = "gte"
	ComparatorLT  Comparator = "lt"
	ComparatorLTE Comparator = "lte"
)

// Valid reports whether c is one of the supported comparators.
func (c Comparator) Valid() bool {
	switch c {
	case ComparatorGT, ComparatorGTE, ComparatorLT, ComparatorLTE:
		return true
	default:
		return false
	}
}

// Exceeded returns true when observed crosses limit in the comparator's
// direction. Unknown comparators and NaN observations never exceed.
func (c Comparator) Exceeded(observed, limit float64) bool {
	if math.IsNaN(observed) {
		return false
	}
	switch c {
	case ComparatorGT:
		return observed > limit
	case ComparatorGTE:
		return observed >= limit
	case ComparatorLT:
		return observed < limit
	case ComparatorLTE:
		return observed <= limit
	default:
		return false
	}
}

// Symbol returns the operator used in human-readable alert text.
func (c Comparator) Symbol() string {
	switch c {
	case ComparatorGT:
		return ">"
	case ComparatorGTE:
		return ">="
	case ComparatorLT:
		return "<"
	case ComparatorLTE:
		return "<="
	default:
		return string(c)
	}
}

// Threshold is the alert limit for one condition on one farm.
type Threshold struct {
	Comparator Comparator `json:"comparator" yaml:"comparator"`
	Value      float64    `json:"value" yaml:"value"`
	// Severity is used when the assessment does not grade the condition.
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the coordinate lies on the globe.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180 &&
		!(l.Lat == 0 && l.Lon == 0)
}

// Contact holds how a farmer is reached.
type Contact struct {
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Field is a cultivated plot within a farm.
type Field struct {
	ID          string  `json:"field_id" yaml:"field_id"`
	CropType    string  `json:"crop_type" yaml:"crop_type"`
	GrowthStage string  `json:"growth_stage,omitempty" yaml:"growth_stage,omitempty"`
	Acres       float64 `json:"acres,omitempty" yaml:"acres,omitempty"`
}

// Farm is a monitored agricultural unit. It is immutable for a run.
type Farm struct {
	ID         string               `json:"farm_id" yaml:"farm_id"`
	Name       string               `json:"name,omitempty" yaml:"name,omitempty"`
	FarmerName string               `json:"farmer_name,omitempty" yaml:"farmer_name,omitempty"`
	Location   Location             `json:"location" yaml:"location"`
	CropType   string               `json:"crop_type" yaml:"crop_type"`
	Fields     []Field              `json:"fields,omitempty" yaml:"fields,omitempty"`
	Contact    Contact              `json:"contact" yaml:"contact"`
	Thresholds map[string]Threshold `json:"thresholds" yaml:"thresholds"`
}

// DisplayName returns the farm name, falling back to its ID.
func (f Farm) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// ConditionKeys returns the farm's threshold keys in sorted order.
func (f Farm) ConditionKeys() []string {
	keys := make([]string, 0, len(f.Thresholds))
	for k := range f.Thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the static configuration of a farm. Errors returned here
// are configuration faults; retrying will not fix them.
func (f Farm) Validate() error {
	if f.ID == "" {
		return eris.New("model: farm id is required")
	}
	if !f.Location.Valid() {
		return eris.Errorf("model: farm %s: invalid location (%f, %f)", f.ID, f.Location.Lat, f.Location.Lon)
	}
	if f.CropType == "" && len(f.Fields) == 0 {
		return eris.Errorf("model: farm %s: crop type or fields required", f.ID)
	}
	if len(f.Thresholds) == 0 {
		return eris.Errorf("model: farm %s: no alert thresholds configured", f.ID)
	}
	for _, key := range f.ConditionKeys() {
		th := f.Thresholds[key]
		if key == "" {
			return eris.Errorf("model: farm %s: empty condition key", f.ID)
		}
		if !th.Comparator.Valid() {
			return eris.Errorf("model: farm %s: condition %s: unsupported comparator %q", f.ID, key, th.Comparator)
		}
		if math.IsNaN(th.Value) || math.IsInf(th.Value, 0) {
			return eris.Errorf("model: farm %s: condition %s: threshold is not finite", f.ID, key)
		}
	}
	for i, fld := range f.Fields {
		if fld.ID == "" {
			return eris.Errorf("model: farm %s: field %d has no id", f.ID, i)
		}
		if fld.Acres < 0 {
			return eris.Errorf("model: farm %s: field %s: negative acreage", f.ID, fld.ID)
		}
	}
	return nil
}
