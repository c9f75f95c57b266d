package generator

import (
	"fmt"
	"strings"
	"time"
)

// ValueKind is the scalar kind a column holds.
type ValueKind string

const (
	KindNumeric ValueKind = "numeric"
	KindTextual ValueKind = "textual"
)

// ColumnSpec describes one logbook column.
type ColumnSpec struct {
	Key      string    `json:"key" yaml:"key"`
	Label    string    `json:"label" yaml:"label"`
	SubLabel string    `json:"subLabel,omitempty" yaml:"sub_label,omitempty"`
	Kind     ValueKind `json:"valueKind" yaml:"kind"`
	Group    string    `json:"group,omitempty" yaml:"group,omitempty"`
}

// TableTemplate is an immutable logbook definition. Columns are ordered.
type TableTemplate struct {
	ID              string       `json:"id" yaml:"id"`
	Name            string       `json:"name" yaml:"name"`
	Description     string       `json:"description" yaml:"description"`
	DomainContext   string       `json:"domainContext" yaml:"domain_context"`
	Columns         []ColumnSpec `json:"columns" yaml:"columns"`
	TargetRowCount  int          `json:"targetRowCount" yaml:"target_row_count"`
	GenerationRules string       `json:"generationRules" yaml:"generation_rules"`
}

// Column returns the column with the given key.
func (t TableTemplate) Column(key string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Keys lists column keys in template order.
func (t TableTemplate) Keys() []string {
	keys := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		keys = append(keys, c.Key)
	}
	return keys
}

// Mode controls how strongly anomalies are injected, in increasing order.
type Mode string

const (
	ModeCompliant Mode = "compliant"
	ModeRealistic Mode = "realistic"
	ModeChaos     Mode = "chaos"
)

// ParseMode accepts a mode name case-insensitively. Empty means realistic.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRealistic:
		return ModeRealistic, nil
	case ModeCompliant:
		return ModeCompliant, nil
	case ModeChaos:
		return ModeChaos, nil
	default:
		return "", fmt.Errorf("unknown simulation mode %q", s)
	}
}

// SimulationConfig is owned by the caller and passed by value into every call.
type SimulationConfig struct {
	FillRate     int    `json:"fillRate" yaml:"fill_rate"`
	AnomalyRate  int    `json:"anomalyRate" yaml:"anomaly_rate"`
	Mode         Mode   `json:"mode" yaml:"mode"`
	TargetPeriod string `json:"targetPeriod" yaml:"target_period"`
}

// DefaultSimulationConfig returns the settings used when a caller supplies none.
func DefaultSimulationConfig(now time.Time) SimulationConfig {
	return SimulationConfig{
		FillRate:     95,
		AnomalyRate:  10,
		Mode:         ModeRealistic,
		TargetPeriod: now.Format("2006-01"),
	}
}

func (c SimulationConfig) Validate() error {
	var errs []string
	if c.FillRate < 0 || c.FillRate > 100 {
		errs = append(errs, fmt.Sprintf("fillRate (%d) must be 0-100", c.FillRate))
	}
	if c.AnomalyRate < 0 || c.AnomalyRate > 100 {
		errs = append(errs, fmt.Sprintf("anomalyRate (%d) must be 0-100", c.AnomalyRate))
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		errs = append(errs, err.Error())
	}
	if c.TargetPeriod != "" {
		if _, err := ParsePeriod(c.TargetPeriod); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid simulation config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Period is a calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod reads a "YYYY-MM" token.
func ParsePeriod(s string) (Period, error) {
	ts, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Period{}, fmt.Errorf("target period %q must look like YYYY-MM", s)
	}
	return Period{Year: ts.Year(), Month: ts.Month()}, nil
}

// Days returns the number of days in the month, leap years included.
func (p Period) Days() int {
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (p Period) String() string {
	return fmt.Sprintf("%s %d", p.Month, p.Year)
}

// RowRecord maps column key to a scalar: float64, string or nil.
type RowRecord map[string]any

// Clone copies the record so callers can edit it freely.
func (r RowRecord) Clone() RowRecord {
	out := make(RowRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ProgressFunc receives human-readable status updates. Purely observational.
type ProgressFunc func(status string)
