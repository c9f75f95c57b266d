package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt is the system + user text sent to the oracle.
type Prompt struct {
	System string
	User   string
}

const (
	InferTemperature float32 = 0.4
	FixTemperature   float32 = 0.1
)

// Temperature returns the sampling temperature for a simulation mode.
func Temperature(mode Mode) float32 {
	switch mode {
	case ModeCompliant:
		return 0.4
	case ModeChaos:
		return 1.0
	default:
		return 0.7
	}
}

// ComposeSystem frames the domain: context, rules, and the rule and anomaly libraries.
func ComposeSystem(t TableTemplate, lib Library) string {
	var sb strings.Builder
	sb.WriteString("You generate realistic compliance logbook data for facility maintenance staff.\n")
	sb.WriteString("Answer with a single JSON document that follows the response schema. No prose.\n\n")
	if t.Name != "" {
		sb.WriteString(fmt.Sprintf("Logbook: %s\n", t.Name))
	}
	if t.Description != "" {
		sb.WriteString(fmt.Sprintf("Purpose: %s\n", t.Description))
	}
	if t.DomainContext != "" {
		sb.WriteString(fmt.Sprintf("Domain context: %s\n", t.DomainContext))
	}
	if t.GenerationRules != "" {
		sb.WriteString(fmt.Sprintf("Generation rules: %s\n", t.GenerationRules))
	}
	writeLibrary(&sb, lib)
	return sb.String()
}

func writeLibrary(sb *strings.Builder, lib Library) {
	if len(lib.ValidationRules) > 0 {
		sb.WriteString("\nValidation rules:\n")
		for _, r := range lib.ValidationRules {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", r.Name, r.Rule))
		}
	}
	if len(lib.AnomalyScenarios) > 0 {
		sb.WriteString("\nAnomaly scenarios (condition -> outcome -> corrective action):\n")
		for _, a := range lib.AnomalyScenarios {
			sb.WriteString(fmt.Sprintf("- %s -> %s -> %s\n", a.Condition, a.Outcome, a.Action))
		}
	}
}

// ComposeBatch gives the batch-specific instructions: offsets, period and mode.
func ComposeBatch(t TableTemplate, cfg SimulationConfig, b Batch) string {
	var sb strings.Builder
	last := b.StartOffset + b.Size - 1
	sb.WriteString(fmt.Sprintf("Generate exactly %d rows covering row offsets %d to %d (1-based) of a %d-row logbook.\n",
		b.Size, b.StartOffset, last, t.TargetRowCount))
	sb.WriteString("Return the rows in offset order.\n")

	sb.WriteString("Columns:\n")
	for _, c := range t.Columns {
		sb.WriteString(fmt.Sprintf("- %s: %s, %s\n", c.Key, columnHint(c), c.Kind))
	}

	if cfg.TargetPeriod != "" {
		if p, err := ParsePeriod(cfg.TargetPeriod); err == nil {
			sb.WriteString(fmt.Sprintf("Target period: %s.\n", p))
			if isCalendar(t) {
				days := p.Days()
				leap := ""
				if p.Month == 2 && days == 29 {
					leap = ", leap year"
				}
				sb.WriteString(fmt.Sprintf("Row offset N is day N of %s. The month has %d days%s.\n", p, days, leap))
				if last > days {
					sb.WriteString(fmt.Sprintf("Offsets after day %d do not exist; leave those rows out.\n", days))
				}
			}
		}
	}

	sb.WriteString(fmt.Sprintf("Fill about %d%% of cells and leave the rest null. Identifier columns are always filled.\n", cfg.FillRate))
	sb.WriteString(modeDirective(cfg))

	if rc, ok := remediationColumn(t); ok && cfg.Mode != ModeCompliant {
		sb.WriteString(fmt.Sprintf("Every row with a deviation must describe the corrective action in %q. Rows without a deviation leave it null or empty.\n", rc.Key))
	}
	return sb.String()
}

func modeDirective(cfg SimulationConfig) string {
	switch cfg.Mode {
	case ModeCompliant:
		return "Mode compliant: every value satisfies its stated bounds. Do not inject anomalies.\n"
	case ModeChaos:
		return fmt.Sprintf("Mode chaos: about %d%% of rows contain a deviation. Deviations are frequent and severe: values far past bounds, missed readings, equipment faults.\n", cfg.AnomalyRate)
	default:
		return fmt.Sprintf("Mode realistic: about %d%% of rows contain a minor deviation just outside a bound, the kind an operator notices and corrects the same day.\n", cfg.AnomalyRate)
	}
}

// BuildGenerationPrompt assembles the prompt for one batch.
func BuildGenerationPrompt(t TableTemplate, cfg SimulationConfig, b Batch, lib Library) Prompt {
	return Prompt{
		System: ComposeSystem(t, lib),
		User:   ComposeBatch(t, cfg, b),
	}
}

// BuildInferencePrompt asks the oracle to derive a logbook from a document
// and fill it in a single pass.
func BuildInferencePrompt(cfg SimulationConfig, lib Library) Prompt {
	var sb strings.Builder
	sb.WriteString("You turn scanned or exported compliance logbooks into structured tables.\n")
	sb.WriteString("Answer with a single JSON document that follows the response schema. No prose.\n")
	writeLibrary(&sb, lib)

	var user strings.Builder
	user.WriteString("Read the attached document and infer the logbook it represents.\n")
	user.WriteString("1. Define the columns in document order. Keys are snake_case. Put units or allowed ranges in subLabel and header groups in group.\n")
	user.WriteString("2. Describe the logbook: name, description, domainContext, generationRules, targetRowCount.\n")
	user.WriteString("3. Produce the rows for the whole period as cells keyed by column key. Numbers are written as plain decimals.\n")
	if cfg.TargetPeriod != "" {
		if p, err := ParsePeriod(cfg.TargetPeriod); err == nil {
			user.WriteString(fmt.Sprintf("Target period: %s (%d days).\n", p, p.Days()))
		}
	}
	user.WriteString(fmt.Sprintf("Fill about %d%% of cells.\n", cfg.FillRate))
	user.WriteString(modeDirective(cfg))
	user.WriteString("When a column holds corrective actions or remarks, every row with a deviation must carry a note there.\n")

	return Prompt{System: sb.String(), User: user.String()}
}

// BuildFixPrompt asks the oracle to correct out-of-bound values in rows.
func BuildFixPrompt(t TableTemplate, rows []RowRecord) (Prompt, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return Prompt{}, fmt.Errorf("marshal rows: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("You correct compliance logbook rows so every value satisfies its stated bounds.\n")
	sb.WriteString("Answer with a single JSON array that follows the response schema. No prose.\n")
	if t.DomainContext != "" {
		sb.WriteString(fmt.Sprintf("Domain context: %s\n", t.DomainContext))
	}

	var user strings.Builder
	user.WriteString("Columns:\n")
	for _, c := range t.Columns {
		user.WriteString(fmt.Sprintf("- %s: %s, %s\n", c.Key, columnHint(c), c.Kind))
	}
	user.WriteString(fmt.Sprintf("Return exactly %d rows in the same order.\n", len(rows)))
	user.WriteString("Move every out-of-bound value to a plausible in-bound value close to the original. Keep compliant values and identifier columns unchanged.\n")
	if rc, ok := remediationColumn(t); ok {
		user.WriteString(fmt.Sprintf("Clear %q on rows that are now compliant, or note the correction applied.\n", rc.Key))
	}
	user.WriteString("Rows:\n")
	user.Write(data)
	user.WriteString("\n")

	return Prompt{System: sb.String(), User: user.String()}, nil
}

var remediationMarkers = []string{"corrective", "remediation", "action", "remark", "observation", "comment"}

// remediationColumn finds the textual column that serves as "corrective action".
func remediationColumn(t TableTemplate) (ColumnSpec, bool) {
	for _, marker := range remediationMarkers {
		for _, c := range t.Columns {
			if c.Kind != KindTextual {
				continue
			}
			if containsFold(c.Key, marker) || containsFold(c.Label, marker) {
				return c, true
			}
		}
	}
	return ColumnSpec{}, false
}

// isCalendar reports whether rows map to days of the target month.
func isCalendar(t TableTemplate) bool {
	for _, c := range t.Columns {
		switch strings.ToLower(c.Key) {
		case "day", "date", "jour":
			return true
		}
	}
	return false
}
