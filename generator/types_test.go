package generator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2024-02")
	require.NoError(t, err)
	assert.Equal(t, 29, p.Days())
	assert.Equal(t, "February 2024", p.String())

	p, err = ParsePeriod(" 2023-02 ")
	require.NoError(t, err)
	assert.Equal(t, 28, p.Days())

	p, err = ParsePeriod("1900-02")
	require.NoError(t, err)
	assert.Equal(t, 28, p.Days())

	p, err = ParsePeriod("2000-02")
	require.NoError(t, err)
	assert.Equal(t, 29, p.Days())

	for _, bad := range []string{"", "2024", "2024-13", "02-2024", "2024/02"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeRealistic, "Chaos": ModeChaos, " compliant ": ModeCompliant} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("strict")
	assert.Error(t, err)
}

func TestSimulationConfigValidate(t *testing.T) {
	now := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)
	def := DefaultSimulationConfig(now)
	assert.NoError(t, def.Validate())
	assert.Equal(t, "2025-03", def.TargetPeriod)
	assert.Equal(t, ModeRealistic, def.Mode)

	bad := SimulationConfig{FillRate: -1, AnomalyRate: 101, Mode: "loud", TargetPeriod: "March"}
	err := bad.Validate()
	require.Error(t, err)
	for _, part := range []string{"fillRate", "anomalyRate", "loud", "March"} {
		assert.Contains(t, err.Error(), part)
	}

	assert.NoError(t, SimulationConfig{FillRate: 0, AnomalyRate: 100}.Validate(), "bounds are inclusive")
}

func TestRowRecordClone(t *testing.T) {
	r := RowRecord{"day": 1.0, "note": nil}
	c := r.Clone()
	c["day"] = 2.0
	assert.Equal(t, 1.0, r["day"])
	assert.Contains(t, c, "note")
}
