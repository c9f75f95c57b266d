package generator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedOracle records every request and answers through reply.
type scriptedOracle struct {
	mu    sync.Mutex
	reqs  []Request
	reply func(call int, req Request) (string, error)
}

func (o *scriptedOracle) Complete(_ context.Context, req Request) (string, error) {
	o.mu.Lock()
	n := len(o.reqs)
	o.reqs = append(o.reqs, req)
	o.mu.Unlock()
	return o.reply(n, req)
}

func (o *scriptedOracle) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.reqs)
}

// mockThen fails the listed calls with err and answers the rest like MockLLM.
func mockThen(err error, failing ...int) func(int, Request) (string, error) {
	return func(n int, req Request) (string, error) {
		for _, f := range failing {
			if n == f {
				return "", err
			}
		}
		return MockLLM{}.Complete(context.Background(), req)
	}
}

func testTemplate(rows int) TableTemplate {
	return TableTemplate{
		ID:             "boiler",
		Name:           "Boiler room log",
		DomainContext:  "Gas boiler plant room",
		TargetRowCount: rows,
		Columns: []ColumnSpec{
			{Key: "day", Label: "Day", Kind: KindNumeric},
			{Key: "reading", Label: "Pressure", SubLabel: "2-4 bar", Kind: KindNumeric},
			{Key: "corrective_action", Label: "Corrective action", Kind: KindTextual},
		},
	}
}

func testConfig() SimulationConfig {
	return SimulationConfig{FillRate: 95, AnomalyRate: 10, Mode: ModeRealistic, TargetPeriod: "2024-02"}
}

func newTestAgent(t *testing.T, o Oracle, rec *sleepRecorder) *Agent {
	t.Helper()
	a, err := NewAgent(o, Options{Retry: testPolicy(rec), Sleep: rec.sleep})
	require.NoError(t, err)
	return a
}

func TestNewAgent_RequiresOracle(t *testing.T) {
	_, err := NewAgent(nil, Options{})
	assert.Error(t, err)
}

func TestGenerate_OrderingPacingAndProgress(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: mockThen(nil)}
	a := newTestAgent(t, oracle, rec)

	var progress []string
	rows, err := a.Generate(context.Background(), testTemplate(70), testConfig(), func(s string) {
		progress = append(progress, s)
	})
	require.NoError(t, err)
	require.Len(t, rows, 70)
	for i, r := range rows {
		assert.Equal(t, float64(i+1), r["day"], "row %d", i)
		assert.Equal(t, 3.0, r["reading"])
		assert.Contains(t, r, "corrective_action")
	}
	assert.Equal(t, []string{"Generating batch 1 of 2...", "Generating batch 2 of 2..."}, progress)
	assert.Equal(t, []time.Duration{DefaultBatchPause}, rec.slept, "one pause between two batches")

	require.Equal(t, 2, oracle.calls())
	second := oracle.reqs[1]
	assert.Equal(t, PurposeGenerate, second.Purpose)
	assert.Equal(t, 41, second.Batch.StartOffset)
	assert.Equal(t, 30, second.Batch.Size)
	assert.Equal(t, float32(0.7), second.Temperature)
	assert.Equal(t, []string{"day", "reading", "corrective_action"}, second.Schema.Items.Order)
}

func TestGenerate_SingleBatchHasNoPause(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: mockThen(nil)}
	a := newTestAgent(t, oracle, rec)

	rows, err := a.Generate(context.Background(), testTemplate(31), testConfig(), nil)
	require.NoError(t, err)
	assert.Len(t, rows, 31)
	assert.Equal(t, 1, oracle.calls())
	assert.Empty(t, rec.slept)
}

func TestGenerate_RetriesTransientFailure(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: mockThen(&OracleError{StatusCode: 503, Status: "UNAVAILABLE"}, 0)}
	a := newTestAgent(t, oracle, rec)

	rows, err := a.Generate(context.Background(), testTemplate(70), testConfig(), nil)
	require.NoError(t, err)
	assert.Len(t, rows, 70)
	assert.Equal(t, 3, oracle.calls())
	assert.Equal(t, []time.Duration{DefaultBaseDelay, DefaultBatchPause}, rec.slept)
}

func TestGenerate_FailureDiscardsEverything(t *testing.T) {
	rec := &sleepRecorder{}
	fatal := &OracleError{StatusCode: 400, Status: "INVALID_ARGUMENT", Message: "schema too deep"}
	oracle := &scriptedOracle{reply: mockThen(fatal, 1)}
	a := newTestAgent(t, oracle, rec)

	rows, err := a.Generate(context.Background(), testTemplate(70), testConfig(), nil)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.Contains(t, err.Error(), "batch 2 of 2")
	var oe *OracleError
	require.True(t, errors.As(err, &oe))
	assert.Same(t, fatal, oe)
	assert.Equal(t, 2, oracle.calls())
}

func TestGenerate_ExhaustedRetriesAbort(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: func(int, Request) (string, error) {
		return "", &OracleError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED"}
	}}
	a := newTestAgent(t, oracle, rec)

	rows, err := a.Generate(context.Background(), testTemplate(70), testConfig(), nil)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.Equal(t, DefaultMaxAttempts+1, oracle.calls(), "the second batch is never attempted")
}

func TestGenerate_EmptyBatchYieldsZeroRows(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: func(n int, req Request) (string, error) {
		if n == 1 {
			return "   ", nil
		}
		return MockLLM{}.Complete(context.Background(), req)
	}}
	a := newTestAgent(t, oracle, rec)

	rows, err := a.Generate(context.Background(), testTemplate(70), testConfig(), nil)
	require.NoError(t, err)
	assert.Len(t, rows, 40)
}

func TestGenerate_RowsFollowSchema(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: func(int, Request) (string, error) {
		return "```json\n[{\"day\": 1, \"reading\": \"3,4\", \"extra\": \"x\"}, {\"day\": 2}]\n```", nil
	}}
	a := newTestAgent(t, oracle, rec)

	rows, err := a.Generate(context.Background(), testTemplate(2), testConfig(), nil)
	require.NoError(t, err)
	want := []RowRecord{
		{"day": 1.0, "reading": 3.4, "corrective_action": nil},
		{"day": 2.0, "reading": nil, "corrective_action": nil},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_UndecodableBatchFails(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: func(int, Request) (string, error) {
		return "Sure! Here are your rows.", nil
	}}
	a := newTestAgent(t, oracle, rec)

	rows, err := a.Generate(context.Background(), testTemplate(10), testConfig(), nil)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.True(t, IsDecodeError(err))
}

func TestGenerate_WrongTypeCellIsNulled(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: func(n int, req Request) (string, error) {
		if n != 1 {
			return MockLLM{}.Complete(context.Background(), req)
		}
		batch := make([]map[string]any, req.Batch.Size)
		for i := range batch {
			batch[i] = map[string]any{"day": req.Batch.StartOffset + i, "reading": 3.1, "corrective_action": nil}
		}
		batch[5]["reading"] = "n/a"
		out, err := json.Marshal(batch)
		return string(out), err
	}}
	core, logs := observer.New(zap.WarnLevel)
	a, err := NewAgent(oracle, Options{Retry: testPolicy(rec), Sleep: rec.sleep, Logger: zap.New(core)})
	require.NoError(t, err)

	rows, err := a.Generate(context.Background(), testTemplate(70), testConfig(), nil)
	require.NoError(t, err)
	require.Len(t, rows, 70)
	assert.Equal(t, 2, oracle.calls())
	assert.Nil(t, rows[45]["reading"])
	assert.Equal(t, 46.0, rows[45]["day"])
	assert.Equal(t, 3.1, rows[46]["reading"])

	nulled := logs.FilterMessage("batch cells nulled").All()
	require.Len(t, nulled, 1)
	assert.Equal(t, int64(2), nulled[0].ContextMap()["batch"])
	assert.Equal(t, int64(1), nulled[0].ContextMap()["cells"])
}

func TestGenerate_InvalidInputsMakeNoCalls(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: mockThen(nil)}
	a := newTestAgent(t, oracle, rec)

	cfg := testConfig()
	cfg.FillRate = 130
	_, err := a.Generate(context.Background(), testTemplate(5), cfg, nil)
	assert.Error(t, err)

	_, err = a.Generate(context.Background(), TableTemplate{ID: "empty", TargetRowCount: 5}, testConfig(), nil)
	assert.Error(t, err)
	assert.Zero(t, oracle.calls())
}

func TestGenerate_CanceledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	oracle := &scriptedOracle{reply: func(_ int, req Request) (string, error) {
		cancel()
		return MockLLM{}.Complete(context.Background(), req)
	}}
	a, err := NewAgent(oracle, Options{BatchPause: time.Hour})
	require.NoError(t, err)

	rows, err := a.Generate(ctx, testTemplate(70), testConfig(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rows)
	assert.Equal(t, 1, oracle.calls())
}

func TestGenerate_ModeTemperature(t *testing.T) {
	for mode, want := range map[Mode]float32{ModeCompliant: 0.4, ModeRealistic: 0.7, ModeChaos: 1.0} {
		rec := &sleepRecorder{}
		oracle := &scriptedOracle{reply: mockThen(nil)}
		a := newTestAgent(t, oracle, rec)
		cfg := testConfig()
		cfg.Mode = mode
		_, err := a.Generate(context.Background(), testTemplate(3), cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, want, oracle.reqs[0].Temperature, string(mode))
	}
}
