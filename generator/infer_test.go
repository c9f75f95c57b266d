package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inferredDoc = `{
  "name": "Fire door checks",
  "description": "Weekly inspection of fire doors.",
  "domainContext": "Office building, 4 floors.",
  "generationRules": "One row per week.",
  "targetRowCount": 4,
  "columns": [
    {"key": "week", "label": "Week", "subLabel": null, "valueKind": "numeric", "group": null},
    {"key": "closer_force", "label": "Closer force", "subLabel": "20-40 N", "valueKind": "numeric", "group": "Door 1"},
    {"key": "remarks", "label": "Remarks", "subLabel": null, "valueKind": "textual", "group": null}
  ],
  "rows": [
    {"cells": [{"key": "week", "value": "1"}, {"key": "closer_force", "value": "31,5"}, {"key": "remarks", "value": null}]},
    {"cells": [{"key": "week", "value": "2"}, {"key": "closer_force", "value": null}, {"key": "bogus", "value": "x"}]}
  ]
}`

func TestDecodeInference(t *testing.T) {
	tmpl, rows, err := DecodeInference(inferredDoc)
	require.NoError(t, err)

	assert.Equal(t, "Fire door checks", tmpl.Name)
	assert.Equal(t, "Office building, 4 floors.", tmpl.DomainContext)
	assert.Equal(t, 4, tmpl.TargetRowCount)
	assert.Equal(t, []string{"week", "closer_force", "remarks"}, tmpl.Keys())
	force, ok := tmpl.Column("closer_force")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, force.Kind)
	assert.Equal(t, "20-40 N", force.SubLabel)
	assert.Equal(t, "Door 1", force.Group)
	assert.True(t, strings.HasPrefix(tmpl.ID, "custom-"))

	want := []RowRecord{
		{"week": 1.0, "closer_force": 31.5, "remarks": nil},
		{"week": 2.0, "closer_force": nil, "remarks": nil},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeInference_StableID(t *testing.T) {
	a, _, err := DecodeInference(inferredDoc)
	require.NoError(t, err)
	renamed := strings.Replace(inferredDoc, "Fire door checks", "Fire doors", 1)
	b, _, err := DecodeInference(renamed)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "ID depends on columns only")

	other := strings.Replace(inferredDoc, `"closer_force"`, `"force"`, 1)
	c, _, err := DecodeInference(other)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestDecodeInference_PlainObjectRowsAndDefaultCount(t *testing.T) {
	doc := `{"name":"x","columns":[{"key":"day","label":"Day","valueKind":"numeric"},{"key":"by","label":"By","valueKind":"textual"}],
		"rows":[{"day":1,"by":"AB"},{"day":"2","by":null},{"day":3}]}`
	tmpl, rows, err := DecodeInference(doc)
	require.NoError(t, err)
	assert.Equal(t, 3, tmpl.TargetRowCount)
	require.Len(t, rows, 3)
	assert.Equal(t, RowRecord{"day": 1.0, "by": "AB"}, rows[0])
	assert.Equal(t, RowRecord{"day": 2.0, "by": nil}, rows[1])
	assert.Equal(t, RowRecord{"day": 3.0, "by": nil}, rows[2])
}

func TestDecodeInference_CommaNumbersAndMistypedCells(t *testing.T) {
	doc := `{"name":"x","columns":[{"key":"flow","label":"Flow","valueKind":"numeric"},{"key":"by","label":"By","valueKind":"textual"}],
		"rows":[{"flow":"1,200","by":7},{"flow":"1,234.5","by":true},{"flow":"illegible","by":"AB"}]}`
	_, rows, err := DecodeInference(doc)
	require.NoError(t, err)
	want := []RowRecord{
		{"flow": 1200.0, "by": "7"},
		{"flow": 1234.5, "by": "true"},
		{"flow": nil, "by": "AB"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeInference_Errors(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":      "  ",
		"prose":      "I could not read the file",
		"array":      `[{"key":"a"}]`,
		"no columns": `{"name":"x","columns":[],"rows":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeInference(raw)
			assert.True(t, IsDecodeError(err), "got %v", err)
		})
	}
}

func TestInferAndGenerate(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: func(int, Request) (string, error) { return inferredDoc, nil }}
	a := newTestAgent(t, oracle, rec)

	file := []byte("%PDF-1.7 fake")
	tmpl, rows, err := a.InferAndGenerate(context.Background(), file, "application/pdf", testConfig())
	require.NoError(t, err)
	assert.Len(t, tmpl.Columns, 3)
	assert.Len(t, rows, 2)

	require.Equal(t, 1, oracle.calls())
	req := oracle.reqs[0]
	assert.Equal(t, PurposeInfer, req.Purpose)
	assert.Equal(t, InferTemperature, req.Temperature)
	require.NotNil(t, req.Inline)
	assert.Equal(t, "application/pdf", req.Inline.MIMEType)
	assert.Equal(t, file, req.Inline.Data)
	assert.Equal(t, TypeObject, req.Schema.Type)
	assert.Contains(t, req.User, "February 2024 (29 days)")
}

func TestInferAndGenerate_RejectsBadInput(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: mockThen(nil)}
	a := newTestAgent(t, oracle, rec)

	_, _, err := a.InferAndGenerate(context.Background(), nil, "image/png", testConfig())
	assert.Error(t, err)
	_, _, err = a.InferAndGenerate(context.Background(), []byte{1}, "", testConfig())
	assert.Error(t, err)
	assert.Zero(t, oracle.calls())
}

func TestInferAndGenerate_RetriesOverload(t *testing.T) {
	rec := &sleepRecorder{}
	oracle := &scriptedOracle{reply: func(n int, _ Request) (string, error) {
		if n < 2 {
			return "", &OracleError{StatusCode: 503, Message: "The model is overloaded"}
		}
		return inferredDoc, nil
	}}
	a := newTestAgent(t, oracle, rec)

	_, rows, err := a.InferAndGenerate(context.Background(), []byte("img"), "image/jpeg", testConfig())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 3, oracle.calls())
	assert.Len(t, rec.slept, 2)
}

func TestInferAndGenerate_Mock(t *testing.T) {
	a, err := NewAgent(MockLLM{}, Options{})
	require.NoError(t, err)
	tmpl, rows, err := a.InferAndGenerate(context.Background(), []byte("x"), "image/png", testConfig())
	require.NoError(t, err)
	assert.Equal(t, "Mock logbook", tmpl.Name)
	assert.Len(t, rows, 2)
}
