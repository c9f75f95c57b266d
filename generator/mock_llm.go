package generator

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MockLLM is an offline stand-in for local debugging. It answers from the request
// schema alone: rows sit in the middle of any "a-b" range hint.
type MockLLM struct{}

var rangeHint = regexp.MustCompile(`\(([0-9.]+)-([0-9.]+)`)

func (m MockLLM) Complete(_ context.Context, req Request) (string, error) {
	switch req.Purpose {
	case PurposeFix:
		// Echo the rows back unchanged.
		if i := strings.Index(req.User, "Rows:\n"); i >= 0 {
			return strings.TrimSpace(req.User[i+len("Rows:\n"):]), nil
		}
		return "[]", nil
	case PurposeInfer:
		return mockInference, nil
	}

	if req.Batch == nil || req.Schema == nil || req.Schema.Items == nil {
		return "[]", nil
	}
	item := req.Schema.Items
	keys := append([]string(nil), item.Order...)
	if len(keys) == 0 {
		for k := range item.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	rows := make([]map[string]any, 0, req.Batch.Size)
	for i := 0; i < req.Batch.Size; i++ {
		offset := req.Batch.StartOffset + i
		row := make(map[string]any, len(keys))
		for _, k := range keys {
			row[k] = mockValue(k, item.Properties[k], offset)
		}
		rows = append(rows, row)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func mockValue(key string, prop *Schema, offset int) any {
	lower := strings.ToLower(key)
	if prop == nil {
		return nil
	}
	if prop.Type != TypeNumber {
		switch {
		case lower == "date":
			return strconv.Itoa(offset)
		case containsFold(prop.Description, "yes/no"):
			return "yes"
		case containsFold(prop.Description, "ok/fault"):
			return "OK"
		case containsFold(lower, "operator") || containsFold(lower, "by"):
			return "MK"
		default:
			return nil
		}
	}
	switch lower {
	case "day", "week", "jour":
		return float64(offset)
	}
	if m := rangeHint.FindStringSubmatch(prop.Description); len(m) == 3 {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		return (lo + hi) / 2
	}
	return float64(offset % 10)
}

const mockInference = `{
  "name": "Mock logbook",
  "description": "Inferred without calling a model.",
  "domainContext": "Local debugging.",
  "generationRules": "",
  "targetRowCount": 2,
  "columns": [
    {"key": "day", "label": "Day", "subLabel": null, "valueKind": "numeric", "group": null},
    {"key": "reading", "label": "Reading", "subLabel": "0-10", "valueKind": "numeric", "group": null}
  ],
  "rows": [
    {"cells": [{"key": "day", "value": "1"}, {"key": "reading", "value": "5"}]},
    {"cells": [{"key": "day", "value": "2"}, {"key": "reading", "value": "5.5"}]}
  ]
}`
