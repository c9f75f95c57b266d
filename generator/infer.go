package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// InferAndGenerate derives a template from an uploaded document and fills it
// in one oracle call. The inferred columns are trusted as returned.
func (a *Agent) InferAndGenerate(ctx context.Context, file []byte, mimeType string, cfg SimulationConfig) (TableTemplate, []RowRecord, error) {
	if len(file) == 0 {
		return TableTemplate{}, nil, errors.New("uploaded file is empty")
	}
	if mimeType == "" {
		return TableTemplate{}, nil, errors.New("mime type is required")
	}
	if err := cfg.Validate(); err != nil {
		return TableTemplate{}, nil, err
	}
	log := a.logger.With(zap.String("mime", mimeType), zap.Int("bytes", len(file)))
	log.Info("inference started")

	prompt := BuildInferencePrompt(cfg, a.library)
	req := Request{
		Purpose:     PurposeInfer,
		System:      prompt.System,
		User:        prompt.User,
		Inline:      &InlineData{MIMEType: mimeType, Data: file},
		Schema:      BuildInferenceSchema(),
		Temperature: InferTemperature,
	}
	raw, err := WithRetry(ctx, a.policy(log), func(ctx context.Context) (string, error) {
		return a.oracle.Complete(ctx, req)
	})
	if err != nil {
		log.Error("inference failed", zap.Error(err))
		return TableTemplate{}, nil, err
	}
	t, rows, err := DecodeInference(raw)
	if err != nil {
		log.Error("inference decode failed", zap.Error(err))
		return TableTemplate{}, nil, err
	}
	log.Info("inference finished", zap.String("template", t.ID), zap.Int("columns", len(t.Columns)), zap.Int("rows", len(rows)))
	return t, rows, nil
}

// DecodeInference reads the combined template + rows document.
func DecodeInference(raw string) (TableTemplate, []RowRecord, error) {
	text := stripFences(raw)
	if text == "" {
		return TableTemplate{}, nil, &DecodeError{Purpose: PurposeInfer, Reason: "empty response"}
	}
	if !gjson.Valid(text) {
		return TableTemplate{}, nil, &DecodeError{Purpose: PurposeInfer, Reason: "response is not valid JSON"}
	}
	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return TableTemplate{}, nil, &DecodeError{Purpose: PurposeInfer, Reason: "response is not a JSON object"}
	}

	var cols []ColumnSpec
	doc.Get("columns").ForEach(func(_, c gjson.Result) bool {
		kind := KindTextual
		if c.Get("valueKind").String() == string(KindNumeric) {
			kind = KindNumeric
		}
		cols = append(cols, ColumnSpec{
			Key:      c.Get("key").String(),
			Label:    c.Get("label").String(),
			SubLabel: c.Get("subLabel").String(),
			Kind:     kind,
			Group:    c.Get("group").String(),
		})
		return true
	})
	if len(cols) == 0 {
		return TableTemplate{}, nil, &DecodeError{Purpose: PurposeInfer, Reason: "no columns in response"}
	}
	t := TableTemplate{
		Name:            doc.Get("name").String(),
		Description:     doc.Get("description").String(),
		DomainContext:   doc.Get("domainContext").String(),
		GenerationRules: doc.Get("generationRules").String(),
		Columns:         cols,
	}

	var rows []RowRecord
	doc.Get("rows").ForEach(func(_, r gjson.Result) bool {
		rows = append(rows, cellsToRow(t, r))
		return true
	})

	t.TargetRowCount = int(doc.Get("targetRowCount").Int())
	if t.TargetRowCount <= 0 {
		t.TargetRowCount = len(rows)
	}
	id, err := templateID(cols)
	if err != nil {
		return TableTemplate{}, nil, &DecodeError{Purpose: PurposeInfer, Reason: "fingerprint columns", Cause: err}
	}
	t.ID = id
	return t, rows, nil
}

// cellsToRow accepts {"cells":[{"key","value"}]} and, leniently, a plain object.
func cellsToRow(t TableTemplate, r gjson.Result) RowRecord {
	row := make(RowRecord, len(t.Columns))
	for _, c := range t.Columns {
		row[c.Key] = nil
	}
	set := func(key string, v gjson.Result) {
		c, ok := t.Column(key)
		if !ok {
			return
		}
		// Cells that do not fit the column kind stay nil.
		row[key], _ = coerceCell(kindType(c.Kind), v.Value())
	}
	if cells := r.Get("cells"); cells.IsArray() {
		cells.ForEach(func(_, cell gjson.Result) bool {
			set(cell.Get("key").String(), cell.Get("value"))
			return true
		})
		return row
	}
	r.ForEach(func(k, v gjson.Result) bool {
		set(k.String(), v)
		return true
	})
	return row
}

// templateID fingerprints the inferred columns so the same document shape
// maps to the same ID.
func templateID(cols []ColumnSpec) (string, error) {
	data, err := json.Marshal(cols)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "custom-" + hex.EncodeToString(sum[:])[:12], nil
}
