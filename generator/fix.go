package generator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Fix asks the oracle to bring rows back inside their bounds. The result
// always has len(rows) entries: if the answer cannot be decoded, or has the
// wrong length, the input rows are returned unchanged. Oracle failures are
// still returned as errors.
func (a *Agent) Fix(ctx context.Context, rows []RowRecord, t TableTemplate) ([]RowRecord, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	log := a.logger.With(zap.String("template", t.ID), zap.Int("rows", len(rows)))
	prompt, err := BuildFixPrompt(t, rows)
	if err != nil {
		return nil, err
	}
	schema := BuildRowSchema(t)
	req := Request{
		Purpose:     PurposeFix,
		System:      prompt.System,
		User:        prompt.User,
		Schema:      schema,
		Temperature: FixTemperature,
	}
	raw, err := WithRetry(ctx, a.policy(log), func(ctx context.Context) (string, error) {
		return a.oracle.Complete(ctx, req)
	})
	if err != nil {
		log.Error("fix failed", zap.Error(err))
		return nil, fmt.Errorf("fix rows: %w", err)
	}

	fixed, nulled, err := decodeRows(PurposeFix, raw, schema)
	switch {
	case err != nil:
		log.Warn("fix response unreadable, keeping original rows", zap.Error(err))
		return rows, nil
	case nulled > 0:
		// A fix must not blank cells the user asked to repair.
		log.Warn("fix response has mistyped cells, keeping original rows", zap.Int("cells", nulled))
		return rows, nil
	case len(fixed) != len(rows):
		log.Warn("fix returned wrong row count, keeping original rows",
			zap.Int("received", len(fixed)))
		return rows, nil
	}
	log.Info("rows fixed")
	return fixed, nil
}
