package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options tunes an Agent. Zero values fall back to defaults.
type Options struct {
	BatchSize  int
	BatchPause time.Duration
	Retry      RetryPolicy
	Library    *Library
	Logger     *zap.Logger
	// Sleep paces batches; it defaults to the retry policy's sleeper.
	Sleep SleepFunc
}

// Agent fills logbooks by driving the oracle. It keeps no per-call state,
// so one Agent can serve many independent operations.
type Agent struct {
	oracle     Oracle
	batchSize  int
	batchPause time.Duration
	retry      RetryPolicy
	library    Library
	logger     *zap.Logger
	sleep      SleepFunc
}

// NewAgent builds an Agent around oracle, filling unset options with defaults.
func NewAgent(oracle Oracle, opts Options) (*Agent, error) {
	if oracle == nil {
		return nil, errors.New("oracle client is required")
	}
	a := &Agent{
		oracle:     oracle,
		batchSize:  opts.BatchSize,
		batchPause: opts.BatchPause,
		retry:      opts.Retry,
		logger:     opts.Logger,
		sleep:      opts.Sleep,
	}
	if a.batchSize <= 0 {
		a.batchSize = DefaultBatchSize
	}
	if a.batchPause < 0 {
		a.batchPause = 0
	} else if a.batchPause == 0 {
		a.batchPause = DefaultBatchPause
	}
	if a.retry.MaxAttempts == 0 && a.retry.BaseDelay == 0 && a.retry.MaxDelay == 0 {
		a.retry = DefaultRetryPolicy()
	}
	if opts.Library != nil {
		a.library = *opts.Library
	} else {
		a.library = DefaultLibrary()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.sleep == nil {
		a.sleep = a.retry.Sleep
	}
	if a.sleep == nil {
		a.sleep = sleepContext
	}
	return a, nil
}

// Generate produces template.TargetRowCount rows in batches. Rows come back
// in offset order. Any failure discards everything generated so far.
func (a *Agent) Generate(ctx context.Context, t TableTemplate, cfg SimulationConfig, progress ProgressFunc) ([]RowRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("template %q has no columns", t.ID)
	}
	schema := BuildRowSchema(t)
	plan := PlanBatches(t.TargetRowCount, a.batchSize)
	log := a.logger.With(zap.String("template", t.ID), zap.String("mode", string(cfg.Mode)),
		zap.Int("rows", t.TargetRowCount), zap.Int("batches", len(plan)))
	log.Info("generation started")

	start := time.Now()
	var rows []RowRecord
	for _, b := range plan {
		if b.Index > 0 && a.batchPause > 0 {
			if err := a.sleep(ctx, a.batchPause); err != nil {
				return nil, err
			}
		}
		if progress != nil {
			progress(fmt.Sprintf("Generating batch %d of %d...", b.Index+1, b.Count))
		}
		log.Debug("batch requested", zap.Int("batch", b.Index+1), zap.Int("size", b.Size), zap.Int("offset", b.StartOffset))

		prompt := BuildGenerationPrompt(t, cfg, b, a.library)
		batch := b
		req := Request{
			Purpose:     PurposeGenerate,
			System:      prompt.System,
			User:        prompt.User,
			Schema:      schema,
			Temperature: Temperature(cfg.Mode),
			Batch:       &batch,
		}
		raw, err := WithRetry(ctx, a.policy(log), func(ctx context.Context) (string, error) {
			return a.oracle.Complete(ctx, req)
		})
		if err != nil {
			log.Error("batch failed", zap.Int("batch", b.Index+1), zap.Error(err))
			return nil, fmt.Errorf("batch %d of %d: %w", b.Index+1, b.Count, err)
		}
		got, nulled, err := decodeRows(PurposeGenerate, raw, schema)
		if err != nil {
			log.Error("batch decode failed", zap.Int("batch", b.Index+1), zap.Error(err))
			return nil, fmt.Errorf("batch %d of %d: %w", b.Index+1, b.Count, err)
		}
		if nulled > 0 {
			log.Warn("batch cells nulled", zap.Int("batch", b.Index+1), zap.Int("cells", nulled))
		}
		if len(got) != b.Size {
			// Row counts are the oracle's responsibility; keep whatever came back.
			log.Warn("batch row count differs", zap.Int("batch", b.Index+1),
				zap.Int("requested", b.Size), zap.Int("received", len(got)))
		}
		rows = append(rows, got...)
	}
	log.Info("generation finished", zap.Int("received", len(rows)), zap.Duration("elapsed", time.Since(start)))
	return rows, nil
}

// policy returns the agent's retry policy with retry logging attached.
func (a *Agent) policy(log *zap.Logger) RetryPolicy {
	p := a.retry
	userHook := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		var oe *OracleError
		fields := []zap.Field{zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err)}
		if errors.As(err, &oe) {
			fields = append(fields, zap.Int("status_code", oe.StatusCode), zap.String("status", oe.Status))
		}
		log.Warn("oracle call failed, retrying", fields...)
		if userHook != nil {
			userHook(attempt, delay, err)
		}
	}
	return p
}
