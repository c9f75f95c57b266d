package generator

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts is the number of retries after the first call.
	DefaultMaxAttempts = 5
	// DefaultBaseDelay is the first backoff delay; it doubles per retry.
	DefaultBaseDelay = 3 * time.Second
	// DefaultMaxDelay caps every backoff and server-suggested delay.
	DefaultMaxDelay = 120 * time.Second
	// DefaultServerDelayBuffer is added to a server-suggested delay.
	DefaultServerDelayBuffer = 2 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds how a failing oracle call is repeated.
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the first call.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// ServerDelayBuffer is added on top of a server-suggested delay.
	ServerDelayBuffer time.Duration

	Sleep SleepFunc
	// Jitter returns a value in [0,1). Defaults to math/rand.
	Jitter  func() float64
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns the policy tuned for the oracle's rate limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		ServerDelayBuffer: DefaultServerDelayBuffer,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.ServerDelayBuffer < 0 {
		p.ServerDelayBuffer = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		p.Jitter = rand.Float64
	}
	return p
}

// OutcomeKind is the verdict on one attempt.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeRetriable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRetriable:
		return "retriable"
	default:
		return "fatal"
	}
}

// Outcome is the result of one attempt: Ok(value), Retriable(err) or Fatal(err).
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Err   error
}

// Evaluate classifies the return values of one attempt.
func Evaluate[T any](v T, err error) Outcome[T] {
	switch {
	case err == nil:
		return Outcome[T]{Kind: OutcomeOK, Value: v}
	case IsRetriable(err):
		return Outcome[T]{Kind: OutcomeRetriable, Err: err}
	default:
		return Outcome[T]{Kind: OutcomeFatal, Err: err}
	}
}

// IsRetriable reports whether err is a transient overload or rate-limit failure.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var oe *OracleError
	if errors.As(err, &oe) {
		switch oe.StatusCode {
		case http.StatusServiceUnavailable, http.StatusTooManyRequests:
			return true
		}
		switch strings.ToUpper(oe.Status) {
		case "UNAVAILABLE", "RESOURCE_EXHAUSTED":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overload") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429")
}

var retryInPattern = regexp.MustCompile(`(?i)retry in\s+([0-9]+(?:\.[0-9]+)?)\s*s`)

// serverDelay extracts a server-suggested wait from err, structured field first.
func serverDelay(err error) (time.Duration, bool) {
	var oe *OracleError
	if errors.As(err, &oe) && oe.RetryDelay > 0 {
		return oe.RetryDelay, true
	}
	m := retryInPattern.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return 0, false
	}
	secs, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

type retryState struct {
	attemptsRemaining int
	baseDelay         time.Duration
	maxDelay          time.Duration
}

func (s *retryState) nextDelay(p RetryPolicy, err error) time.Duration {
	var d time.Duration
	if hint, ok := serverDelay(err); ok {
		d = hint + p.ServerDelayBuffer
	} else {
		d = time.Duration(float64(s.baseDelay) * (1 + 0.5*p.Jitter()))
	}
	if d > s.maxDelay {
		d = s.maxDelay
	}
	return d
}

func (s *retryState) advance() {
	s.attemptsRemaining--
	s.baseDelay *= 2
	if s.baseDelay > s.maxDelay {
		s.baseDelay = s.maxDelay
	}
}

// WithRetry runs op until it succeeds, fails permanently, or the retry
// budget is spent. The last error is returned unchanged. Each call owns its
// own budget; nothing is shared between invocations.
func WithRetry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	state := retryState{
		attemptsRemaining: p.MaxAttempts,
		baseDelay:         min(p.BaseDelay, p.MaxDelay),
		maxDelay:          p.MaxDelay,
	}
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		out := Evaluate(v, err)
		switch out.Kind {
		case OutcomeOK:
			return out.Value, nil
		case OutcomeFatal:
			var zero T
			return zero, out.Err
		}
		if state.attemptsRemaining <= 0 {
			var zero T
			return zero, out.Err
		}
		delay := state.nextDelay(p, out.Err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, out.Err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
		state.advance()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
