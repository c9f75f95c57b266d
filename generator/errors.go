package generator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrMissingCredential is a configuration error: no API key was supplied.
var ErrMissingCredential = errors.New("llm api key missing; set llm.api_key or the provider's API key env var")

// OracleError is a failure reported by the oracle service, normalised
// across providers.
type OracleError struct {
	Provider   string
	StatusCode int
	// Status is the provider's symbolic code, e.g. RESOURCE_EXHAUSTED.
	Status  string
	Message string
	// RetryDelay is the server-suggested wait, zero when absent.
	RetryDelay time.Duration
	Cause      error
}

func (e *OracleError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "oracle error %d", e.StatusCode)
	if e.Status != "" {
		b.WriteString(" ")
		b.WriteString(e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *OracleError) Unwrap() error { return e.Cause }

// DecodeError means the oracle answered but the text could not be turned
// into rows matching the schema.
type DecodeError struct {
	Purpose Purpose
	Reason  string
	Cause   error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s response: %s", e.Purpose, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// ErrorCategory groups failures for user-facing messaging.
type ErrorCategory string

const (
	CategoryQuota    ErrorCategory = "quota"
	CategoryAuth     ErrorCategory = "auth"
	CategoryOverload ErrorCategory = "overload"
	CategoryConfig   ErrorCategory = "config"
	CategoryDecode   ErrorCategory = "decode"
	CategoryGeneric  ErrorCategory = "generic"
)

// Describe classifies err into a category and a short message for end users.
func Describe(err error) (ErrorCategory, string) {
	if err == nil {
		return "", ""
	}
	if errors.Is(err, ErrMissingCredential) {
		return CategoryConfig, "No API key is configured for the data generator."
	}
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return CategoryDecode, "The model returned data that could not be read. Try again."
	}
	var oe *OracleError
	if errors.As(err, &oe) {
		switch {
		case oe.StatusCode == http.StatusTooManyRequests || oe.Status == "RESOURCE_EXHAUSTED" ||
			containsFold(oe.Message, "quota"):
			return CategoryQuota, "The model quota is exhausted. Wait a minute and try again."
		case oe.StatusCode == http.StatusUnauthorized || oe.StatusCode == http.StatusForbidden ||
			oe.Status == "UNAUTHENTICATED" || oe.Status == "PERMISSION_DENIED" ||
			containsFold(oe.Message, "api key"):
			return CategoryAuth, "The API key was rejected by the model service."
		case oe.StatusCode == http.StatusServiceUnavailable || oe.Status == "UNAVAILABLE" ||
			containsFold(oe.Message, "overload"):
			return CategoryOverload, "The model service is overloaded. Try again shortly."
		}
	}
	return CategoryGeneric, err.Error()
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
