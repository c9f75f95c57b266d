package generator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"missing key", fmt.Errorf("build oracle: %w", ErrMissingCredential), CategoryConfig},
		{"decode", &DecodeError{Purpose: PurposeGenerate, Reason: "bad"}, CategoryDecode},
		{"rate limit", &OracleError{StatusCode: 429}, CategoryQuota},
		{"quota message", &OracleError{StatusCode: 400, Message: "Quota exceeded for metric"}, CategoryQuota},
		{"exhausted", &OracleError{Status: "RESOURCE_EXHAUSTED"}, CategoryQuota},
		{"unauthorized", &OracleError{StatusCode: 401}, CategoryAuth},
		{"bad key message", &OracleError{StatusCode: 400, Message: "API key not valid. Please pass a valid API key."}, CategoryAuth},
		{"overloaded", fmt.Errorf("batch 1 of 2: %w", &OracleError{StatusCode: 503}), CategoryOverload},
		{"other", errors.New("disk full"), CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := Describe(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, msg)
		})
	}
	cat, msg := Describe(nil)
	assert.Empty(t, cat)
	assert.Empty(t, msg)
}

func TestOracleErrorMessage(t *testing.T) {
	err := &OracleError{Provider: "gemini", StatusCode: 503, Status: "UNAVAILABLE", Message: "overloaded"}
	assert.Equal(t, "gemini: oracle error 503 UNAVAILABLE: overloaded", err.Error())

	cause := errors.New("wire")
	assert.ErrorIs(t, &OracleError{Cause: cause}, cause)
	assert.ErrorIs(t, &DecodeError{Cause: cause}, cause)
}
