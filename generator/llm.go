package generator

import "context"

// Purpose tags a request so clients and logs can tell the flows apart.
type Purpose string

const (
	PurposeGenerate Purpose = "generate"
	PurposeInfer    Purpose = "infer"
	PurposeFix      Purpose = "fix"
)

// InlineData is a binary attachment sent alongside the user turn.
type InlineData struct {
	MIMEType string
	Data     []byte
}

// Request is everything a single oracle call carries. The response is
// always requested as one JSON document matching Schema.
type Request struct {
	Purpose     Purpose
	System      string
	User        string
	Inline      *InlineData
	Schema      *Schema
	Temperature float32
	// Batch is set for generation requests only.
	Batch *Batch
}

// Oracle abstracts the generative model so it can be swapped or mocked.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// LLMSettings is the base configuration for concrete oracles.
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}
