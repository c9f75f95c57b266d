package generator

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiOracle implements Oracle with the Google GenAI SDK and native
// structured output (responseSchema).
type GeminiOracle struct {
	client *genai.Client
	model  string
}

func NewGeminiOracle(ctx context.Context, cfg *LLMSettings) (*GeminiOracle, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &GeminiOracle{client: client, model: model}, nil
}

func (g *GeminiOracle) Complete(ctx context.Context, req Request) (string, error) {
	var parts []*genai.Part
	if req.Inline != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Inline.Data, req.Inline.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.User))

	conf := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(req.Schema),
	}
	if req.System != "" {
		conf.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, conf)
	if err != nil {
		return "", fromGenaiError(err)
	}
	return resp.Text(), nil
}

// fromGenaiError keeps the status, code and RetryInfo delay of API errors.
func fromGenaiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return geminiOracleError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return geminiOracleError(*apiErrPtr, err)
	}
	return err
}

func geminiOracleError(apiErr genai.APIError, cause error) *OracleError {
	return &OracleError{
		Provider:   "gemini",
		StatusCode: apiErr.Code,
		Status:     apiErr.Status,
		Message:    apiErr.Message,
		RetryDelay: retryInfoDelay(apiErr.Details),
		Cause:      cause,
	}
}

// retryInfoDelay reads google.rpc.RetryInfo.retryDelay ("37s") from error details.
func retryInfoDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "google.rpc.RetryInfo") {
			continue
		}
		s, _ := d["retryDelay"].(string)
		if dur, err := time.ParseDuration(s); err == nil && dur > 0 {
			return dur
		}
	}
	return 0
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:             genaiType(s.Type),
		Description:      s.Description,
		PropertyOrdering: s.Order,
	}
	if s.Nullable {
		out.Nullable = genai.Ptr(true)
	}
	if len(s.Enum) > 0 {
		out.Enum = s.Enum
		out.Format = "enum"
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, p := range s.Properties {
			out.Properties[k] = toGenaiSchema(p)
		}
		out.Required = s.Required
	}
	return out
}

func genaiType(t SchemaType) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeNumber:
		return genai.TypeNumber
	case TypeInteger:
		return genai.TypeInteger
	default:
		return genai.TypeString
	}
}
