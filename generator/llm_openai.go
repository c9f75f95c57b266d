package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAILLM implements Oracle using the official openai-go SDK (chat
// completions with json_schema output). DeepSeek and other OpenAI-compatible
// gateways work through BaseURL.
type OpenAILLM struct {
	Provider string
	Model    string
	Opts     []option.RequestOption
}

func NewOpenAILLMFromConfig(cfg *LLMSettings) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &OpenAILLM{Provider: provider, Model: cfg.Model, Opts: opts}, nil
}

func (o *OpenAILLM) Complete(ctx context.Context, req Request) (string, error) {
	client := openai.NewClient(o.Opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	if req.Inline != nil {
		msgs = append(msgs, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			inlinePart(req.Inline),
			openai.TextContentPart(req.User),
		}))
	} else {
		msgs = append(msgs, openai.UserMessage(req.User))
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.Model),
		Messages:    msgs,
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "logbook_" + string(req.Purpose),
					Schema: objectRoot(req.Schema),
					Strict: openai.Bool(true),
				},
			},
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fromOpenAIError(o.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// objectRoot wraps array schemas in {"rows": ...}; strict mode only accepts
// object roots. DecodeRows unwraps the field again.
func objectRoot(s *Schema) map[string]any {
	if s.Type == TypeObject {
		return s.JSONSchema()
	}
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"rows": s.JSONSchema()},
		"required":             []string{"rows"},
		"additionalProperties": false,
	}
}

func inlinePart(in *InlineData) openai.ChatCompletionContentPartUnionParam {
	dataURL := "data:" + in.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(in.Data)
	if strings.HasPrefix(in.MIMEType, "image/") {
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL})
	}
	return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
		FileData: openai.String(dataURL),
		Filename: openai.String("upload" + extensionFor(in.MIMEType)),
	})
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return ".pdf"
	case "text/csv":
		return ".csv"
	default:
		return ""
	}
}

func fromOpenAIError(provider string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	oe := &OracleError{
		Provider:   provider,
		StatusCode: apiErr.StatusCode,
		Status:     apiErr.Code,
		Message:    apiErr.Message,
		Cause:      err,
	}
	if apiErr.Response != nil {
		if secs, perr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); perr == nil && secs > 0 {
			oe.RetryDelay = time.Duration(secs) * time.Second
		}
	}
	return oe
}
