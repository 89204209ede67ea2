package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spherical/table-extractor/internal/domain"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com"
	defaultGeminiModel = "gemini-2.5-flash"
)

// GeminiClient calls the Gemini generateContent endpoint.
type GeminiClient struct {
	opts Options
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenConfig struct {
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(opts Options) *GeminiClient {
	opts.applyDefaults(defaultGeminiModel, geminiBaseURL)
	return &GeminiClient{opts: opts}
}

// Model returns the configured model id.
func (c *GeminiClient) Model() string {
	return c.opts.Model
}

// Infer sends the instruction and image and returns the joined text parts of
// the first candidate.
func (c *GeminiClient) Infer(ctx context.Context, req domain.InferenceRequest) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(c.opts.BaseURL, "/"), url.PathEscape(c.opts.Model))

	resp, err := doWithRetry(ctx, c.opts.Retry, c.opts.Logger, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.opts.APIKey)
		return c.opts.HTTPClient.Do(httpReq)
	})
	if err != nil {
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.APIError("Failed to parse API response", err)
	}

	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", domain.APIError(fmt.Sprintf("prompt blocked: %s", parsed.PromptFeedback.BlockReason), nil)
	}
	if len(parsed.Candidates) == 0 {
		return "", domain.APIError("No candidates in API response", nil)
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func (c *GeminiClient) buildRequest(req domain.InferenceRequest) *geminiRequest {
	temperature := 0.0
	gen := &geminiGenConfig{Temperature: &temperature}
	if c.opts.StructuredOutput {
		gen.ResponseMimeType = "application/json"
	}

	return &geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: req.Instruction},
				{InlineData: &geminiInlineData{
					MimeType: req.Image.MimeType,
					Data:     req.Image.Base64,
				}},
			},
		}},
		GenerationConfig: gen,
	}
}
