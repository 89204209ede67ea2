package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/spherical/table-extractor/internal/domain"
)

const (
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "google/gemini-2.5-flash"
)

// OpenRouterClient handles communication with the OpenRouter chat API
type OpenRouterClient struct {
	opts Options
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message of a choice
type ChoiceMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewOpenRouterClient creates a new OpenRouter client
func NewOpenRouterClient(opts Options) *OpenRouterClient {
	opts.applyDefaults(defaultOpenRouterModel, openRouterBaseURL)
	return &OpenRouterClient{opts: opts}
}

// Model returns the configured model id.
func (c *OpenRouterClient) Model() string {
	return c.opts.Model
}

// Infer sends one non-streaming chat completion with the image attached as a
// data URI.
func (c *OpenRouterClient) Infer(ctx context.Context, req domain.InferenceRequest) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + "/chat/completions"

	resp, err := doWithRetry(ctx, c.opts.Retry, c.opts.Logger, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		httpReq.Header.Set("HTTP-Referer", "https://github.com/spherical/table-extractor")
		httpReq.Header.Set("X-Title", "PDF Table Extractor")
		return c.opts.HTTPClient.Do(httpReq)
	})
	if err != nil {
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var apiResp Response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", domain.APIError("Failed to parse API response", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", domain.APIError("No choices in API response", nil)
	}

	return apiResp.Choices[0].Message.Content, nil
}

// buildRequest constructs the API request with the image
func (c *OpenRouterClient) buildRequest(req domain.InferenceRequest) *Request {
	imageURL := "data:" + req.Image.MimeType + ";base64," + req.Image.Base64

	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{
				Type: "text",
				Text: req.Instruction,
			},
			{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: imageURL},
			},
		},
	}

	return &Request{
		Model:    c.opts.Model,
		Messages: []Message{msg},
		Stream:   false,
	}
}
