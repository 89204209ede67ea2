// Package llm talks to hosted vision-language models.
package llm

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/observability"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 2048

// Options configures a provider client.
type Options struct {
	APIKey           string
	Model            string
	BaseURL          string
	Timeout          time.Duration // per call; zero means no limit
	Retry            RetryConfig
	StructuredOutput bool
	HTTPClient       *http.Client
	Logger           *observability.Logger
}

func (o *Options) applyDefaults(defaultModel, defaultBaseURL string) {
	if o.Model == "" {
		o.Model = defaultModel
	}
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = observability.Nop()
	}
}

// ModelNamer is implemented by clients that can report their model id.
type ModelNamer interface {
	Model() string
}

// statusError turns a non-200 response into an API error.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(body)), nil)
}
