package domain

import (
	"time"
)

// RasterOptions configures a Rasterizer run.
type RasterOptions struct {
	OutDir string
	Format string // file extension without the dot, e.g. "png"
	Prefix string
	DPI    float64
	Pages  []int // 1-based; nil means all pages
}

// MimeTypeForFormat maps an image extension to its mime type.
func MimeTypeForFormat(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// PageImage represents a single rendered PDF page on disk
type PageImage struct {
	PageNumber int
	ImagePath  string
}

// InlineImage is an image carried inline in an inference request.
type InlineImage struct {
	MimeType string
	Base64   string
}

// InferenceRequest is a single instruction + image call.
type InferenceRequest struct {
	Instruction string
	Image       InlineImage
}

// Row is one extracted table row keyed by column name. Cell values are
// whatever JSON scalar the model produced; numbers are json.Number.
type Row map[string]any

// PageStatus is the outcome of extracting one page.
type PageStatus string

const (
	PageStatusOK              PageStatus = "ok"
	PageStatusReadFailed      PageStatus = "read_failed"
	PageStatusInferenceFailed PageStatus = "inference_failed"
	PageStatusParseFailed     PageStatus = "parse_failed"
)

// PageResult reports what happened to one page image.
type PageResult struct {
	PageNumber int        `json:"page"`
	Image      string     `json:"image"`
	Status     PageStatus `json:"status"`
	RowCount   int        `json:"row_count"`
	Error      string     `json:"error,omitempty"`
}

// Failed reports whether the page contributed nothing because of an error.
func (p PageResult) Failed() bool {
	return p.Status != PageStatusOK
}

// ProcessingStats contains metadata about the extraction execution
type ProcessingStats struct {
	TotalTime       time.Duration `json:"-"`
	TotalMillis     int64         `json:"total_ms"`
	PagesProcessed  int           `json:"pages_processed"`
	SuccessfulPages int           `json:"successful_pages"`
	FailedPages     int           `json:"failed_pages"`
	RowCount        int           `json:"row_count"`
}

// ExtractionResult is the aggregated output of one pipeline run.
type ExtractionResult struct {
	RunID    string          `json:"run_id"`
	Document string          `json:"document"`
	Rows     []Row           `json:"rows"`
	Pages    []PageResult    `json:"pages"`
	Stats    ProcessingStats `json:"stats"`
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart          EventType = "start"
	EventRasterized     EventType = "rasterized"
	EventPageProcessing EventType = "page_processing"
	EventPageComplete   EventType = "page_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType   `json:"type"`
	PageNumber int         `json:"page_number,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
