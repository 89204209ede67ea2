// Package extract turns a PDF into table rows: it rasterizes the document,
// asks the vision model for the rows on each page and concatenates them.
package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/llm"
	"github.com/spherical/table-extractor/internal/observability"
	"github.com/spherical/table-extractor/internal/pdf"
	"github.com/spherical/table-extractor/internal/store"
	"github.com/spherical/table-extractor/internal/workspace"
)

// RunRecorder persists finished runs.
type RunRecorder interface {
	Create(ctx context.Context, run *store.Run) error
}

// Options tunes the pipeline.
type Options struct {
	Concurrency int
	Format      string
	Prefix      string
	DPI         float64
	Instruction string
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		Concurrency: 4,
		Format:      "png",
		Prefix:      "page",
		DPI:         150,
		Instruction: llm.TableExtractionPrompt,
	}
}

// Service orchestrates the PDF extraction process
type Service struct {
	validator  *pdf.Validator
	workspaces *workspace.Manager
	rasterizer domain.Rasterizer
	inferencer domain.Inferencer
	runs       RunRecorder
	opts       Options
	logger     *observability.Logger
}

// NewService creates a new extraction service
func NewService(workspaces *workspace.Manager, rasterizer domain.Rasterizer, inferencer domain.Inferencer, opts Options, logger *observability.Logger) *Service {
	defaults := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.Format == "" {
		opts.Format = defaults.Format
	}
	if opts.Prefix == "" {
		opts.Prefix = defaults.Prefix
	}
	if opts.DPI <= 0 {
		opts.DPI = defaults.DPI
	}
	if opts.Instruction == "" {
		opts.Instruction = defaults.Instruction
	}
	if logger == nil {
		logger = observability.Nop()
	}

	return &Service{
		validator:  pdf.NewValidator(),
		workspaces: workspaces,
		rasterizer: rasterizer,
		inferencer: inferencer,
		opts:       opts,
		logger:     logger.WithOperation("extract"),
	}
}

// SetRunRecorder enables run history. A nil recorder disables it.
func (s *Service) SetRunRecorder(r RunRecorder) {
	s.runs = r
}

// Process handles the complete extraction workflow. Only document-level
// failures are returned; a page that cannot be read, inferred or parsed is
// reported in the result and contributes no rows.
func (s *Service) Process(ctx context.Context, pdfPath string, eventCh chan<- domain.StreamEvent) (*domain.ExtractionResult, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	logger := s.logger.WithRun(runID)

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   fmt.Sprintf("Starting extraction of %s", pdfPath),
		Timestamp: time.Now(),
	})

	if err := s.validator.ValidatePDFPath(pdfPath); err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	ws, err := s.workspaces.Acquire(ctx)
	if err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.Warn().Str("dir", ws.Dir).Err(err).Msg("Failed to release workspace")
		}
	}()

	logger.Info().Str("document", pdfPath).Str("workspace", ws.Dir).Msg("Rasterizing document")
	opts := domain.RasterOptions{
		OutDir: ws.Dir,
		Format: s.opts.Format,
		Prefix: s.opts.Prefix,
		DPI:    s.opts.DPI,
	}
	if err := s.rasterizer.Rasterize(ctx, pdfPath, opts); err != nil {
		var domainErr *domain.DomainError
		if !errors.As(err, &domainErr) {
			err = domain.ConversionError("Failed to rasterize document", err)
		}
		s.emitError(eventCh, err)
		return nil, err
	}

	images, err := pdf.ListPageImages(ws.Dir, s.opts.Format)
	if err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	logger.Info().Int("pages", len(images)).Msg("Rasterized document")
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventRasterized,
		Payload:   len(images),
		Timestamp: time.Now(),
	})

	pages, perPage, err := s.extractAll(ctx, images, eventCh, logger)
	if err != nil {
		err = domain.ExtractionError("Extraction interrupted", err)
		s.emitError(eventCh, err)
		return nil, err
	}

	rows := Aggregate(perPage)
	duration := time.Since(startTime)
	stats := domain.ProcessingStats{
		TotalTime:      duration,
		TotalMillis:    duration.Milliseconds(),
		PagesProcessed: len(pages),
		RowCount:       len(rows),
	}
	for _, p := range pages {
		if p.Failed() {
			stats.FailedPages++
		} else {
			stats.SuccessfulPages++
		}
	}

	result := &domain.ExtractionResult{
		RunID:    runID,
		Document: pdfPath,
		Rows:     rows,
		Pages:    pages,
		Stats:    stats,
	}

	s.recordRun(ctx, result, logger)

	logger.Info().
		Int("pages", stats.PagesProcessed).
		Int("failed_pages", stats.FailedPages).
		Int("rows", stats.RowCount).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("Extraction complete")

	s.emitEvent(eventCh, domain.StreamEvent{
		Type: domain.EventComplete,
		Payload: fmt.Sprintf("Extraction complete: %d/%d pages successful, %d rows in %v",
			stats.SuccessfulPages, stats.PagesProcessed, stats.RowCount, duration),
		Timestamp: time.Now(),
	})

	return result, nil
}

// ExtractAll runs every image through the model. Results are indexed like
// images regardless of completion order. The error is non-nil only when ctx
// ends before all pages are done.
func (s *Service) ExtractAll(ctx context.Context, images []domain.PageImage) ([]domain.PageResult, [][]domain.Row, error) {
	return s.extractAll(ctx, images, nil, s.logger)
}

func (s *Service) extractAll(ctx context.Context, images []domain.PageImage, eventCh chan<- domain.StreamEvent, logger *observability.Logger) ([]domain.PageResult, [][]domain.Row, error) {
	results := make([]domain.PageResult, len(images))
	rows := make([][]domain.Row, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i, image := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], rows[i] = s.extractPage(gctx, image, eventCh, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return results, rows, nil
}

// extractPage reads, infers and parses one page image.
func (s *Service) extractPage(ctx context.Context, image domain.PageImage, eventCh chan<- domain.StreamEvent, logger *observability.Logger) (domain.PageResult, []domain.Row) {
	result := domain.PageResult{
		PageNumber: image.PageNumber,
		Image:      filepath.Base(image.ImagePath),
	}

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:       domain.EventPageProcessing,
		PageNumber: image.PageNumber,
		Payload:    result.Image,
		Timestamp:  time.Now(),
	})

	data, err := os.ReadFile(image.ImagePath)
	if err != nil {
		return s.pageFailed(eventCh, logger, result, domain.PageStatusReadFailed, err), nil
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(image.ImagePath), "."))
	req := domain.InferenceRequest{
		Instruction: s.opts.Instruction,
		Image: domain.InlineImage{
			MimeType: domain.MimeTypeForFormat(format),
			Base64:   base64.StdEncoding.EncodeToString(data),
		},
	}

	reply, err := s.inferencer.Infer(ctx, req)
	if err != nil {
		return s.pageFailed(eventCh, logger, result, domain.PageStatusInferenceFailed, err), nil
	}
	logger.Debug().Int("page", image.PageNumber).Str("reply", truncate(reply, 512)).Msg("Model reply")

	pageRows, err := ParseRows(reply)
	if err != nil {
		return s.pageFailed(eventCh, logger, result, domain.PageStatusParseFailed, err), nil
	}

	result.Status = domain.PageStatusOK
	result.RowCount = len(pageRows)

	logger.Debug().Int("page", image.PageNumber).Int("rows", len(pageRows)).Msg("Page extracted")
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:       domain.EventPageComplete,
		PageNumber: image.PageNumber,
		Payload:    result,
		Timestamp:  time.Now(),
	})

	return result, pageRows
}

func (s *Service) pageFailed(eventCh chan<- domain.StreamEvent, logger *observability.Logger, result domain.PageResult, status domain.PageStatus, err error) domain.PageResult {
	result.Status = status
	result.Error = err.Error()

	logger.Warn().
		Int("page", result.PageNumber).
		Str("image", result.Image).
		Str("status", string(status)).
		Err(err).
		Msg("Skipping page")

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:       domain.EventError,
		PageNumber: result.PageNumber,
		Payload:    result,
		Timestamp:  time.Now(),
	})
	return result
}

// recordRun stores the run when history is enabled. Failures are logged only.
func (s *Service) recordRun(ctx context.Context, result *domain.ExtractionResult, logger *observability.Logger) {
	if s.runs == nil {
		return
	}

	model := ""
	if named, ok := s.inferencer.(llm.ModelNamer); ok {
		model = named.Model()
	}

	run, err := store.RunFromResult(result, model)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to build run record")
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Create(saveCtx, run); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run")
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// emitEvent safely emits an event to the channel
func (s *Service) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			s.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

// emitError emits an error event
func (s *Service) emitError(eventCh chan<- domain.StreamEvent, err error) {
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		Payload:   err.Error(),
		Timestamp: time.Now(),
	})
}
