package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/table-extractor/internal/domain"
)

// Validator provides input validation for PDF files
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePDFPath checks that path points to a readable PDF file. A missing
// file yields a validation error wrapping domain.ErrDocumentNotFound.
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), domain.ErrDocumentNotFound)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return nil
}

// ValidateOptions checks rasterizer options.
func (v *Validator) ValidateOptions(opts domain.RasterOptions) error {
	if opts.OutDir == "" {
		return domain.ValidationError("output directory is required", nil)
	}
	switch opts.Format {
	case "png", "jpg", "jpeg":
	default:
		return domain.ValidationError(fmt.Sprintf("unsupported image format %q", opts.Format), nil)
	}
	if opts.Prefix == "" {
		return domain.ValidationError("file prefix is required", nil)
	}
	if opts.DPI <= 0 || opts.DPI > 600 {
		return domain.ValidationError(fmt.Sprintf("dpi must be between 1 and 600, got %v", opts.DPI), nil)
	}
	return nil
}
