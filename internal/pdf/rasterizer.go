package pdf

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/table-extractor/internal/domain"
)

// jpegQuality is used when the configured format is jpg.
const jpegQuality = 85

// FitzRasterizer renders pages with MuPDF through go-fitz.
type FitzRasterizer struct {
	validator *Validator
}

// NewFitzRasterizer creates a new go-fitz backed rasterizer.
func NewFitzRasterizer() *FitzRasterizer {
	return &FitzRasterizer{validator: NewValidator()}
}

// Rasterize writes one image per page into opts.OutDir as
// <prefix>-0001.<format>, <prefix>-0002.<format>, ...
func (r *FitzRasterizer) Rasterize(ctx context.Context, pdfPath string, opts domain.RasterOptions) error {
	if err := r.validator.ValidatePDFPath(pdfPath); err != nil {
		return err
	}
	if err := r.validator.ValidateOptions(opts); err != nil {
		return err
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return domain.ConversionError("Failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return domain.ConversionError("PDF has no pages", nil)
	}

	pages, err := selectPages(opts.Pages, pageCount)
	if err != nil {
		return err
	}

	for _, pageNum := range pages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum-1, opts.DPI)
		if err != nil {
			return domain.ConversionError(fmt.Sprintf("Failed to render page %d", pageNum), err)
		}

		outputPath := filepath.Join(opts.OutDir, PageFileName(opts.Prefix, pageNum, opts.Format))
		if err := writeImage(outputPath, img, opts.Format); err != nil {
			return err
		}
	}

	return nil
}

// PageFileName returns the zero padded image name for a 1-based page.
func PageFileName(prefix string, pageNum int, format string) string {
	return fmt.Sprintf("%s-%04d.%s", prefix, pageNum, format)
}

func writeImage(path string, img image.Image, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return domain.IOError(fmt.Sprintf("Failed to create %s", filepath.Base(path)), err)
	}

	switch format {
	case "jpg", "jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	default:
		err = png.Encode(f, img)
	}
	closeErr := f.Close()

	if err != nil {
		return domain.ConversionError(fmt.Sprintf("Failed to encode %s", filepath.Base(path)), err)
	}
	if closeErr != nil {
		return domain.IOError(fmt.Sprintf("Failed to write %s", filepath.Base(path)), closeErr)
	}
	return nil
}

// selectPages resolves the requested subset against the document length.
func selectPages(requested []int, pageCount int) ([]int, error) {
	if len(requested) == 0 {
		pages := make([]int, pageCount)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages, nil
	}

	for _, p := range requested {
		if p < 1 || p > pageCount {
			return nil, domain.ValidationError(fmt.Sprintf("page %d out of range 1-%d", p, pageCount), nil)
		}
	}
	return requested, nil
}
