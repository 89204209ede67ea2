package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spherical/table-extractor/internal/domain"
)

// PopplerRasterizer shells out to poppler's pdftoppm.
type PopplerRasterizer struct {
	binary    string
	validator *Validator
}

// NewPopplerRasterizer creates a rasterizer using the given pdftoppm binary.
func NewPopplerRasterizer(binary string) *PopplerRasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &PopplerRasterizer{binary: binary, validator: NewValidator()}
}

// Rasterize runs pdftoppm once for the whole document, or once per page when
// a subset is requested. pdftoppm names files <prefix>-<n>.<ext> and pads n
// to the width of the page count.
func (r *PopplerRasterizer) Rasterize(ctx context.Context, pdfPath string, opts domain.RasterOptions) error {
	if err := r.validator.ValidatePDFPath(pdfPath); err != nil {
		return err
	}
	if err := r.validator.ValidateOptions(opts); err != nil {
		return err
	}

	root := filepath.Join(opts.OutDir, opts.Prefix)

	if len(opts.Pages) == 0 {
		return r.run(ctx, r.args(pdfPath, root, opts, 0))
	}
	for _, page := range opts.Pages {
		if err := r.run(ctx, r.args(pdfPath, root, opts, page)); err != nil {
			return err
		}
	}
	return nil
}

func (r *PopplerRasterizer) args(pdfPath, root string, opts domain.RasterOptions, page int) []string {
	args := []string{formatFlag(opts.Format), "-r", strconv.FormatFloat(opts.DPI, 'f', -1, 64)}
	if page > 0 {
		p := strconv.Itoa(page)
		args = append(args, "-f", p, "-l", p)
	}
	return append(args, pdfPath, root)
}

func (r *PopplerRasterizer) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "pdftoppm failed"
		}
		return domain.ConversionError(fmt.Sprintf("pdftoppm: %s", msg), err)
	}
	return nil
}

func formatFlag(format string) string {
	if format == "jpg" || format == "jpeg" {
		return "-jpeg"
	}
	return "-png"
}
