package pdf

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/pdf/pdftest"
)

func TestPopplerRasterizer_Args(t *testing.T) {
	r := NewPopplerRasterizer("")
	opts := domain.RasterOptions{OutDir: "/tmp/ws", Format: "png", Prefix: "page", DPI: 150}

	assert.Equal(t,
		[]string{"-png", "-r", "150", "doc.pdf", "/tmp/ws/page"},
		r.args("doc.pdf", "/tmp/ws/page", opts, 0))

	opts.Format = "jpg"
	assert.Equal(t,
		[]string{"-jpeg", "-r", "150", "-f", "3", "-l", "3", "doc.pdf", "/tmp/ws/page"},
		r.args("doc.pdf", "/tmp/ws/page", opts, 3))
}

func TestPopplerRasterizer_ToolFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	tmp := t.TempDir()
	pdfPath := filepath.Join(tmp, "doc.pdf")
	pdftest.WriteTestPDF(t, pdfPath, 1)

	script := filepath.Join(tmp, "fake-pdftoppm")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'Syntax Error: broken file' >&2\nexit 1\n"), 0o755))

	err := NewPopplerRasterizer(script).Rasterize(context.Background(), pdfPath,
		domain.RasterOptions{OutDir: tmp, Format: "png", Prefix: "page", DPI: 72})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversion))
	assert.Contains(t, err.Error(), "Syntax Error")
}

func TestPopplerRasterizer_RealTool(t *testing.T) {
	binary, err := exec.LookPath("pdftoppm")
	if err != nil {
		t.Skip("pdftoppm not installed")
	}

	tmp := t.TempDir()
	pdfPath := filepath.Join(tmp, "doc.pdf")
	pdftest.WriteTestPDF(t, pdfPath, 2)
	out := filepath.Join(tmp, "images")
	require.NoError(t, os.Mkdir(out, 0o755))

	err = NewPopplerRasterizer(binary).Rasterize(context.Background(), pdfPath,
		domain.RasterOptions{OutDir: out, Format: "png", Prefix: "page", DPI: 72})
	require.NoError(t, err)

	images, err := ListPageImages(out, "png")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, 1, images[0].PageNumber)
	assert.Equal(t, 2, images[1].PageNumber)
}
