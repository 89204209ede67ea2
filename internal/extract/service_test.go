package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/store"
	"github.com/spherical/table-extractor/internal/workspace"
)

// fakeRasterizer writes one file per page whose content is "page-<n>".
type fakeRasterizer struct {
	pages    int
	nameFunc func(prefix string, n int, format string) string
	err      error
	calls    int32
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, pdfPath string, opts domain.RasterOptions) error {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return f.err
	}
	name := f.nameFunc
	if name == nil {
		name = func(prefix string, n int, format string) string {
			return fmt.Sprintf("%s-%04d.%s", prefix, n, format)
		}
	}
	for n := 1; n <= f.pages; n++ {
		path := filepath.Join(opts.OutDir, name(opts.Prefix, n, opts.Format))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("page-%d", n)), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// fakeInferencer answers by page content and tracks concurrency.
type fakeInferencer struct {
	replies map[string]string
	errs    map[string]error
	delay   func(page string) time.Duration

	mu        sync.Mutex
	calls     []string
	inFlight  int
	maxFlight int
}

func (f *fakeInferencer) Infer(ctx context.Context, req domain.InferenceRequest) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(req.Image.Base64)
	if err != nil {
		return "", err
	}
	page := string(raw)

	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(page)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err := f.errs[page]; err != nil {
		return "", err
	}
	if reply, ok := f.replies[page]; ok {
		return reply, nil
	}
	return "[]", nil
}

func (f *fakeInferencer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	runs []*store.Run
	err  error
}

func (f *fakeRecorder) Create(_ context.Context, run *store.Run) error {
	f.runs = append(f.runs, run)
	return f.err
}

func writeDocument(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_pdf.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644))
	return path
}

func newTestService(t *testing.T, r domain.Rasterizer, inf domain.Inferencer, concurrency int) (*Service, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "images")
	ws := workspace.NewManager(root, workspace.ModeIsolated, false)
	svc := NewService(ws, r, inf, Options{Concurrency: concurrency}, nil)
	return svc, root
}

func TestProcess_AggregatesInPageOrder(t *testing.T) {
	inf := &fakeInferencer{
		replies: map[string]string{
			"page-1": `[{"page":"1","row":"1"},{"page":"1","row":"2"}]`,
			"page-2": `[{"page":"2","row":"1"}]`,
			"page-3": `[{"page":"3","row":"1"},{"page":"3","row":"2"},{"page":"3","row":"3"}]`,
		},
		// Earlier pages finish last.
		delay: func(page string) time.Duration {
			switch page {
			case "page-1":
				return 60 * time.Millisecond
			case "page-2":
				return 30 * time.Millisecond
			default:
				return 0
			}
		},
	}
	svc, _ := newTestService(t, &fakeRasterizer{pages: 3}, inf, 4)

	result, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)

	require.Len(t, result.Rows, 6)
	var got []string
	for _, row := range result.Rows {
		got = append(got, fmt.Sprintf("%v.%v", row["page"], row["row"]))
	}
	assert.Equal(t, []string{"1.1", "1.2", "2.1", "3.1", "3.2", "3.3"}, got)

	require.Len(t, result.Pages, 3)
	for i, p := range result.Pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, domain.PageStatusOK, p.Status)
	}
	assert.Equal(t, 3, result.Stats.PagesProcessed)
	assert.Equal(t, 3, result.Stats.SuccessfulPages)
	assert.Equal(t, 6, result.Stats.RowCount)
	assert.NotEmpty(t, result.RunID)
}

func TestProcess_FailedPagesAreSkipped(t *testing.T) {
	inf := &fakeInferencer{
		replies: map[string]string{
			"page-1": `[{"a":"1"}]`,
			"page-2": "Sorry, I could not find a table.",
			"page-4": `[{"a":"4"}, "oops"]`,
			"page-5": `[{"a":"5"}]`,
		},
		errs: map[string]error{
			"page-3": errors.New("model unavailable"),
		},
	}
	svc, _ := newTestService(t, &fakeRasterizer{pages: 5}, inf, 2)

	result, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)

	assert.Equal(t, []domain.Row{{"a": "1"}, {"a": "5"}}, result.Rows)

	statuses := make([]domain.PageStatus, 0, len(result.Pages))
	for _, p := range result.Pages {
		statuses = append(statuses, p.Status)
	}
	assert.Equal(t, []domain.PageStatus{
		domain.PageStatusOK,
		domain.PageStatusParseFailed,
		domain.PageStatusInferenceFailed,
		domain.PageStatusParseFailed,
		domain.PageStatusOK,
	}, statuses)
	assert.Contains(t, result.Pages[2].Error, "model unavailable")
	assert.Equal(t, 3, result.Stats.FailedPages)
	assert.Equal(t, 2, result.Stats.SuccessfulPages)
}

func TestProcess_AllPagesFailYieldsEmptyRows(t *testing.T) {
	inf := &fakeInferencer{errs: map[string]error{
		"page-1": errors.New("down"),
		"page-2": errors.New("down"),
	}}
	svc, _ := newTestService(t, &fakeRasterizer{pages: 2}, inf, 1)

	result, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Rows)
	assert.Empty(t, result.Rows)
	assert.Equal(t, 2, result.Stats.FailedPages)
}

func TestProcess_MissingDocument(t *testing.T) {
	raster := &fakeRasterizer{pages: 1}
	inf := &fakeInferencer{}
	svc, root := newTestService(t, raster, inf, 1)

	_, err := svc.Process(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.Equal(t, int32(0), atomic.LoadInt32(&raster.calls))
	assert.Equal(t, 0, inf.callCount())

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr), "workspace must not be touched")
}

func TestProcess_MissingDocumentLeavesSharedWorkspace(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	require.NoError(t, os.MkdirAll(root, 0o755))
	leftover := filepath.Join(root, "page-0001.png")
	require.NoError(t, os.WriteFile(leftover, []byte("old"), 0o644))

	ws := workspace.NewManager(root, workspace.ModeShared, false)
	svc := NewService(ws, &fakeRasterizer{pages: 1}, &fakeInferencer{}, Options{}, nil)

	_, err := svc.Process(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), nil)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.FileExists(t, leftover)
}

func TestProcess_RasterizerFailure(t *testing.T) {
	inf := &fakeInferencer{}
	svc, _ := newTestService(t, &fakeRasterizer{err: errors.New("corrupt xref")}, inf, 1)

	_, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversion))
	assert.NotErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.Equal(t, 0, inf.callCount())
}

func TestProcess_NumericPageOrder(t *testing.T) {
	// Unpadded names: page-10 must come after page-2.
	raster := &fakeRasterizer{
		pages: 10,
		nameFunc: func(prefix string, n int, format string) string {
			return fmt.Sprintf("%s-%d.%s", prefix, n, format)
		},
	}
	replies := map[string]string{}
	for n := 1; n <= 10; n++ {
		replies[fmt.Sprintf("page-%d", n)] = fmt.Sprintf(`[{"n":"%d"}]`, n)
	}
	svc, _ := newTestService(t, raster, &fakeInferencer{replies: replies}, 3)

	result, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 10)
	for i, row := range result.Rows {
		assert.Equal(t, fmt.Sprint(i+1), row["n"])
	}
}

func TestProcess_SequentialWhenConcurrencyIsOne(t *testing.T) {
	inf := &fakeInferencer{delay: func(string) time.Duration { return 5 * time.Millisecond }}
	svc, _ := newTestService(t, &fakeRasterizer{pages: 4}, inf, 1)

	_, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, inf.maxFlight)
	assert.Equal(t, []string{"page-1", "page-2", "page-3", "page-4"}, inf.calls)
}

func TestProcess_BoundedConcurrency(t *testing.T) {
	inf := &fakeInferencer{delay: func(string) time.Duration { return 20 * time.Millisecond }}
	svc, _ := newTestService(t, &fakeRasterizer{pages: 8}, inf, 3)

	_, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, inf.maxFlight, 3)
	assert.Equal(t, 8, inf.callCount())
}

func TestProcess_ContextCancelled(t *testing.T) {
	inf := &fakeInferencer{delay: func(string) time.Duration { return time.Second }}
	svc, _ := newTestService(t, &fakeRasterizer{pages: 3}, inf, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := svc.Process(ctx, writeDocument(t), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, domain.IsType(err, domain.ErrorTypeExtraction))
}

func TestProcess_IsolatedWorkspaceRemoved(t *testing.T) {
	svc, root := newTestService(t, &fakeRasterizer{pages: 2}, &fakeInferencer{}, 2)

	_, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcess_SharedWorkspaceKeepsImages(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	ws := workspace.NewManager(root, workspace.ModeShared, false)
	svc := NewService(ws, &fakeRasterizer{pages: 2}, &fakeInferencer{}, Options{}, nil)

	_, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestProcess_EmitsEvents(t *testing.T) {
	svc, _ := newTestService(t, &fakeRasterizer{pages: 2}, &fakeInferencer{}, 1)
	eventCh := make(chan domain.StreamEvent, 32)

	_, err := svc.Process(context.Background(), writeDocument(t), eventCh)
	require.NoError(t, err)
	close(eventCh)

	var types []domain.EventType
	for ev := range eventCh {
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, domain.EventStart, types[0])
	assert.Equal(t, domain.EventComplete, types[len(types)-1])
	assert.Contains(t, types, domain.EventRasterized)
	assert.Contains(t, types, domain.EventPageComplete)
}

func TestProcess_RecordsRun(t *testing.T) {
	inf := &fakeInferencer{replies: map[string]string{"page-1": `[{"a":"1"}]`}}
	svc, _ := newTestService(t, &fakeRasterizer{pages: 1}, inf, 1)
	rec := &fakeRecorder{}
	svc.SetRunRecorder(rec)

	result, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, result.RunID, rec.runs[0].ID.String())
	assert.Equal(t, 1, rec.runs[0].RowCount)
	assert.Equal(t, store.RunStatusCompleted, rec.runs[0].Status)
}

func TestProcess_RecorderFailureIsNotFatal(t *testing.T) {
	svc, _ := newTestService(t, &fakeRasterizer{pages: 1}, &fakeInferencer{}, 1)
	svc.SetRunRecorder(&fakeRecorder{err: errors.New("db down")})

	_, err := svc.Process(context.Background(), writeDocument(t), nil)
	require.NoError(t, err)
}

func TestExtractAll_SendsInstructionAndMimeType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page-0001.jpg")
	require.NoError(t, os.WriteFile(path, []byte("page-1"), 0o644))

	var got domain.InferenceRequest
	inf := inferFunc(func(_ context.Context, req domain.InferenceRequest) (string, error) {
		got = req
		return `[{"a":"1"}]`, nil
	})
	svc := NewService(workspace.NewManager(dir, workspace.ModeIsolated, false), &fakeRasterizer{}, inf, Options{Instruction: "find tables"}, nil)

	pages, rows, err := svc.ExtractAll(context.Background(), []domain.PageImage{{PageNumber: 1, ImagePath: path}})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "page-0001.jpg", pages[0].Image)
	assert.Equal(t, [][]domain.Row{{{"a": "1"}}}, rows)
	assert.Equal(t, "find tables", got.Instruction)
	assert.Equal(t, "image/jpeg", got.Image.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("page-1")), got.Image.Base64)
}

func TestExtractAll_UnreadableImage(t *testing.T) {
	svc, _ := newTestService(t, &fakeRasterizer{}, &fakeInferencer{}, 1)

	pages, rows, err := svc.ExtractAll(context.Background(), []domain.PageImage{
		{PageNumber: 1, ImagePath: filepath.Join(t.TempDir(), "gone.png")},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PageStatusReadFailed, pages[0].Status)
	assert.Nil(t, rows[0])
	assert.True(t, strings.Contains(pages[0].Error, "gone.png"))
}

type inferFunc func(ctx context.Context, req domain.InferenceRequest) (string, error)

func (f inferFunc) Infer(ctx context.Context, req domain.InferenceRequest) (string, error) {
	return f(ctx, req)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 3, "abc..."},
		{"multibyte boundary", "ab€cd", 3, "ab..."},
		{"inside first rune", "€uro", 2, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
