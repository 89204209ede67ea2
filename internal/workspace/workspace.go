// Package workspace manages the scratch directories that hold rendered
// page images while a document is being extracted.
package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/spherical/table-extractor/internal/domain"
)

// Mode selects how scratch directories are handed out.
type Mode string

const (
	// ModeIsolated gives every run its own directory, removed on release.
	ModeIsolated Mode = "isolated"
	// ModeShared reuses one fixed directory, reset at the start of each run
	// and left populated afterwards. Runs are serialized.
	ModeShared Mode = "shared"
)

// Reset guarantees dir exists and is empty. Entries directly inside dir are
// removed one by one; a non-empty sub-directory makes the call fail.
func Reset(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.IOError("Failed to create workspace", err)
		}
		return nil
	}
	if err != nil {
		return domain.IOError("Failed to read workspace", err)
	}

	for _, entry := range entries {
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return domain.IOError("Failed to clear workspace", err)
		}
	}
	return nil
}

// Workspace is a scratch directory owned by one run.
type Workspace struct {
	Dir string

	once    sync.Once
	release func() error
	err     error
}

// Release gives the directory back. Safe to call more than once.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		if w.release != nil {
			w.err = w.release()
		}
	})
	return w.err
}

// Manager hands out workspaces under a root directory.
type Manager struct {
	root string
	mode Mode
	keep bool

	// shared mode only
	mu sync.Mutex
}

// NewManager creates a workspace manager.
func NewManager(root string, mode Mode, keep bool) *Manager {
	if mode == "" {
		mode = ModeIsolated
	}
	return &Manager{root: root, mode: mode, keep: keep}
}

// Acquire returns an existing, empty directory for one run. The caller must
// Release it on every exit path.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if m.mode == ModeShared {
		return m.acquireShared(ctx)
	}
	return m.acquireIsolated()
}

func (m *Manager) acquireIsolated() (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, domain.IOError("Failed to create workspace root", err)
	}

	dir := filepath.Join(m.root, "run-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, domain.IOError("Failed to create workspace", err)
	}

	ws := &Workspace{Dir: dir}
	if !m.keep {
		ws.release = func() error {
			if err := os.RemoveAll(dir); err != nil {
				return domain.IOError("Failed to remove workspace", err)
			}
			return nil
		}
	}
	return ws, nil
}

func (m *Manager) acquireShared(ctx context.Context) (*Workspace, error) {
	// A cancelled request stops waiting; the lock is released again as
	// soon as the pending Lock returns.
	locked := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		go func() {
			<-locked
			m.mu.Unlock()
		}()
		return nil, ctx.Err()
	}

	if err := Reset(m.root); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	return &Workspace{
		Dir: m.root,
		release: func() error {
			m.mu.Unlock()
			return nil
		},
	}, nil
}
