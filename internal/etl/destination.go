package etl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ── Destination ────────────────────────────────────────────
// A Destination receives a rendered composition.

// Destination writes rendered output to a target system.
type Destination interface {
	Write(ctx context.Context, target string, data []byte) (int, error)
}

// ── File Destination ───────────────────────────────────────

// FileDestination writes each target as a file under Dir. Files are replaced
// atomically so readers never see a partial document.
type FileDestination struct {
	Dir string
}

func (d *FileDestination) Write(ctx context.Context, target string, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if target == "" || filepath.Base(target) != target {
		return 0, fmt.Errorf("invalid target name: %q", target)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.Dir, "."+target+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := tmp.Write(data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.Dir, target)); err != nil {
		return 0, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}

// ── Writer Destination ─────────────────────────────────────

// WriterDestination writes every target to W, ignoring the target name.
type WriterDestination struct {
	mu sync.Mutex
	W  io.Writer
}

func (d *WriterDestination) Write(ctx context.Context, _ string, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.W.Write(data)
}
