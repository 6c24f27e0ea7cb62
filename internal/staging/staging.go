// Package staging owns transient files on disk. Every file it creates is removed exactly
// once, whether the work built on top of it succeeds, fails or panics.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	slogcontext "github.com/veqryn/slog-context"
	"ocm.software/open-component-model/bindings/go/blob"

	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/workerpool"
)

// DefaultPattern names staged plugin archives.
const DefaultPattern = "plugin-*.jar"

// Options control where and how content is staged.
type Options struct {
	// Dir is the parent directory. Empty means os.TempDir().
	Dir string
	// Pattern is passed to os.CreateTemp. Empty means DefaultPattern.
	Pattern string
	// Executor runs the blocking copy. Nil runs it on the calling goroutine.
	Executor workerpool.Executor
}

func (o Options) pattern() string {
	if o.Pattern == "" {
		return DefaultPattern
	}
	return o.Pattern
}

func (o Options) executor() workerpool.Executor {
	if o.Executor == nil {
		return workerpool.Inline{}
	}
	return o.Executor
}

// Consumer works with a fully written staged file.
type Consumer[T any] func(ctx context.Context, path string) (T, error)

// WithTempFile writes content to a new temporary file, hands its path to consumer and
// removes the file once consumer returns. The consumer result is returned unchanged;
// a failed removal is only logged.
func WithTempFile[T any](ctx context.Context, opts Options, content blob.ReadOnlyBlob, consumer Consumer[T]) (T, error) {
	path, err := Stage(ctx, opts, content)
	if err != nil {
		var zero T
		return zero, err
	}
	defer Release(ctx, path)

	return consumer(ctx, path)
}

// Stage writes content to a new temporary file and returns its path. The caller owns
// the file and must Release it. On failure nothing is left behind for the caller.
func Stage(ctx context.Context, opts Options, content blob.ReadOnlyBlob) (string, error) {
	file, err := os.CreateTemp(opts.Dir, opts.pattern())
	if err != nil {
		discard(content)
		return "", failure.Staging(opts.Dir, err)
	}
	path := file.Name()
	staged := &stagedFile{file: file}

	err = opts.executor().Do(ctx, "stage", func(ctx context.Context) error {
		if !staged.claim() {
			return context.Cause(ctx)
		}
		return errors.Join(blob.Copy(file, content), file.Close())
	})
	if err != nil {
		// a copy that never started still holds the descriptor
		if staged.claim() {
			_ = file.Close()
			discard(content)
		}
		Release(ctx, path)
		return "", failure.Staging(path, err)
	}

	slogcontext.FromCtx(ctx).DebugContext(ctx, "staged content", "path", path)
	return path, nil
}

// Release removes a staged file. A file that is already gone is not an error; any other
// failure is logged at warn level and otherwise ignored.
func Release(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slogcontext.FromCtx(ctx).WarnContext(ctx, "failed to remove staged file", "path", path, "error", err)
	}
}

// discard closes content that is never copied, so a streamed body such as an HTTP
// response does not leak its connection.
func discard(content blob.ReadOnlyBlob) {
	if rc, err := content.ReadCloser(); err == nil {
		_ = rc.Close()
	}
}

// stagedFile decides whether the copy or the caller closes the file.
type stagedFile struct {
	mu      sync.Mutex
	file    *os.File
	claimed bool
}

func (s *stagedFile) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

// ErrClosed is returned by a Directory that has been closed.
var ErrClosed = errors.New("staging directory is closed")

// Directory is a directory that is created on first use and re-created whenever it has
// been removed from under the process. It is removed recursively on Close.
type Directory struct {
	mu      sync.Mutex
	fixed   string
	pattern string
	path    string
	closed  bool
}

// NewDirectory returns a Directory at path, or, when path is empty, a new temporary
// directory named after pattern.
func NewDirectory(path, pattern string) *Directory {
	return &Directory{fixed: path, pattern: pattern}
}

// Path returns the directory, creating it if it does not exist.
func (d *Directory) Path(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", ErrClosed
	}

	if d.path != "" {
		info, err := os.Stat(d.path)
		switch {
		case err == nil && info.IsDir():
			return d.path, nil
		case err == nil:
			return "", failure.Staging(d.path, errors.New("not a directory"))
		case !errors.Is(err, fs.ErrNotExist):
			return "", failure.Staging(d.path, err)
		}
		slogcontext.FromCtx(ctx).InfoContext(ctx, "staging directory vanished, re-creating", "path", d.path)
	}

	if d.fixed != "" {
		if err := os.MkdirAll(d.fixed, 0o700); err != nil {
			return "", failure.Staging(d.fixed, err)
		}
		d.path = d.fixed
		return d.path, nil
	}

	path, err := os.MkdirTemp("", d.pattern)
	if err != nil {
		return "", failure.Staging(os.TempDir(), err)
	}
	d.path = path
	return d.path, nil
}

// Close removes the directory and everything in it. Later calls to Path fail.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.path == "" {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("failed to remove staging directory %s: %w", d.path, err)
	}
	return nil
}
