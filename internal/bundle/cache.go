// Package bundle caches the merged script and style bundles on disk, one current file
// per kind, keyed by an opaque version tag.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
	slogcontext "github.com/veqryn/slog-context"
	"ocm.software/open-component-model/bindings/go/blob"

	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/staging"
	"ocm.software/open-component-model/pluginhub/internal/workerpool"
	"ocm.software/open-component-model/pluginhub/metrics"
)

// DefaultRetainSuperseded is the number of superseded files kept per kind.
const DefaultRetainSuperseded = 2

// Producer renders the content of a bundle. It is only called when the cached file is
// missing or belongs to another version.
type Producer func(ctx context.Context) (blob.ReadOnlyBlob, error)

// Options configure a Cache.
type Options struct {
	// Directory holds the bundle files.
	Directory *staging.Directory
	// Executor runs bundle writes. Nil writes on the calling goroutine.
	Executor workerpool.Executor
	// RetainSuperseded is how many replaced files stay on disk per kind so that readers
	// that resolved an older handle can still open it.
	RetainSuperseded int
}

// Cache holds one slot per Kind. Each slot is guarded by its own lock.
type Cache struct {
	dir   *staging.Directory
	exec  workerpool.Executor
	slots map[Kind]*slot
}

type slot struct {
	kind     Kind
	mu       sync.RWMutex
	current  atomic.Pointer[Handle]
	retained *lru.Cache[string, *Handle]
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.Directory == nil {
		opts.Directory = staging.NewDirectory("", "pluginhub-bundle-*")
	}
	if opts.Executor == nil {
		opts.Executor = workerpool.Inline{}
	}
	if opts.RetainSuperseded < 1 {
		opts.RetainSuperseded = DefaultRetainSuperseded
	}

	c := &Cache{
		dir:   opts.Directory,
		exec:  opts.Executor,
		slots: make(map[Kind]*slot, len(Kinds)),
	}
	for _, kind := range Kinds {
		s := &slot{kind: kind}
		// only a non-positive size is rejected
		s.retained, _ = lru.NewWithEvict[string, *Handle](opts.RetainSuperseded, s.evict)
		c.slots[kind] = s
	}
	return c
}

// Get returns the bundle of kind for version. If the slot already holds that version
// and its file exists, producer is not called. Otherwise exactly one caller per slot
// regenerates the file while the others wait and then reuse it.
func (c *Cache) Get(ctx context.Context, kind Kind, version string, producer Producer) (*Handle, error) {
	if !kind.valid() {
		return nil, failure.InvalidInput("unknown bundle kind %q", kind)
	}
	if version == "" {
		return nil, failure.InvalidInput("bundle version must not be empty")
	}
	s := c.slots[kind]

	s.mu.RLock()
	if h := s.current.Load(); h.fresh(version) {
		s.mu.RUnlock()
		RequestsCounter.WithLabelValues(string(kind), "hit").Inc()
		return h, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have regenerated while we waited for the lock
	previous := s.current.Load()
	if previous.fresh(version) {
		RequestsCounter.WithLabelValues(string(kind), "hit").Inc()
		return previous, nil
	}
	RequestsCounter.WithLabelValues(string(kind), "miss").Inc()

	start := time.Now()
	h, err := c.regenerate(ctx, kind, version, producer)
	metrics.SetDurationObserver(RegenerationDurationHistogram.WithLabelValues(string(kind)), start)
	if err != nil {
		RegenerationsCounter.WithLabelValues(string(kind), "failure").Inc()
		return nil, err
	}
	RegenerationsCounter.WithLabelValues(string(kind), "success").Inc()

	logger := slogcontext.FromCtx(ctx).With("kind", kind, "version", version)
	if !s.current.CompareAndSwap(previous, h) {
		logger.DebugContext(ctx, "bundle slot changed during regeneration, not publishing")
		return h, nil
	}
	// the new file must not be deleted if its path was retained under an older handle
	s.retained.Remove(h.Path)
	if previous != nil && previous.Path != h.Path {
		s.retained.Add(previous.Path, previous)
	}
	logger.InfoContext(ctx, "bundle regenerated", "path", h.Path, "size", h.size, "digest", h.digest)

	return h, nil
}

// Current returns the handle currently published for kind, or nil.
func (c *Cache) Current(kind Kind) *Handle {
	s, ok := c.slots[kind]
	if !ok {
		return nil
	}
	return s.current.Load()
}

// Close drops all handles and removes the cache directory.
func (c *Cache) Close() error {
	for _, kind := range Kinds {
		s := c.slots[kind]
		s.mu.Lock()
		s.current.Store(nil)
		s.retained.Purge()
		s.mu.Unlock()
	}
	return c.dir.Close()
}

func (c *Cache) regenerate(ctx context.Context, kind Kind, version string, producer Producer) (*Handle, error) {
	content, err := producer(ctx)
	if err != nil {
		return nil, failure.Producer(string(kind), version, err)
	}

	dir, err := c.dir.Path(ctx)
	if err != nil {
		return nil, err
	}

	name := fileName(kind, version)
	measured := &measuredBlob{src: content, digester: digest.Canonical.Digester()}
	tmp, err := staging.Stage(ctx, staging.Options{
		Dir:      dir,
		Pattern:  "." + name + "-*.tmp",
		Executor: c.exec,
	}, measured)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmp, target); err != nil {
		staging.Release(ctx, tmp)
		return nil, failure.Staging(target, err)
	}

	return &Handle{
		Kind:         kind,
		Version:      version,
		Path:         target,
		LastModified: time.Now().UTC().Truncate(time.Second),
		digest:       measured.digester.Digest(),
		size:         measured.size.Load(),
	}, nil
}

// evict deletes a superseded file once it falls out of the retention window. It runs
// with the slot's write lock held.
func (s *slot) evict(path string, h *Handle) {
	if current := s.current.Load(); current != nil && current.Path == path {
		return
	}
	EvictionsCounter.WithLabelValues(string(s.kind)).Inc()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove superseded bundle",
			"kind", h.Kind, "version", h.Version, "path", path, "error", err)
	}
}

// measuredBlob digests and counts the bytes read from src.
type measuredBlob struct {
	src      blob.ReadOnlyBlob
	digester digest.Digester
	size     atomic.Int64
}

func (m *measuredBlob) ReadCloser() (io.ReadCloser, error) {
	rc, err := m.src.ReadCloser()
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle content: %w", err)
	}
	return &measuredReader{ReadCloser: rc, blob: m}, nil
}

type measuredReader struct {
	io.ReadCloser
	blob *measuredBlob
}

func (r *measuredReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		_, _ = r.blob.digester.Hash().Write(p[:n])
		r.blob.size.Add(int64(n))
	}
	return n, err
}
