package bundle

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/opencontainers/go-digest"
	"ocm.software/open-component-model/bindings/go/blob"
)

// Kind selects one of the two bundle slots.
type Kind string

const (
	// KindScript is the merged script bundle.
	KindScript Kind = "js"
	// KindStyle is the merged stylesheet bundle.
	KindStyle Kind = "css"
)

// Kinds lists every slot kind.
var Kinds = []Kind{KindScript, KindStyle}

// MediaType returns the content type a bundle of this kind is served with.
func (k Kind) MediaType() string {
	switch k {
	case KindScript:
		return "text/javascript; charset=utf-8"
	case KindStyle:
		return "text/css; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func (k Kind) valid() bool {
	return k == KindScript || k == KindStyle
}

// Handle is a published bundle file. It never changes after it is published; a new
// version gets a new Handle.
type Handle struct {
	Kind         Kind
	Version      string
	Path         string
	LastModified time.Time

	digest digest.Digest
	size   int64
}

var (
	_ blob.ReadOnlyBlob   = (*Handle)(nil)
	_ blob.SizeAware      = (*Handle)(nil)
	_ blob.DigestAware    = (*Handle)(nil)
	_ blob.MediaTypeAware = (*Handle)(nil)
)

// ReadCloser opens the bundle file. An open reader stays valid even if the file is
// later superseded and deleted.
func (h *Handle) ReadCloser() (io.ReadCloser, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s bundle %q: %w", h.Kind, h.Version, err)
	}
	return f, nil
}

// Size returns the size of the bundle in bytes.
func (h *Handle) Size() int64 { return h.size }

// Digest returns the sha256 digest of the bundle.
func (h *Handle) Digest() (string, bool) { return h.digest.String(), h.digest != "" }

// MediaType returns the media type of the bundle kind.
func (h *Handle) MediaType() (string, bool) { return h.Kind.MediaType(), true }

// ETag returns a strong entity tag derived from the bundle digest.
func (h *Handle) ETag() string { return `"` + h.digest.Encoded() + `"` }

func (h *Handle) fresh(version string) bool {
	if h == nil || h.Version != version {
		return false
	}
	_, err := os.Stat(h.Path)
	return err == nil
}

var safeVersion = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// fileName maps a version tag to a file name that cannot leave the cache directory.
func fileName(kind Kind, version string) string {
	name := version
	if !safeVersion.MatchString(version) {
		name = digest.FromString(version).Encoded()
	}
	return name + "." + string(kind)
}
