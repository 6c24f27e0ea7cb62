package server

import (
	"bytes"
	"io"
	"net/http"

	"ocm.software/open-component-model/pluginhub/internal/bundle"
)

// ImmutableCacheControl is sent with versioned bundles. A version never changes content.
const ImmutableCacheControl = "public, max-age=31536000, immutable"

// bundle serves the merged bundle of kind. Without a version it redirects to the URL of
// the current version.
func (h *handlers) bundle(kind bundle.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		version := r.URL.Query().Get("v")
		if version == "" {
			current, err := h.svc.BundleVersion(ctx)
			if err != nil {
				writeError(w, r, err)
				return
			}
			target := *r.URL
			q := target.Query()
			q.Set("v", current)
			target.RawQuery = q.Encode()
			w.Header().Set("Cache-Control", "no-cache")
			http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
			return
		}

		handle, err := h.svc.Bundle(ctx, kind, version)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rc, err := handle.ReadCloser()
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rc.Close()

		content, ok := rc.(io.ReadSeeker)
		if !ok {
			data, err := io.ReadAll(rc)
			if err != nil {
				writeError(w, r, err)
				return
			}
			content = bytes.NewReader(data)
		}

		w.Header().Set("Content-Type", kind.MediaType())
		w.Header().Set("Cache-Control", ImmutableCacheControl)
		w.Header().Set("ETag", handle.ETag())
		http.ServeContent(w, r, "", handle.LastModified, content)
	}
}
