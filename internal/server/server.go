// Package server exposes the plugin operations over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/bundle"
	"ocm.software/open-component-model/pluginhub/internal/plugin"
)

// BasePath prefixes every plugin route.
const BasePath = "/apis/" + v1alpha1.GroupVersion

// RequestIDHeader carries the request id in responses.
const RequestIDHeader = "X-Request-Id"

// DefaultMaxUploadMemory is the part of a multipart upload kept in memory; the rest is
// spooled to disk by net/http.
const DefaultMaxUploadMemory = 32 << 20

// Options configure the handler.
type Options struct {
	Service *plugin.Service
	// Logger is the base request logger. Nil means slog.Default().
	Logger *slog.Logger
	// MaxUploadMemory bounds the in-memory part of multipart uploads.
	MaxUploadMemory int64
}

type handlers struct {
	svc             *plugin.Service
	maxUploadMemory int64
}

// New returns the HTTP handler of pluginhub.
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: opts.Service, maxUploadMemory: opts.MaxUploadMemory}
	if h.maxUploadMemory <= 0 {
		h.maxUploadMemory = DefaultMaxUploadMemory
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route(BasePath, func(api chi.Router) {
		api.Get("/plugins", h.listPlugins)
		api.Post("/plugins/install", h.install)
		api.Post("/plugins/-/install-from-uri", h.installFromURI)
		api.Get("/plugins/-/bundle.js", h.bundle(bundle.KindScript))
		api.Get("/plugins/-/bundle.css", h.bundle(bundle.KindStyle))
		api.Get("/plugin-presets", h.listPresets)

		api.Route("/plugins/{name}", func(p chi.Router) {
			p.Get("/", h.getPlugin)
			p.Post("/upgrade", h.upgrade)
			p.Post("/upgrade-from-uri", h.upgradeFromURI)
			p.Put("/reload", h.reload)
			p.Put("/plugin-state", h.changeState)
			p.Get("/config", h.fetchConfig)
			p.Put("/config", h.updateConfig)
			p.Put("/reset-config", h.resetConfig)
			p.Get("/setting", h.fetchSetting)
		})
	})

	return r
}

// requestLogger assigns a request id, stores a logger carrying it in the request
// context and logs every completed request.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := newRequestID()
			w.Header().Set(RequestIDHeader, id)

			ctx := slogcontext.NewCtx(r.Context(), base.With("requestId", id))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			slogcontext.FromCtx(ctx).Log(ctx, level, "request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
			)
		})
	}
}

func newRequestID() string { return "req_" + uuid.NewString() }

func requestID(w http.ResponseWriter) string { return w.Header().Get(RequestIDHeader) }
