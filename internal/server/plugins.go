package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"ocm.software/open-component-model/bindings/go/blob"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/plugin"
)

func (h *handlers) getPlugin(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) listPlugins(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func listOptions(r *http.Request) (plugin.ListOptions, error) {
	q := r.URL.Query()
	opts := plugin.ListOptions{Keyword: q.Get("keyword"), Sort: q["sort"]}

	if v := q.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return opts, failure.InvalidInput("invalid enabled %q", v)
		}
		opts.Enabled = &enabled
	}
	for param, dst := range map[string]*int{"page": &opts.Page, "size": &opts.Size} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, failure.InvalidInput("invalid %s %q", param, v)
		}
		*dst = n
	}
	return opts, nil
}

func (h *handlers) listPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.svc.Presets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presets)
}

func (h *handlers) install(w http.ResponseWriter, r *http.Request) {
	src, err := h.multipartSource(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Install(r.Context(), src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) upgrade(w http.ResponseWriter, r *http.Request) {
	src, err := h.multipartSource(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Upgrade(r.Context(), chi.URLParam(r, "name"), src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type uriRequest struct {
	URI string `json:"uri"`
}

func (h *handlers) installFromURI(w http.ResponseWriter, r *http.Request) {
	var req uriRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Install(r.Context(), plugin.Source{Type: plugin.SourceURL, URI: req.URI})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) upgradeFromURI(w http.ResponseWriter, r *http.Request) {
	var req uriRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Upgrade(r.Context(), chi.URLParam(r, "name"), plugin.Source{Type: plugin.SourceURL, URI: req.URI})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Reload(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type runningStateRequest struct {
	Enable bool `json:"enable"`
	Async  bool `json:"async"`
}

func (h *handlers) changeState(w http.ResponseWriter, r *http.Request) {
	var req runningStateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.ChangeRunningState(r.Context(), chi.URLParam(r, "name"), req.Enable, req.Async)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) fetchConfig(w http.ResponseWriter, r *http.Request) {
	cm, err := h.svc.FetchConfig(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cm)
}

func (h *handlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	var desired v1alpha1.ConfigMap
	if err := readJSON(r, &desired); err != nil {
		writeError(w, r, err)
		return
	}
	cm, err := h.svc.UpdateConfig(r.Context(), chi.URLParam(r, "name"), &desired)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cm)
}

func (h *handlers) resetConfig(w http.ResponseWriter, r *http.Request) {
	cm, err := h.svc.ResetConfig(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cm)
}

func (h *handlers) fetchSetting(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.FetchSetting(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// multipartSource reads the install source of a multipart form. Parts spooled to disk
// by net/http are removed once the request completes.
func (h *handlers) multipartSource(r *http.Request) (plugin.Source, error) {
	if err := r.ParseMultipartForm(h.maxUploadMemory); err != nil {
		return plugin.Source{}, failure.InvalidInput("malformed multipart form: %v", err)
	}

	sourceType, err := plugin.ParseSourceType(r.FormValue("source"))
	if err != nil {
		return plugin.Source{}, err
	}
	src := plugin.Source{
		Type:       sourceType,
		PresetName: r.FormValue("presetName"),
		URI:        r.FormValue("uri"),
	}
	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		src.File = &upload{header: files[0]}
		src.FileName = files[0].Filename
	}
	return src, nil
}

// upload is an uploaded form file. Every ReadCloser call reopens the part.
type upload struct {
	header *multipart.FileHeader
}

var (
	_ blob.ReadOnlyBlob = (*upload)(nil)
	_ blob.SizeAware    = (*upload)(nil)
)

func (u *upload) ReadCloser() (io.ReadCloser, error) {
	return u.header.Open()
}

func (u *upload) Size() int64 {
	return u.header.Size
}
