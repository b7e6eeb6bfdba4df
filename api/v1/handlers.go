package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/tinoosan/volload/internal/fp"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/notify"
	"github.com/tinoosan/volload/internal/service"
)

// Headers describing an extracted slice.
const (
	HeaderRevision       = "X-Slice-Revision"
	HeaderVolumeRevision = "X-Volume-Revision"
	HeaderWidth          = "X-Slice-Width"
	HeaderHeight         = "X-Slice-Height"
	HeaderFormat         = "X-Pixel-Format"
)

type LoadHandler struct {
	l   *slog.Logger
	svc service.Load
	hub *notify.Hub
}

// NewLoadHandler serves the load routes; hub may be nil when live events
// are disabled.
func NewLoadHandler(l *slog.Logger, svc service.Load, hub *notify.Hub) *LoadHandler {
	if l == nil {
		l = slog.Default()
	}
	return &LoadHandler{l: l, svc: svc, hub: hub}
}

func (h *LoadHandler) GetLoads(w http.ResponseWriter, r *http.Request) {
	loads, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loads)
}

func (h *LoadHandler) GetLoad(w http.ResponseWriter, r *http.Request) {
	ld, err := h.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ld)
}

func (h *LoadHandler) AddLoad(w http.ResponseWriter, r *http.Request) {
	req, ok := r.Context().Value(ctxKeyLoad{}).(service.CreateRequest)
	if !ok {
		markErr(w, ErrLoadCtx)
		http.Error(w, ErrLoadCtx.Error(), http.StatusInternalServerError)
		return
	}
	ld, created, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/loads/"+ld.ID)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ld)
}

// UpdateLoad moves the priority of the load to the slice in the body.
func (h *LoadHandler) UpdateLoad(w http.ResponseWriter, r *http.Request) {
	body, ok := r.Context().Value(ctxKeyPatch{}).(patchBody)
	if !ok || body.Current == nil {
		markErr(w, ErrPatchCtx)
		http.Error(w, ErrPatchCtx.Error(), http.StatusInternalServerError)
		return
	}
	ld, err := h.svc.Prioritize(r.Context(), mux.Vars(r)["id"], *body.Current)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ld)
}

func (h *LoadHandler) DeleteLoad(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LoadHandler) GetGeometry(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Geometry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetSlice answers the raw pixels of one cut. The ETag changes with the
// pixels and their revision, so clients can poll with If-None-Match.
func (h *LoadHandler) GetSlice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, ok := geometry.ParseProjection(strings.ToLower(vars["projection"]))
	if !ok {
		writeError(w, ErrProjection)
		return
	}
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		markErr(w, err)
		http.Error(w, "Unable to convert index", http.StatusBadRequest)
		return
	}
	e, err := h.svc.Extract(r.Context(), vars["id"], p, index)
	if err != nil {
		writeError(w, err)
		return
	}

	etag := `"` + fp.PixelDigest(e.Revision, e.Image.Pix) + `"`
	hd := w.Header()
	hd.Set("ETag", etag)
	hd.Set(HeaderRevision, strconv.FormatUint(e.Revision, 10))
	hd.Set(HeaderVolumeRevision, strconv.FormatUint(e.GlobalRevision, 10))
	hd.Set(HeaderWidth, strconv.Itoa(e.Image.Width))
	hd.Set(HeaderHeight, strconv.Itoa(e.Image.Height))
	hd.Set(HeaderFormat, e.Image.Format.String())
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	hd.Set("Content-Type", "application/octet-stream")
	hd.Set("Content-Length", strconv.Itoa(len(e.Image.Pix)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(e.Image.Pix); err != nil {
		markErr(w, err)
	}
}

// Events streams the progress of one load over a websocket until it ends.
func (h *LoadHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.hub == nil {
		http.Error(w, "live events disabled", http.StatusNotFound)
		return
	}
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.hub.ServeWS(w, r, id, func() (notify.Message, error) {
		ld, err := h.svc.Get(r.Context(), id)
		if err != nil {
			return notify.Message{}, err
		}
		return notify.FromLoad("Snapshot", ld), nil
	})
}
