package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/freeeve/regionstore/internal/region"
)

// maxChunkBody bounds PUT bodies; compressed chunks are far smaller.
const maxChunkBody = 16 * 1024 * 1024

// Handler exposes a region.Store over HTTP.
type Handler struct {
	store *region.Store
	log   zerolog.Logger
}

// NewRouter creates the HTTP router. gatherer is optional; when set, its
// metrics are served at /metrics.
func NewRouter(log zerolog.Logger, store *region.Store, gatherer prometheus.Gatherer) http.Handler {
	h := &Handler{
		store: store,
		log:   log,
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/v1/chunk", http.HandlerFunc(h.chunk))
	mux.Handle("/v1/region/open", http.HandlerFunc(h.regionOpen))
	mux.Handle("/v1/stats", http.HandlerFunc(h.stats))
	mux.Handle("/v1/cache/trim", http.HandlerFunc(h.trim))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return RequestID(AccessLog(log, mux))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// chunkRef is the addressing shared by the chunk endpoints.
type chunkRef struct {
	world string
	path  string
	x, z  int
}

func parseChunkRef(r *http.Request) (chunkRef, error) {
	q := r.URL.Query()
	ref := chunkRef{
		world: q.Get("world"),
		path:  q.Get("path"),
	}
	if ref.world == "" {
		return ref, errors.New("missing world parameter")
	}
	if ref.path == "" {
		ref.path = "region"
	}

	var err error
	if ref.x, err = strconv.Atoi(q.Get("x")); err != nil {
		return ref, errors.Wrap(err, "invalid x")
	}
	if ref.z, err = strconv.Atoi(q.Get("z")); err != nil {
		return ref, errors.Wrap(err, "invalid z")
	}
	return ref, nil
}

func (h *Handler) chunk(w http.ResponseWriter, r *http.Request) {
	ref, err := parseChunkRef(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.readChunk(w, r, ref)
	case http.MethodPut, http.MethodPost:
		h.writeChunk(w, r, ref)
	default:
		w.Header().Set("Allow", "GET, PUT, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) readChunk(w http.ResponseWriter, r *http.Request, ref chunkRef) {
	data, err := h.store.ReadChunk(ref.world, ref.path, ref.x, ref.z)
	if err != nil {
		if errors.Is(err, region.ErrNotFound) {
			http.Error(w, "chunk not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("read chunk")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zlib")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *Handler) writeChunk(w http.ResponseWriter, r *http.Request, ref chunkRef) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkBody))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.WriteChunk(ref.world, ref.path, ref.x, ref.z, data); err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("write chunk")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, WriteResponse{OK: true})
}

func (h *Handler) regionOpen(w http.ResponseWriter, r *http.Request) {
	ref, err := parseChunkRef(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	open, err := h.store.IsOpen(ref.world, ref.path, ref.x, ref.z)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"open": open})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ToStatsResponse(h.store.Cache().Stats()))
}

func (h *Handler) trim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := 1
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			http.Error(w, "invalid n parameter", http.StatusBadRequest)
			return
		}
		n = v
	}

	evicted := h.store.Cache().Trim(n)
	writeJSON(w, map[string]any{
		"evicted": evicted,
		"open":    h.store.Cache().Len(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
