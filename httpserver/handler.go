package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artifact-keeper/artifact-keeper/api"
	"github.com/artifact-keeper/artifact-keeper/api/clients"
	"github.com/artifact-keeper/artifact-keeper/edge"
	"github.com/artifact-keeper/artifact-keeper/gc"
	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// maxBodySize is the maximum allowed admin request body size (64KB).
	maxBodySize = 64 * 1024

	// DefaultRedirectTTL is the lifetime of presigned download URLs.
	DefaultRedirectTTL = time.Hour
)

// StorageHandler serves the storage admin endpoints on the primary.
type StorageHandler struct {
	collector   gc.Runner
	backends    interfaces.BackendResolver
	stats       gc.StatsSource
	redirectTTL time.Duration
	log         *slog.Logger
}

// NewStorageHandler creates the admin handler. stats may be nil, which
// disables the stats endpoint.
func NewStorageHandler(collector gc.Runner, backends interfaces.BackendResolver, stats gc.StatsSource, redirectTTL time.Duration, log *slog.Logger) *StorageHandler {
	if redirectTTL <= 0 {
		redirectTTL = DefaultRedirectTTL
	}
	return &StorageHandler{
		collector:   collector,
		backends:    backends,
		stats:       stats,
		redirectTTL: redirectTTL,
		log:         log,
	}
}

func (h *StorageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/admin/storage-gc", h.HandleStorageGC)
	r.Get("/api/v1/admin/storage-stats", h.HandleStorageStats)
	r.Get("/api/v1/storage/redirect/*", h.HandleRedirect)
}

// HandleStorageGC runs one collection pass.
//
// URL format: POST /api/v1/admin/storage-gc
// Request body: {"dry_run": bool}, optional; an empty body is a live run.
// Response: the gc.Result as JSON. Per-group failures are in "errors" with
// status 200; only a failed orphan query is a 500.
func (h *StorageHandler) HandleStorageGC(w http.ResponseWriter, r *http.Request) {
	var req api.GCRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.collector.Run(r.Context(), req.DryRun)
	if err != nil {
		h.log.Error("Storage GC failed", "err", err)
		writeError(w, http.StatusInternalServerError, "storage gc failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleStorageStats returns live catalog totals.
func (h *StorageHandler) HandleStorageStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, "storage stats not available")
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.log.Error("Failed to query storage stats", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to query storage stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleRedirect answers with a temporary redirect to a presigned URL for
// the object at the wildcard key.
//
// URL format: GET /api/v1/storage/redirect/{key}?storage_path={path}
// storage_path selects the owning backend; shared object stores ignore it.
func (h *StorageHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing storage key")
		return
	}

	backend, err := h.backends.BackendFor(r.URL.Query().Get("storage_path"))
	if err != nil {
		h.log.Error("Failed to resolve storage backend", "err", err)
		writeError(w, http.StatusInternalServerError, "storage backend unavailable")
		return
	}

	if !backend.SupportsRedirect() {
		writeError(w, http.StatusNotFound, "redirect downloads are not enabled")
		return
	}

	presigned, err := backend.PresignedURL(r.Context(), key, h.redirectTTL)
	if err != nil {
		h.log.Error("Failed to issue presigned URL", slog.String("key", key), "err", err)
		writeError(w, http.StatusBadGateway, "failed to issue download URL")
		return
	}
	if presigned == nil {
		writeError(w, http.StatusNotFound, "redirect downloads are not enabled")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(presigned.ExpiresIn.Seconds())))
	w.Header().Set("X-Storage-Redirect-Source", string(presigned.Source))
	http.Redirect(w, r, presigned.URL, http.StatusTemporaryRedirect)
}

// EdgeHandler serves cached artifacts on an edge node, pulling misses from
// the primary.
type EdgeHandler struct {
	fetcher *edge.Fetcher
	state   *edge.State
	log     *slog.Logger
}

func NewEdgeHandler(fetcher *edge.Fetcher, state *edge.State, log *slog.Logger) *EdgeHandler {
	return &EdgeHandler{
		fetcher: fetcher,
		state:   state,
		log:     log,
	}
}

func (h *EdgeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/edge/status", h.HandleStatus)
	r.Get("/api/v1/artifacts/{artifactID}/download", h.HandleDownloadByID)
	r.Get("/api/v1/repositories/{repoKey}/artifacts/*", h.HandleDownloadByPath)
}

type edgeStatus struct {
	Offline     bool       `json:"offline"`
	LastContact *time.Time `json:"last_contact,omitempty"`
	NodeID      *uuid.UUID `json:"node_id,omitempty"`
}

// HandleStatus reports the node's connectivity state.
func (h *EdgeHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := edgeStatus{Offline: h.state.IsOffline()}
	if last := h.state.LastContact(); !last.IsZero() {
		status.LastContact = &last
	}
	if id, ok := h.state.NodeID(); ok {
		status.NodeID = &id
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleDownloadByID serves an artifact by id.
//
// URL format: GET /api/v1/artifacts/{artifactID}/download?size={bytes}
// size selects the transfer strategy on a cache miss.
func (h *EdgeHandler) HandleDownloadByID(w http.ResponseWriter, r *http.Request) {
	artifactID, err := uuid.Parse(chi.URLParam(r, "artifactID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}

	var size int64
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || size < 0 {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
	}

	data, err := h.fetcher.FetchArtifactByID(r.Context(), artifactID, size)
	if err != nil {
		h.writeFetchError(w, err)
		return
	}
	writeBlob(w, data)
}

// HandleDownloadByPath serves an artifact by repository key and path.
//
// URL format: GET /api/v1/repositories/{repoKey}/artifacts/{path}/download
func (h *EdgeHandler) HandleDownloadByPath(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")
	artifactPath, ok := strings.CutSuffix(rest, "/download")
	if !ok || artifactPath == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	data, err := h.fetcher.FetchByPath(r.Context(), chi.URLParam(r, "repoKey"), artifactPath)
	if err != nil {
		h.writeFetchError(w, err)
		return
	}
	writeBlob(w, data)
}

func (h *EdgeHandler) writeFetchError(w http.ResponseWriter, err error) {
	var statusErr *clients.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		writeError(w, http.StatusNotFound, "artifact not found")
	case edge.IsConnectivityError(err):
		h.log.Warn("Primary unreachable for cache miss", "err", err)
		writeError(w, http.StatusServiceUnavailable, "primary unreachable and artifact not cached")
	default:
		h.log.Error("Failed to fetch artifact", "err", err)
		writeError(w, http.StatusBadGateway, "failed to fetch artifact from primary")
	}
}

func writeBlob(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	writeJSON(w, code, map[string]string{"status": status})
}
