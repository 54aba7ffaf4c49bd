package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"docbot/internal/adapter/metrics"
	"docbot/internal/domain"
	"docbot/internal/usecase"
)

const maxBodyBytes = 16 << 20

// Ingester is the ingestion boundary served by POST /ingest.
type Ingester interface {
	Ingest(ctx context.Context, req usecase.IngestRequest) (*usecase.IngestResult, error)
	Remove(docID string) error
}

// Querier is the query boundary plus the read-only document views.
type Querier interface {
	Query(ctx context.Context, req usecase.QueryRequest) (*usecase.QueryResponse, error)
	LatestSynthesis(docID string) (domain.Synthesis, error)
	Documents() ([]domain.Document, error)
}

// HealthFunc reports extra fields for GET /healthz.
type HealthFunc func() map[string]any

// Handler exposes ingestion and querying as JSON over HTTP.
type Handler struct {
	ingest  Ingester
	query   Querier
	metrics *metrics.Metrics
	logger  *zap.Logger
	health  HealthFunc
}

func NewHandler(ingest Ingester, query Querier, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ingest: ingest, query: query, metrics: m, logger: logger}
}

// WithHealth adds the fields reported by fn to every health response.
func (h *Handler) WithHealth(fn HealthFunc) *Handler {
	h.health = fn
	return h
}

// Router creates the HTTP router.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", h.healthz).Methods("GET")
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}

	router.HandleFunc("/ingest", h.handleIngest).Methods("POST")
	router.HandleFunc("/query", h.handleQuery).Methods("POST")
	router.HandleFunc("/documents", h.handleDocuments).Methods("GET")
	router.HandleFunc("/documents/{id}", h.handleRemove).Methods("DELETE")
	router.HandleFunc("/documents/{id}/summary", h.handleSummary).Methods("GET")

	return router
}

// NewServer wraps the router in an http.Server with the given timeouts.
func (h *Handler) NewServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if h.health != nil {
		for k, v := range h.health() {
			body[k] = v
		}
	}
	body["status"] = "ok"
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req usecase.IngestRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Text == "" && len(req.Paragraphs) == 0 {
		h.writeError(w, fmt.Errorf("%w: text or paragraphs is required", domain.ErrInvalidInput))
		return
	}

	res, err := h.ingest.Ingest(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req usecase.QueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.query.Query(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.query.Documents()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]

	syn, err := h.query.LatestSynthesis(docID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "summary": syn})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.ingest.Remove(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIngestInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIngestFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
