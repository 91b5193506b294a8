package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/mudra/internal/store"
)

// DefaultHistoryLimit is the number of predictions listed when no limit is given.
const DefaultHistoryLimit = 50

// PredictionsHandler serves the prediction history.
type PredictionsHandler struct {
	store *store.Store
}

// NewPredictionsHandler creates a new PredictionsHandler with the given store.
func NewPredictionsHandler(s *store.Store) *PredictionsHandler {
	return &PredictionsHandler{store: s}
}

type predictionResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Endpoint  string `json:"endpoint"`
	Frames    int    `json:"frames"`
	Label     string `json:"label"`
	Sentence  string `json:"sentence,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	CreatedAt string `json:"created_at"`
}

type listPredictionsResponse struct {
	Predictions []predictionResponse `json:"predictions"`
}

func toPredictionResponse(p *store.Prediction) predictionResponse {
	return predictionResponse{
		ID:        p.ID,
		SessionID: p.SessionID,
		Mode:      p.Mode,
		Endpoint:  p.Endpoint,
		Frames:    p.Frames,
		Label:     p.Label,
		Sentence:  p.Sentence,
		Status:    string(p.Status),
		Error:     p.Error,
		LatencyMs: p.LatencyMs,
		CreatedAt: formatTime(p.CreatedAt),
	}
}

// ServeHTTP routes /api/predictions and /api/predictions/{id}.
func (h *PredictionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/predictions"), "/")
	if id == "" {
		h.list(w, r)
		return
	}
	h.get(w, r, id)
}

// list handles GET /api/predictions?limit=N, newest first.
func (h *PredictionsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	predictions, err := h.store.Predictions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list predictions")
		return
	}

	response := listPredictionsResponse{
		Predictions: make([]predictionResponse, 0, len(predictions)),
	}
	for _, p := range predictions {
		response.Predictions = append(response.Predictions, toPredictionResponse(p))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/predictions/{id}.
func (h *PredictionsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.store.Predictions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Prediction not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get prediction")
		return
	}

	writeJSON(w, http.StatusOK, toPredictionResponse(p))
}
