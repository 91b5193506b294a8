package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/submit"
)

// SettingsHandler exposes the runtime mode, endpoint override and batch size.
type SettingsHandler struct {
	settings *session.Settings
	store    *store.Store
}

// NewSettingsHandler creates a SettingsHandler. Updates are persisted when st is non-nil.
func NewSettingsHandler(settings *session.Settings, st *store.Store) *SettingsHandler {
	return &SettingsHandler{settings: settings, store: st}
}

type settingsResponse struct {
	Mode             submit.Mode `json:"mode"`
	Endpoint         string      `json:"endpoint"`
	BatchSize        int         `json:"batchSize"`
	ResolvedEndpoint string      `json:"resolvedEndpoint"`
}

// updateSettingsRequest uses pointers so omitted fields keep their value.
type updateSettingsRequest struct {
	Mode      *string `json:"mode"`
	Endpoint  *string `json:"endpoint"`
	BatchSize *int    `json:"batchSize"`
}

func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func toSettingsResponse(snap session.Snapshot) settingsResponse {
	return settingsResponse{
		Mode:             snap.Mode,
		Endpoint:         snap.Endpoint,
		BatchSize:        snap.BatchSize,
		ResolvedEndpoint: submit.Resolve(snap.SubmitConfig()),
	}
}

// get handles GET /api/settings.
func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsResponse(h.settings.Snapshot()))
}

// update handles PUT /api/settings.
func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	next := h.settings.Snapshot()
	if req.Mode != nil {
		next.Mode = submit.Mode(*req.Mode)
	}
	if req.Endpoint != nil {
		next.Endpoint = *req.Endpoint
	}
	if req.BatchSize != nil {
		next.BatchSize = *req.BatchSize
	}

	if err := h.settings.Apply(next, h.store); err != nil {
		if errors.Is(err, session.ErrNotSaved) {
			log.Printf("Failed to persist settings: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := h.settings.Snapshot()
	log.Printf("Settings updated: mode=%s batch=%d endpoint=%s", snap.Mode, snap.BatchSize, submit.Resolve(snap.SubmitConfig()))
	writeJSON(w, http.StatusOK, toSettingsResponse(snap))
}
