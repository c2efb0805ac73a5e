package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/api/respond"
	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
)

// SettingsHandler serves the per-account context and AI policy endpoints.
type SettingsHandler struct {
	store store.Store
	log   zerolog.Logger
}

func NewSettingsHandler(s store.Store, log zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{store: s, log: log}
}

// GetSettings GET /api/accounts/{accountId}/settings
// Accounts that never customized anything get the defaults back.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	settings, err := h.store.Settings().Get(r.Context(), accountID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, settings)
}

// PutSettings PUT /api/accounts/{accountId}/settings
// The full settings object is replaced; out-of-range values are rejected, not
// clamped.
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	var settings model.AccountSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	settings.AccountID = accountID

	out, err := h.store.Settings().Upsert(r.Context(), &settings)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}
