package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/api/respond"
	"github.com/omnireply/omnireply/internal/api/validate"
	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
)

// AccountHandler registers tenants and reports their channel connection state.
type AccountHandler struct {
	store store.Store
	log   zerolog.Logger
}

func NewAccountHandler(s store.Store, log zerolog.Logger) *AccountHandler {
	return &AccountHandler{store: s, log: log}
}

// CreateAccount POST /api/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID        string  `json:"accountId"`
		Name             string  `json:"name"`
		LocationID       *string `json:"locationId"`
		ChannelConnected bool    `json:"channelConnected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if req.AccountID != "" {
		if err := validate.AccountID(req.AccountID); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
	}
	if err := validate.NonEmpty("name", req.Name); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	out, err := h.store.Accounts().Create(r.Context(), &model.Account{
		AccountID:        req.AccountID,
		Name:             req.Name,
		LocationID:       req.LocationID,
		ChannelConnected: req.ChannelConnected,
	})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// GetAccount GET /api/accounts/{accountId}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	account, err := h.store.Accounts().Get(r.Context(), accountID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, account)
}
