package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/api/respond"
	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/searchindex"
	"github.com/omnireply/omnireply/internal/store"
)

// ConversationHandler serves the operator-facing conversation endpoints.
type ConversationHandler struct {
	store store.Store
	idx   searchindex.Index // optional
	log   zerolog.Logger
}

func NewConversationHandler(s store.Store, idx searchindex.Index, log zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{store: s, idx: idx, log: log}
}

// ListConversations GET /api/accounts/{accountId}/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	convs, err := h.store.Conversations().List(r.Context(), accountID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

// GetConversation GET /api/accounts/{accountId}/conversations/{conversationId}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	conv, err := h.store.Conversations().GetByID(r.Context(), vars["accountId"], vars["conversationId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, conv)
}

// ListMessages GET /api/accounts/{accountId}/conversations/{conversationId}/messages
// Supports ?sinceDays=N and ?limit=N.
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	// Scope check before reading messages; message rows key on conversation id
	// alone.
	if _, err := h.store.Conversations().GetByID(r.Context(), vars["accountId"], vars["conversationId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	req := model.ListMessagesRequest{ConversationID: vars["conversationId"]}
	if v := r.URL.Query().Get("sinceDays"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respond.WriteBadRequest(w, "sinceDays must be a non-negative integer")
			return
		}
		req.SinceDays = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respond.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		req.Limit = n
	}

	msgs, err := h.store.Messages().List(r.Context(), req)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// ArchiveConversation POST /api/accounts/{accountId}/conversations/{conversationId}/archive
func (h *ConversationHandler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.Conversations().Archive(r.Context(), vars["accountId"], vars["conversationId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteConversation DELETE /api/accounts/{accountId}/conversations/{conversationId}
// Hard-deletes message history and evicts the conversation from the search
// index. The conversation row itself is archived, not removed.
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	accountID, conversationID := vars["accountId"], vars["conversationId"]

	if err := h.store.Conversations().Archive(r.Context(), accountID, conversationID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if err := h.store.Messages().DeleteByConversation(r.Context(), conversationID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if h.idx != nil {
		if err := h.idx.DeleteConversation(r.Context(), conversationID); err != nil {
			h.log.Warn().Err(err).Str("conversationId", conversationID).Msg("search index cleanup failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
