package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/api/respond"
	"github.com/omnireply/omnireply/internal/api/validate"
	"github.com/omnireply/omnireply/internal/classify"
	"github.com/omnireply/omnireply/internal/orchestrator"
)

// maxWebhookBody caps webhook payload reads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives channel-provider webhooks. Both endpoints always
// answer 200 once the message is stored; AI pipeline failures are reported in
// the body so the provider does not redeliver a message we already have.
type WebhookHandler struct {
	classifier *classify.Classifier
	orch       *orchestrator.Orchestrator
	log        zerolog.Logger
}

func NewWebhookHandler(c *classify.Classifier, o *orchestrator.Orchestrator, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{classifier: c, orch: o, log: log}
}

// HandleInbound POST /api/accounts/{accountId}/webhooks/inbound
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if err := validate.AccountID(accountID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond.WriteBadRequest(w, "unreadable request body")
		return
	}
	payload, err := classify.ParseWebhook(body)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	cls, err := h.classifier.HandleInbound(r.Context(), accountID, payload)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	resp := map[string]interface{}{
		"success":        true,
		"conversationId": cls.Conversation.ConversationID,
		"messageId":      cls.Message.MessageID,
	}
	if cls.CreatedConversation {
		resp["createdConversation"] = true
	}

	// One reply per stored message: a redelivered webhook maps onto the
	// existing row and must not trigger a second generation.
	if cls.Duplicate {
		resp["duplicate"] = true
		respond.WriteJSON(w, http.StatusOK, resp)
		return
	}

	out := h.orch.Respond(r.Context(), accountID, cls.Message)
	if out.Succeeded() {
		reply := map[string]interface{}{
			"messageId": out.Reply.MessageID,
		}
		if out.ProviderMessageID != "" {
			reply["providerMessageId"] = out.ProviderMessageID
		}
		resp["reply"] = reply
	} else {
		// The inbound message is stored either way; surface why no reply went
		// out without turning it into a transport error.
		resp["replyError"] = out.FailureReason
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

// HandleOutbound POST /api/accounts/{accountId}/webhooks/outbound
func (h *WebhookHandler) HandleOutbound(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if err := validate.AccountID(accountID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond.WriteBadRequest(w, "unreadable request body")
		return
	}
	payload, err := classify.ParseWebhook(body)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	cls, err := h.classifier.HandleOutbound(r.Context(), accountID, payload)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	resp := map[string]interface{}{
		"success":        true,
		"conversationId": cls.Conversation.ConversationID,
		"messageId":      cls.Message.MessageID,
		"source":         cls.Source,
	}
	if cls.CreatedConversation {
		resp["createdConversation"] = true
	}
	if cls.Duplicate {
		resp["duplicate"] = true
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}
