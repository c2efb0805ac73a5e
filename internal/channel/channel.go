// Package channel abstracts the outbound CRM message delivery API.
package channel

import (
	"context"

	"github.com/omnireply/omnireply/internal/model"
)

// SendRequest carries one outbound message. Email requires Subject and HTML;
// the other channels use the flat Message field.
type SendRequest struct {
	Channel                model.Channel
	ContactID              string  // external CRM contact id
	ExternalConversationID *string // provider thread id, when known
	Message                string
	Subject                string
	HTML                   string
}

// SendResult is the provider's acknowledgment of a delivered message.
type SendResult struct {
	ProviderMessageID      string
	ExternalConversationID string
}

// Provider delivers messages through the CRM's channel API.
type Provider interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}
