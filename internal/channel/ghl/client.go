// Package ghl sends outbound messages through the GoHighLevel conversations
// API.
package ghl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/omnireply/omnireply/internal/channel"
	"github.com/omnireply/omnireply/internal/model"
)

// apiVersion is the GHL date-pinned API version header.
const apiVersion = "2021-04-15"

// Client is a thin resty wrapper over the GHL message-send endpoint.
type Client struct {
	http *resty.Client
}

// New builds a client for baseURL authenticated with apiKey.
func New(baseURL, apiKey string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Version", apiVersion).
		SetTimeout(15 * time.Second)
	return &Client{http: rc}
}

type sendBody struct {
	Type           string  `json:"type"`
	ContactID      string  `json:"contactId"`
	ConversationID *string `json:"conversationId,omitempty"`
	Message        string  `json:"message,omitempty"`
	Subject        string  `json:"subject,omitempty"`
	HTML           string  `json:"html,omitempty"`
}

type sendResponse struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func providerType(c model.Channel) string {
	switch c {
	case model.ChannelSMS:
		return "SMS"
	case model.ChannelEmail:
		return "Email"
	case model.ChannelWhatsApp:
		return "WhatsApp"
	default:
		return "Custom"
	}
}

// Send shapes the payload per channel type and posts it. Email carries
// subject+html; every other channel carries the flat message field.
func (c *Client) Send(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
	body := sendBody{
		Type:           providerType(req.Channel),
		ContactID:      req.ContactID,
		ConversationID: req.ExternalConversationID,
	}
	if req.Channel == model.ChannelEmail {
		body.Subject = req.Subject
		body.HTML = req.HTML
		if body.HTML == "" {
			body.HTML = req.Message
		}
	} else {
		body.Message = req.Message
	}

	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/conversations/messages")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ghl send failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.MessageID == "" {
		return nil, fmt.Errorf("ghl send returned no message id")
	}
	return &channel.SendResult{
		ProviderMessageID:      out.MessageID,
		ExternalConversationID: out.ConversationID,
	}, nil
}

var _ channel.Provider = (*Client)(nil)
