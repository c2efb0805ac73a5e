package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omnireply/omnireply/internal/model"
)

// Payload is one channel-provider webhook message event. Concrete variants
// are keyed by the provider's type field; each variant owns its content
// extraction rule.
type Payload interface {
	Channel() model.Channel
	Content() string

	Common() *PayloadCommon
}

// PayloadCommon carries the fields every channel variant shares.
type PayloadCommon struct {
	ContactID              string                 // external CRM contact id, required
	ExternalConversationID string                 // provider thread id, optional
	ExternalMessageID      string                 // provider message id, optional
	UserID                 string                 // set when a human CRM operator sent it
	ContactName            string
	Phone                  string
	Email                  string
	Raw                    map[string]interface{} // original payload, kept as message metadata
}

// SMSPayload and WhatsAppPayload read message with a body fallback.
type SMSPayload struct {
	PayloadCommon
	Message string
	Body    string
}

func (p *SMSPayload) Channel() model.Channel { return model.ChannelSMS }
func (p *SMSPayload) Common() *PayloadCommon { return &p.PayloadCommon }
func (p *SMSPayload) Content() string        { return firstNonEmpty(p.Message, p.Body) }

type WhatsAppPayload struct {
	PayloadCommon
	Message string
	Body    string
}

func (p *WhatsAppPayload) Channel() model.Channel { return model.ChannelWhatsApp }
func (p *WhatsAppPayload) Common() *PayloadCommon { return &p.PayloadCommon }
func (p *WhatsAppPayload) Content() string        { return firstNonEmpty(p.Message, p.Body) }

// EmailPayload reads html with a body fallback and carries subject/sender.
type EmailPayload struct {
	PayloadCommon
	Subject   string
	HTML      string
	Body      string
	EmailFrom string
}

func (p *EmailPayload) Channel() model.Channel { return model.ChannelEmail }
func (p *EmailPayload) Common() *PayloadCommon { return &p.PayloadCommon }
func (p *EmailPayload) Content() string        { return firstNonEmpty(p.HTML, p.Body) }

// SocialPayload reads body with a message fallback.
type SocialPayload struct {
	PayloadCommon
	Body    string
	Message string
}

func (p *SocialPayload) Channel() model.Channel { return model.ChannelSocial }
func (p *SocialPayload) Common() *PayloadCommon { return &p.PayloadCommon }
func (p *SocialPayload) Content() string        { return firstNonEmpty(p.Body, p.Message) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// wirePayload is the loose provider JSON shape; ParseWebhook converts it into
// the right variant and validates required fields.
type wirePayload struct {
	Type           string `json:"type"`
	ContactID      string `json:"contactId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	ContactName    string `json:"contactName"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	EmailFrom      string `json:"emailFrom"`
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
	Message        string `json:"message"`
	Body           string `json:"body"`
}

// ParseWebhook decodes a provider webhook body into a typed channel variant.
// Schema problems surface as model.ErrValidation before any store mutation.
func ParseWebhook(data []byte) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook JSON", model.ErrValidation)
	}
	if w.ContactID == "" {
		return nil, fmt.Errorf("%w: contactId is required", model.ErrValidation)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	common := PayloadCommon{
		ContactID:              w.ContactID,
		ExternalConversationID: w.ConversationID,
		ExternalMessageID:      w.MessageID,
		UserID:                 w.UserID,
		ContactName:            w.ContactName,
		Phone:                  w.Phone,
		Email:                  firstNonEmpty(w.Email, w.EmailFrom),
		Raw:                    raw,
	}

	var p Payload
	switch normalizeType(w.Type) {
	case "sms":
		p = &SMSPayload{PayloadCommon: common, Message: w.Message, Body: w.Body}
	case "whatsapp":
		p = &WhatsAppPayload{PayloadCommon: common, Message: w.Message, Body: w.Body}
	case "email":
		p = &EmailPayload{PayloadCommon: common, Subject: w.Subject, HTML: w.HTML, Body: w.Body, EmailFrom: w.EmailFrom}
	case "fb", "ig", "facebook", "instagram", "social", "live_chat", "custom":
		p = &SocialPayload{PayloadCommon: common, Body: w.Body, Message: w.Message}
	default:
		return nil, fmt.Errorf("%w: unsupported message type %q", model.ErrValidation, w.Type)
	}
	if p.Content() == "" {
		return nil, fmt.Errorf("%w: message has no content", model.ErrValidation)
	}
	return p, nil
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
