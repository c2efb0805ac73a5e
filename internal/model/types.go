package model

import "time"

// Channel identifies the transport a conversation runs over.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSocial   Channel = "social"
)

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelWhatsApp, ChannelSocial:
		return true
	}
	return false
}

// Direction distinguishes contact-to-platform from platform-to-contact traffic.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role is the API-level speaker supplied to completion providers.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Source is the finer-grained authorship of a message.
type Source string

const (
	SourceContact       Source = "contact"
	SourceAIAgent       Source = "ai_agent"
	SourceCRMUser       Source = "ghl_user"
	SourceCRMAutomation Source = "ghl_automation"
	SourceSystem        Source = "system"
)

// ConsistentWith reports whether the source/direction pairing is legal:
// contact authorship is always inbound, everything else is outbound.
func (s Source) ConsistentWith(d Direction) bool {
	if s == SourceContact {
		return d == DirectionInbound
	}
	return d == DirectionOutbound
}

// Conversation is a logical thread with one external contact on one channel.
// At most one active conversation exists per (account, external contact id).
type Conversation struct {
	ConversationID         string     `json:"conversationId"`
	AccountID              string     `json:"accountId"`
	ExternalContactID      string     `json:"externalContactId"`
	ExternalConversationID *string    `json:"externalConversationId,omitempty"`
	ContactName            *string    `json:"contactName,omitempty"`
	ContactEmail           *string    `json:"contactEmail,omitempty"`
	ContactPhone           *string    `json:"contactPhone,omitempty"`
	Channel                Channel    `json:"channel"`
	Active                 bool       `json:"active"`
	MessageCount           int        `json:"messageCount"`
	LastMessageAt          *time.Time `json:"lastMessageAt,omitempty"`
	CreationTime           time.Time  `json:"creationTime"`
}

// Message is one inbound or outbound item in a conversation.
// AccountID is denormalized from the conversation for query efficiency.
type Message struct {
	MessageID         string                 `json:"messageId"`
	ConversationID    string                 `json:"conversationId"`
	AccountID         string                 `json:"accountId"`
	Role              Role                   `json:"role"`
	Content           string                 `json:"content"`
	Direction         Direction              `json:"direction"`
	Source            Source                 `json:"source"`
	Channel           Channel                `json:"channel"`
	ExternalMessageID *string                `json:"externalMessageId,omitempty"`
	Embedding         []float32              `json:"-"`
	PrecedesUserReply bool                   `json:"precedesUserReply"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreationTime      time.Time              `json:"creationTime"`
}

// MessagePatch carries the mutable fields of a stored message.
// Nil fields are left unchanged.
type MessagePatch struct {
	ExternalMessageID *string
	PrecedesUserReply *bool
	Metadata          map[string]interface{}
}

// Account is the tenant/billing boundary. ChannelConnected reflects whether
// outbound CRM credentials are currently linked for the account.
type Account struct {
	AccountID        string    `json:"accountId"`
	Name             string    `json:"name"`
	LocationID       *string   `json:"locationId,omitempty"`
	ChannelConnected bool      `json:"channelConnected"`
	CreationTime     time.Time `json:"creationTime"`
}

// SimilarMessage is a semantic-search hit over stored messages.
type SimilarMessage struct {
	MessageID string  `json:"messageId"`
	Score     float64 `json:"score"`
}

// ListMessagesRequest captures filters used when listing messages.
// A zero SinceDays or Limit means "no cap of that kind".
type ListMessagesRequest struct {
	ConversationID           string
	SinceDays                int
	Limit                    int
	Roles                    []Role
	ExcludePrecedesUserReply bool
}
