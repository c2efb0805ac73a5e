package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
	"github.com/omnireply/omnireply/internal/store/memstore"
)

func newClassifier(t *testing.T) (*Classifier, store.Store) {
	t.Helper()
	s := memstore.New()
	return New(s, nil, nil, zerolog.Nop()), s
}

func inboundSMS(contactID, message, messageID string) Payload {
	return &SMSPayload{
		PayloadCommon: PayloadCommon{ContactID: contactID, ExternalMessageID: messageID},
		Message:       message,
	}
}

func TestHandleInboundCreatesConversationAndMessage(t *testing.T) {
	c, _ := newClassifier(t)
	cls, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "hi there", "wh-1"))
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if !cls.CreatedConversation {
		t.Fatal("first inbound message should create a conversation")
	}
	if cls.Source != model.SourceContact || cls.Role != model.RoleUser {
		t.Fatalf("inbound misclassified: source=%s role=%s", cls.Source, cls.Role)
	}
	if cls.Message.Direction != model.DirectionInbound {
		t.Fatalf("expected inbound direction, got %s", cls.Message.Direction)
	}
}

func TestHandleInboundReusesActiveConversation(t *testing.T) {
	c, _ := newClassifier(t)
	first, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "hi", "wh-1"))
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	second, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "me again", "wh-2"))
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if second.CreatedConversation {
		t.Fatal("second message from the same contact must reuse the thread")
	}
	if second.Conversation.ConversationID != first.Conversation.ConversationID {
		t.Fatal("messages landed in different conversations")
	}
}

func TestHandleInboundDuplicateDelivery(t *testing.T) {
	c, s := newClassifier(t)
	first, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "original", "wh-1"))
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	dup, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "redelivered with edits", "wh-1"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !dup.Duplicate {
		t.Fatal("redelivery should be flagged as duplicate")
	}
	if dup.Message.MessageID != first.Message.MessageID || dup.Message.Content != "original" {
		t.Fatal("duplicate delivery must return the originally stored row")
	}
	n, err := s.Messages().CountByConversation(context.Background(), first.Conversation.ConversationID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stored message, got %d", n)
	}
	// Touch must run once: message_count mirrors stored rows.
	conv, err := s.Conversations().GetByID(context.Background(), "acct-1", first.Conversation.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.MessageCount != 1 {
		t.Fatalf("expected message count 1, got %d", conv.MessageCount)
	}
}

func TestHandleOutboundRecognizesOwnSend(t *testing.T) {
	c, s := newClassifier(t)
	inbound, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "question", "wh-1"))
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	// The reply pipeline persisted this row before sending; the provider now
	// echoes it back with the same external id.
	extID := "ghl-sent-7"
	if _, err := s.Messages().Create(context.Background(), &model.Message{
		ConversationID:    inbound.Conversation.ConversationID,
		AccountID:         "acct-1",
		Role:              model.RoleAssistant,
		Content:           "an answer",
		Direction:         model.DirectionOutbound,
		Source:            model.SourceAIAgent,
		Channel:           model.ChannelSMS,
		ExternalMessageID: &extID,
	}); err != nil {
		t.Fatalf("persist reply: %v", err)
	}

	echo := &SMSPayload{
		PayloadCommon: PayloadCommon{ContactID: "contact-1", ExternalMessageID: extID},
		Message:       "an answer",
	}
	cls, err := c.HandleOutbound(context.Background(), "acct-1", echo)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if cls.Source != model.SourceAIAgent || cls.Role != model.RoleAssistant {
		t.Fatalf("own send misclassified: source=%s role=%s", cls.Source, cls.Role)
	}
	if !cls.Duplicate {
		t.Fatal("echo of our own send should map onto the stored reply row")
	}
}

func TestHandleOutboundUserIDMeansHumanOperator(t *testing.T) {
	c, _ := newClassifier(t)
	if _, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "hello", "wh-1")); err != nil {
		t.Fatalf("inbound: %v", err)
	}
	manual := &SMSPayload{
		PayloadCommon: PayloadCommon{ContactID: "contact-1", ExternalMessageID: "wh-2", UserID: "operator-9"},
		Message:       "hi, this is a human",
	}
	cls, err := c.HandleOutbound(context.Background(), "acct-1", manual)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if cls.Source != model.SourceCRMUser || cls.Role != model.RoleUser {
		t.Fatalf("operator send misclassified: source=%s role=%s", cls.Source, cls.Role)
	}
}

func TestHandleOutboundDefaultsToAutomation(t *testing.T) {
	c, _ := newClassifier(t)
	if _, err := c.HandleInbound(context.Background(), "acct-1", inboundSMS("contact-1", "hello", "wh-1")); err != nil {
		t.Fatalf("inbound: %v", err)
	}
	auto := &SMSPayload{
		PayloadCommon: PayloadCommon{ContactID: "contact-1", ExternalMessageID: "wh-3"},
		Message:       "your appointment is tomorrow",
	}
	cls, err := c.HandleOutbound(context.Background(), "acct-1", auto)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if cls.Source != model.SourceCRMAutomation || cls.Role != model.RoleSystem {
		t.Fatalf("automation send misclassified: source=%s role=%s", cls.Source, cls.Role)
	}
}

func TestHandleOutboundUnknownConversationFallsBackToSystem(t *testing.T) {
	c, s := newClassifier(t)
	orphan := &SMSPayload{
		PayloadCommon: PayloadCommon{ContactID: "contact-new", ExternalMessageID: "wh-9"},
		Message:       "campaign blast",
	}
	cls, err := c.HandleOutbound(context.Background(), "acct-1", orphan)
	if err != nil {
		t.Fatalf("outbound must not fail on unknown conversation: %v", err)
	}
	if !cls.CreatedConversation {
		t.Fatal("expected a bare conversation to be created")
	}
	if cls.Source != model.SourceSystem || cls.Role != model.RoleSystem {
		t.Fatalf("fallback misclassified: source=%s role=%s", cls.Source, cls.Role)
	}
	if _, err := s.Conversations().FindActiveByContact(context.Background(), "acct-1", "contact-new"); err != nil {
		t.Fatalf("fallback conversation should be active: %v", err)
	}
}

func TestHandleOutboundMatchesByExternalConversationID(t *testing.T) {
	c, s := newClassifier(t)
	extConv := "ghl-conv-42"
	conv, err := s.Conversations().Create(context.Background(), &model.Conversation{
		AccountID:              "acct-1",
		ExternalContactID:      "contact-1",
		ExternalConversationID: &extConv,
		Channel:                model.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	// A second active thread for the same contact must not shadow the explicit
	// provider conversation id.
	if _, err := s.Conversations().Create(context.Background(), &model.Conversation{
		AccountID:         "acct-1",
		ExternalContactID: "contact-1",
		Channel:           model.ChannelSMS,
	}); err != nil {
		t.Fatalf("create decoy conversation: %v", err)
	}

	p := &SMSPayload{
		PayloadCommon: PayloadCommon{ContactID: "contact-1", ExternalConversationID: extConv, ExternalMessageID: "wh-5"},
		Message:       "routed by thread id",
	}
	cls, err := c.HandleOutbound(context.Background(), "acct-1", p)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if cls.Conversation.ConversationID != conv.ConversationID {
		t.Fatal("provider conversation id must take priority over contact matching")
	}
}

func TestParseWebhookValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"type":"SMS",`},
		{"missing contact", `{"type":"SMS","message":"hi"}`},
		{"unknown type", `{"type":"carrier_pigeon","contactId":"c1","message":"hi"}`},
		{"empty content", `{"type":"SMS","contactId":"c1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseWebhook([]byte(tc.body))
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestParseWebhookChannelVariants(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		channel model.Channel
		content string
	}{
		{"sms message field", `{"type":"SMS","contactId":"c1","message":"hi"}`, model.ChannelSMS, "hi"},
		{"sms body fallback", `{"type":"SMS","contactId":"c1","body":"fallback"}`, model.ChannelSMS, "fallback"},
		{"whatsapp", `{"type":"WhatsApp","contactId":"c1","message":"hola"}`, model.ChannelWhatsApp, "hola"},
		{"email html preferred", `{"type":"Email","contactId":"c1","html":"<p>hey</p>","body":"hey"}`, model.ChannelEmail, "<p>hey</p>"},
		{"email body fallback", `{"type":"Email","contactId":"c1","body":"plain"}`, model.ChannelEmail, "plain"},
		{"facebook", `{"type":"FB","contactId":"c1","body":"dm"}`, model.ChannelSocial, "dm"},
		{"instagram", `{"type":"IG","contactId":"c1","message":"dm"}`, model.ChannelSocial, "dm"},
		{"live chat", `{"type":"Live_Chat","contactId":"c1","body":"chat"}`, model.ChannelSocial, "chat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if p.Channel() != tc.channel {
				t.Fatalf("channel: got %s want %s", p.Channel(), tc.channel)
			}
			if p.Content() != tc.content {
				t.Fatalf("content: got %q want %q", p.Content(), tc.content)
			}
		})
	}
}
