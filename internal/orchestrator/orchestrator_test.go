package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/channel"
	"github.com/omnireply/omnireply/internal/completion"
	"github.com/omnireply/omnireply/internal/contextwin"
	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
	"github.com/omnireply/omnireply/internal/store/memstore"
)

type fakeCompleter struct {
	lastSystem string
	lastMsgs   []completion.Message
	lastParams completion.Params
	result     *completion.Result
	err        error
	block      bool // wait for ctx cancellation instead of answering
}

func (f *fakeCompleter) Complete(ctx context.Context, system string, msgs []completion.Message, params completion.Params) (*completion.Result, error) {
	f.lastSystem = system
	f.lastMsgs = msgs
	f.lastParams = params
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeChannel struct {
	lastReq channel.SendRequest
	result  *channel.SendResult
	err     error
	// onSend, when set, runs before returning. Used to observe store state at
	// delivery time.
	onSend func()
}

func (f *fakeChannel) Send(ctx context.Context, req channel.SendRequest) (*channel.SendResult, error) {
	f.lastReq = req
	if f.onSend != nil {
		f.onSend()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fixture struct {
	store   store.Store
	conv    *model.Conversation
	inbound *model.Message
	ai      *fakeCompleter
	ch      *fakeChannel
}

func newFixture(t *testing.T, connected bool, seedInbound bool) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()

	if _, err := s.Accounts().Create(ctx, &model.Account{
		AccountID:        "acct-1",
		Name:             "Acme Dental",
		ChannelConnected: connected,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	name := "Dana"
	conv, err := s.Conversations().Create(ctx, &model.Conversation{
		AccountID:         "acct-1",
		ExternalContactID: "contact-1",
		ContactName:       &name,
		Channel:           model.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	f := &fixture{
		store: s,
		conv:  conv,
		ai: &fakeCompleter{result: &completion.Result{
			Content:    "We are open until 5pm today.",
			Model:      "gpt-4o-mini",
			TokensUsed: 42,
		}},
		ch: &fakeChannel{result: &channel.SendResult{ProviderMessageID: "ghl-msg-99"}},
	}
	if seedInbound {
		f.inbound = f.seedMessage(t, "What time do you close?", model.DirectionInbound, model.SourceContact, model.RoleUser)
	}
	return f
}

func (f *fixture) seedMessage(t *testing.T, content string, dir model.Direction, src model.Source, role model.Role) *model.Message {
	t.Helper()
	m, err := f.store.Messages().Create(context.Background(), &model.Message{
		ConversationID: f.conv.ConversationID,
		AccountID:      f.conv.AccountID,
		Role:           role,
		Content:        content,
		Direction:      dir,
		Source:         src,
		Channel:        f.conv.Channel,
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

func (f *fixture) orchestrator(timeout time.Duration) *Orchestrator {
	log := zerolog.Nop()
	asm := contextwin.New(f.store, nil, nil, log)
	providers := map[model.AIProvider]completion.Provider{
		model.AIProviderOpenAI:    f.ai,
		model.AIProviderAnthropic: f.ai,
	}
	return New(f.store, asm, providers, f.ch, nil, nil, timeout, log)
}

func (f *fixture) listMessages(t *testing.T, excludeUndelivered bool) []*model.Message {
	t.Helper()
	msgs, err := f.store.Messages().List(context.Background(), model.ListMessagesRequest{
		ConversationID:           f.conv.ConversationID,
		ExcludePrecedesUserReply: excludeUndelivered,
	})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func TestRespondHappyPath(t *testing.T) {
	f := newFixture(t, true, true)
	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", f.inbound)

	if !out.Succeeded() {
		t.Fatalf("expected DONE, got %s (%s, err=%v)", out.State, out.FailureReason, out.Err)
	}
	if out.Reply == nil {
		t.Fatal("expected a reply message")
	}
	if out.Reply.Role != model.RoleAssistant || out.Reply.Source != model.SourceAIAgent || out.Reply.Direction != model.DirectionOutbound {
		t.Fatalf("reply misclassified: role=%s source=%s direction=%s", out.Reply.Role, out.Reply.Source, out.Reply.Direction)
	}
	if out.ProviderMessageID != "ghl-msg-99" {
		t.Fatalf("expected provider message id recorded, got %q", out.ProviderMessageID)
	}
	if out.TokensUsed != 42 {
		t.Fatalf("expected token usage propagated, got %d", out.TokensUsed)
	}

	stored, err := f.store.Messages().FindByExternalID(context.Background(), f.conv.ConversationID, "ghl-msg-99")
	if err != nil {
		t.Fatalf("reply not findable by provider id: %v", err)
	}
	if stored.Content != "We are open until 5pm today." {
		t.Fatalf("unexpected stored reply content %q", stored.Content)
	}

	if f.ch.lastReq.Channel != model.ChannelSMS || f.ch.lastReq.ContactID != "contact-1" {
		t.Fatalf("send request misrouted: %+v", f.ch.lastReq)
	}
	if f.ai.lastParams.Model != "gpt-4o-mini" {
		t.Fatalf("expected openai model by default, got %q", f.ai.lastParams.Model)
	}
	if !strings.Contains(f.ai.lastSystem, "Dana") {
		t.Fatalf("system prompt should name the contact: %q", f.ai.lastSystem)
	}
}

func TestRespondPersistsReplyBeforeSend(t *testing.T) {
	f := newFixture(t, true, true)
	var atSendTime int
	f.ch.onSend = func() {
		atSendTime = len(f.listMessages(t, false))
	}

	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", f.inbound)
	if !out.Succeeded() {
		t.Fatalf("expected DONE, got %s", out.State)
	}
	// Inbound seed plus the persisted reply must both exist before delivery.
	if atSendTime != 2 {
		t.Fatalf("expected reply persisted before send, saw %d messages at send time", atSendTime)
	}
}

func TestRespondSendFailureKeepsFlaggedReply(t *testing.T) {
	f := newFixture(t, true, true)
	f.ch.err = errors.New("ghl: 502 bad gateway")

	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", f.inbound)
	if out.State != StateFailed || out.FailureReason != "channel send failed" {
		t.Fatalf("expected send failure, got %s (%s)", out.State, out.FailureReason)
	}
	if out.Reply == nil || !out.Reply.PrecedesUserReply {
		t.Fatal("undelivered reply should be kept and flagged")
	}

	// The flagged row stays for audit but drops out of future context.
	all := f.listMessages(t, false)
	if len(all) != 2 {
		t.Fatalf("expected reply row retained, got %d messages", len(all))
	}
	visible := f.listMessages(t, true)
	if len(visible) != 1 || visible[0].Role != model.RoleUser {
		t.Fatalf("flagged reply should be excluded from context, got %d messages", len(visible))
	}
}

func TestRespondChannelNotConnected(t *testing.T) {
	f := newFixture(t, false, true)
	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", f.inbound)

	if out.State != StateFailed || out.FailureReason != "channel not connected" {
		t.Fatalf("expected channel-not-connected failure, got %s (%s)", out.State, out.FailureReason)
	}
	if !errors.Is(out.Err, model.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", out.Err)
	}
	if len(f.listMessages(t, false)) != 1 {
		t.Fatal("no reply should be persisted when the channel is disconnected")
	}
}

func TestRespondNoContext(t *testing.T) {
	f := newFixture(t, true, false)
	inbound := &model.Message{ConversationID: f.conv.ConversationID, Content: "hello"}

	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", inbound)
	if out.State != StateFailed || out.FailureReason != "no context available" {
		t.Fatalf("expected no-context failure, got %s (%s)", out.State, out.FailureReason)
	}
}

func TestRespondCompletionTimeout(t *testing.T) {
	f := newFixture(t, true, true)
	f.ai.block = true

	out := f.orchestrator(10*time.Millisecond).Respond(context.Background(), "acct-1", f.inbound)
	if out.State != StateFailed || out.FailureReason != "completion timeout" {
		t.Fatalf("expected timeout failure, got %s (%s)", out.State, out.FailureReason)
	}
	// A timed-out generation leaves no partial reply behind.
	if len(f.listMessages(t, false)) != 1 {
		t.Fatal("no reply should be persisted after a completion timeout")
	}
}

func TestRespondEmptyCompletion(t *testing.T) {
	f := newFixture(t, true, true)
	f.ai.result = &completion.Result{Content: ""}

	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", f.inbound)
	if out.State != StateFailed || out.FailureReason != "completion returned no content" {
		t.Fatalf("expected empty-completion failure, got %s (%s)", out.State, out.FailureReason)
	}
}

func TestRespondAnthropicProviderSelection(t *testing.T) {
	f := newFixture(t, true, true)
	settings := model.DefaultSettings("acct-1")
	settings.DefaultAIProvider = model.AIProviderAnthropic
	if _, err := f.store.Settings().Upsert(context.Background(), settings); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", f.inbound)
	if !out.Succeeded() {
		t.Fatalf("expected DONE, got %s (%s)", out.State, out.FailureReason)
	}
	if f.ai.lastParams.Model != "claude-3-5-haiku-latest" {
		t.Fatalf("expected anthropic model selected, got %q", f.ai.lastParams.Model)
	}
}

func TestRespondEmailSendShape(t *testing.T) {
	f := newFixture(t, true, false)
	conv, err := f.store.Conversations().Create(context.Background(), &model.Conversation{
		AccountID:         "acct-1",
		ExternalContactID: "contact-2",
		Channel:           model.ChannelEmail,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	f.conv = conv
	f.inbound = f.seedMessage(t, "Do you take insurance?", model.DirectionInbound, model.SourceContact, model.RoleUser)
	f.inbound.Metadata = map[string]interface{}{"subject": "Insurance question"}

	out := f.orchestrator(time.Second).Respond(context.Background(), "acct-1", f.inbound)
	if !out.Succeeded() {
		t.Fatalf("expected DONE, got %s (%s)", out.State, out.FailureReason)
	}
	if f.ch.lastReq.Subject != "Re: Insurance question" {
		t.Fatalf("expected threaded subject, got %q", f.ch.lastReq.Subject)
	}
	if f.ch.lastReq.HTML == "" {
		t.Fatal("email sends must carry an html body")
	}
}

func TestStateStrings(t *testing.T) {
	want := map[State]string{
		StateLoadingConversation: "LOADING_CONVERSATION",
		StateContextAssembly:     "CONTEXT_ASSEMBLY",
		StateGenerating:          "GENERATING",
		StatePersistingReply:     "PERSISTING_REPLY",
		StateSending:             "SENDING",
		StateDone:                "DONE",
		StateFailed:              "FAILED",
	}
	for s, label := range want {
		if s.String() != label {
			t.Fatalf("state %d: got %q want %q", s, s.String(), label)
		}
	}
}
