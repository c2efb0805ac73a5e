package contextwin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
	"github.com/omnireply/omnireply/internal/store/memstore"
)

type fakeEmb struct {
	vec []float32
	err error
}

func (f *fakeEmb) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeIndex struct {
	hits []model.SimilarMessage
	err  error
}

func (f *fakeIndex) UpsertMessage(ctx context.Context, messageID string, vec []float32, payload map[string]interface{}) error {
	return nil
}

func (f *fakeIndex) SearchSimilar(ctx context.Context, conversationID string, vec []float32, limit int, threshold float64) ([]model.SimilarMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeIndex) DeleteConversation(ctx context.Context, conversationID string) error { return nil }

type env struct {
	store store.Store
	conv  *model.Conversation
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := memstore.New()
	conv, err := s.Conversations().Create(context.Background(), &model.Conversation{
		AccountID:         "acct-1",
		ExternalContactID: "contact-1",
		Channel:           model.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return &env{store: s, conv: conv}
}

// addMessage stores a user message created the given duration in the past.
func (e *env) addMessage(t *testing.T, content string, age time.Duration) *model.Message {
	t.Helper()
	m, err := e.store.Messages().Create(context.Background(), &model.Message{
		ConversationID: e.conv.ConversationID,
		AccountID:      e.conv.AccountID,
		Role:           model.RoleUser,
		Content:        content,
		Direction:      model.DirectionInbound,
		Source:         model.SourceContact,
		Channel:        model.ChannelSMS,
		CreationTime:   time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	return m
}

func (e *env) putSettings(t *testing.T, mutate func(*model.AccountSettings)) {
	t.Helper()
	s := model.DefaultSettings("acct-1")
	mutate(s)
	if _, err := e.store.Settings().Upsert(context.Background(), s); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}
}

func TestLoadContextPicksLargerCandidateSet(t *testing.T) {
	e := newEnv(t)
	// 3 messages inside the day window, 6 more older than it. The message cap
	// reaches all 9 and must win over the 3 day-window rows.
	for i := 0; i < 6; i++ {
		e.addMessage(t, "old", 40*24*time.Hour+time.Duration(i)*time.Minute)
	}
	for i := 0; i < 3; i++ {
		e.addMessage(t, "recent", time.Duration(i+1)*time.Hour)
	}
	e.putSettings(t, func(s *model.AccountSettings) {
		s.ContextWindowDays = 30
		s.ContextWindowMessages = 50
	})

	a := New(e.store, nil, nil, zerolog.Nop())
	win, err := a.LoadConversationContext(context.Background(), "acct-1", e.conv.ConversationID, Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(win.Messages) != 9 {
		t.Fatalf("expected count-based set of 9, got %d", len(win.Messages))
	}

	// Invert the shape: a dense burst today, tight message cap. The day-based
	// set is larger now.
	win, err = a.LoadConversationContext(context.Background(), "acct-1", e.conv.ConversationID, Overrides{Messages: 2})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(win.Messages) != 3 {
		t.Fatalf("expected day-based set of 3, got %d", len(win.Messages))
	}
}

func TestLoadContextExcludesUndeliveredReplies(t *testing.T) {
	e := newEnv(t)
	e.addMessage(t, "hello", time.Hour)
	flagged, err := e.store.Messages().Create(context.Background(), &model.Message{
		ConversationID:    e.conv.ConversationID,
		AccountID:         e.conv.AccountID,
		Role:              model.RoleAssistant,
		Content:           "never delivered",
		Direction:         model.DirectionOutbound,
		Source:            model.SourceAIAgent,
		Channel:           model.ChannelSMS,
		PrecedesUserReply: true,
		CreationTime:      time.Now().UTC().Add(-30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("create flagged message: %v", err)
	}

	a := New(e.store, nil, nil, zerolog.Nop())
	win, err := a.LoadConversationContext(context.Background(), "acct-1", e.conv.ConversationID, Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, m := range win.Messages {
		if m.MessageID == flagged.MessageID {
			t.Fatal("undelivered reply leaked into the context window")
		}
	}
	if len(win.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(win.Messages))
	}
}

func TestLoadContextTrimsOldestFirst(t *testing.T) {
	e := newEnv(t)
	// 400 chars is 100 estimated tokens per message.
	body := strings.Repeat("x", 400)
	oldest := e.addMessage(t, body, 3*time.Hour)
	mid := e.addMessage(t, body, 2*time.Hour)
	newest := e.addMessage(t, body, time.Hour)

	a := New(e.store, nil, nil, zerolog.Nop())
	win, err := a.LoadConversationContext(context.Background(), "acct-1", e.conv.ConversationID, Overrides{Tokens: 250})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !win.Truncated {
		t.Fatal("expected truncation")
	}
	if len(win.Messages) != 2 {
		t.Fatalf("expected 2 messages within budget, got %d", len(win.Messages))
	}
	if win.Messages[0].MessageID != mid.MessageID || win.Messages[1].MessageID != newest.MessageID {
		t.Fatal("trim must drop the oldest message and keep chronological order")
	}
	if win.TotalTokens != 200 {
		t.Fatalf("expected 200 tokens, got %d", win.TotalTokens)
	}
	for _, m := range win.Messages {
		if m.MessageID == oldest.MessageID {
			t.Fatal("oldest message should have been dropped")
		}
	}
}

func TestLoadContextHardTruncatesSingleOversizedMessage(t *testing.T) {
	e := newEnv(t)
	e.addMessage(t, strings.Repeat("a", 4000), time.Hour)

	a := New(e.store, nil, nil, zerolog.Nop())
	win, err := a.LoadConversationContext(context.Background(), "acct-1", e.conv.ConversationID, Overrides{Tokens: 50})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(win.Messages) != 1 || !win.Truncated {
		t.Fatalf("expected one truncated message, got %d (truncated=%v)", len(win.Messages), win.Truncated)
	}
	content := win.Messages[0].Content
	if !strings.HasSuffix(content, "...[truncated]") {
		t.Fatalf("expected truncation marker, got tail %q", content[len(content)-20:])
	}
	// 50-token budget keeps budget*4 = 200 chars of original content.
	if len(content) != 200+len("...[truncated]") {
		t.Fatalf("unexpected truncated length %d", len(content))
	}

	// The stored row is untouched; truncation applies to the window copy only.
	stored, err := e.store.Messages().List(context.Background(), model.ListMessagesRequest{ConversationID: e.conv.ConversationID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored[0].Content) != 4000 {
		t.Fatal("trim must not mutate the stored message")
	}
}

func TestLoadContextEmptyConversation(t *testing.T) {
	e := newEnv(t)
	a := New(e.store, nil, nil, zerolog.Nop())
	win, err := a.LoadConversationContext(context.Background(), "acct-1", e.conv.ConversationID, Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(win.Messages) != 0 || win.Truncated || win.TotalTokens != 0 {
		t.Fatalf("expected empty window, got %+v", win)
	}
}

func TestSemanticSearchBlendsAndDeduplicates(t *testing.T) {
	e := newEnv(t)
	old := e.addMessage(t, "we discussed pricing last month", 35*24*time.Hour)
	flagged, err := e.store.Messages().Create(context.Background(), &model.Message{
		ConversationID:    e.conv.ConversationID,
		AccountID:         e.conv.AccountID,
		Role:              model.RoleAssistant,
		Content:           "undelivered pricing reply",
		Direction:         model.DirectionOutbound,
		Source:            model.SourceAIAgent,
		Channel:           model.ChannelSMS,
		PrecedesUserReply: true,
		CreationTime:      time.Now().UTC().Add(-34 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create flagged: %v", err)
	}
	recent1 := e.addMessage(t, "hi again", 2*time.Hour)
	recent2 := e.addMessage(t, "what was that price?", time.Hour)

	e.putSettings(t, func(s *model.AccountSettings) {
		s.EnableSemanticSearch = true
		s.ContextWindowMessages = 4 // recent bucket caps at 2
	})

	idx := &fakeIndex{hits: []model.SimilarMessage{
		{MessageID: old.MessageID, Score: 0.91},
		{MessageID: recent2.MessageID, Score: 0.88}, // already recent, deduped
		{MessageID: flagged.MessageID, Score: 0.85}, // undelivered, skipped
	}}
	a := New(e.store, &fakeEmb{vec: []float32{0.1, 0.2}}, idx, zerolog.Nop())

	win, err := a.LoadContextWithSemanticSearch(context.Background(), "acct-1", e.conv.ConversationID, "price", Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(win.Messages) != 3 {
		t.Fatalf("expected 3 messages (2 recent + 1 semantic), got %d", len(win.Messages))
	}
	// Combined sequence stays chronological.
	order := []string{old.MessageID, recent1.MessageID, recent2.MessageID}
	for i, want := range order {
		if win.Messages[i].MessageID != want {
			t.Fatalf("position %d: got %s want %s", i, win.Messages[i].MessageID, want)
		}
	}
	if len(win.Recent) != 2 || len(win.Semantic) != 1 {
		t.Fatalf("bucket split wrong: %d recent, %d semantic", len(win.Recent), len(win.Semantic))
	}
	if win.Semantic[0].MessageID != old.MessageID {
		t.Fatal("semantic bucket should hold the older hit")
	}
}

func TestSemanticSearchDegradesGracefully(t *testing.T) {
	e := newEnv(t)
	e.addMessage(t, "hello", time.Hour)
	e.putSettings(t, func(s *model.AccountSettings) { s.EnableSemanticSearch = true })

	cases := []struct {
		name string
		emb  *fakeEmb
		idx  *fakeIndex
	}{
		{"embed error", &fakeEmb{err: errors.New("ollama down")}, &fakeIndex{}},
		{"search error", &fakeEmb{vec: []float32{0.5}}, &fakeIndex{err: errors.New("weaviate down")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := New(e.store, tc.emb, tc.idx, zerolog.Nop())
			win, err := a.LoadContextWithSemanticSearch(context.Background(), "acct-1", e.conv.ConversationID, "query", Overrides{})
			if err != nil {
				t.Fatalf("semantic failure must not fail the load: %v", err)
			}
			if len(win.Messages) != 1 || len(win.Semantic) != 0 {
				t.Fatalf("expected recent-only fallback, got %d messages (%d semantic)", len(win.Messages), len(win.Semantic))
			}
		})
	}
}

func TestSemanticSearchDisabledByDefault(t *testing.T) {
	e := newEnv(t)
	e.addMessage(t, "hello", time.Hour)

	idx := &fakeIndex{hits: []model.SimilarMessage{{MessageID: "bogus", Score: 0.99}}}
	a := New(e.store, &fakeEmb{vec: []float32{0.5}}, idx, zerolog.Nop())
	win, err := a.LoadContextWithSemanticSearch(context.Background(), "acct-1", e.conv.ConversationID, "query", Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(win.Semantic) != 0 {
		t.Fatal("semantic search must stay off unless the account enables it")
	}
}
