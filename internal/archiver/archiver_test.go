package archiver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store/memstore"
)

func TestSweepArchivesOnlyIdleConversations(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	old := time.Now().UTC().AddDate(0, 0, -120)
	fresh := time.Now().UTC().Add(-time.Hour)

	idle, err := s.Conversations().Create(ctx, &model.Conversation{
		AccountID:         "acct-1",
		ExternalContactID: "contact-idle",
		Channel:           model.ChannelSMS,
		LastMessageAt:     &old,
	})
	if err != nil {
		t.Fatalf("create idle conversation: %v", err)
	}
	active, err := s.Conversations().Create(ctx, &model.Conversation{
		AccountID:         "acct-1",
		ExternalContactID: "contact-active",
		Channel:           model.ChannelSMS,
		LastMessageAt:     &fresh,
	})
	if err != nil {
		t.Fatalf("create active conversation: %v", err)
	}

	a := New(s, 90, "0 3 * * *", zerolog.Nop())
	n, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived, got %d", n)
	}

	if _, err := s.Conversations().FindActiveByContact(ctx, "acct-1", "contact-idle"); err == nil {
		t.Fatal("idle conversation should no longer resolve as active")
	}
	if _, err := s.Conversations().FindActiveByContact(ctx, "acct-1", "contact-active"); err != nil {
		t.Fatalf("fresh conversation should stay active: %v", err)
	}

	// History survives archival.
	got, err := s.Conversations().GetByID(ctx, "acct-1", idle.ConversationID)
	if err != nil {
		t.Fatalf("archived conversation should still be readable: %v", err)
	}
	if got.Active {
		t.Fatal("archived conversation still marked active")
	}
	_ = active
}

func TestStartRejectsInvalidCronSpec(t *testing.T) {
	a := New(memstore.New(), 90, "not a cron spec", zerolog.Nop())
	if err := a.Start(); err == nil {
		t.Fatal("expected invalid cron spec to be rejected")
	}
}

func TestStartAndStop(t *testing.T) {
	a := New(memstore.New(), 90, "0 3 * * *", zerolog.Nop())
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.Stop()
}
