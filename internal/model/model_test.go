package model

import (
	"errors"
	"testing"
)

func TestSourceConsistentWith(t *testing.T) {
	cases := []struct {
		source    Source
		direction Direction
		ok        bool
	}{
		{SourceContact, DirectionInbound, true},
		{SourceContact, DirectionOutbound, false},
		{SourceAIAgent, DirectionOutbound, true},
		{SourceAIAgent, DirectionInbound, false},
		{SourceCRMUser, DirectionOutbound, true},
		{SourceCRMAutomation, DirectionOutbound, true},
		{SourceSystem, DirectionOutbound, true},
		{SourceSystem, DirectionInbound, false},
	}
	for _, tc := range cases {
		if got := tc.source.ConsistentWith(tc.direction); got != tc.ok {
			t.Fatalf("%s/%s: got %v, want %v", tc.source, tc.direction, got, tc.ok)
		}
	}
}

func TestChannelValid(t *testing.T) {
	for _, c := range []Channel{ChannelSMS, ChannelEmail, ChannelWhatsApp, ChannelSocial} {
		if !c.Valid() {
			t.Fatalf("%s should be valid", c)
		}
	}
	if Channel("fax").Valid() {
		t.Fatal("unknown channel should be invalid")
	}
}

func TestSettingsValidateRanges(t *testing.T) {
	base := DefaultSettings("acct-1")
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AccountSettings)
	}{
		{"days too large", func(s *AccountSettings) { s.ContextWindowDays = 366 }},
		{"days zero", func(s *AccountSettings) { s.ContextWindowDays = 0 }},
		{"messages too large", func(s *AccountSettings) { s.ContextWindowMessages = 501 }},
		{"tokens too small", func(s *AccountSettings) { s.MaxContextTokens = 99 }},
		{"search limit zero", func(s *AccountSettings) { s.SemanticSearchLimit = 0 }},
		{"threshold above one", func(s *AccountSettings) { s.SemanticSimilarityThreshold = 1.5 }},
		{"unknown provider", func(s *AccountSettings) { s.DefaultAIProvider = "gemini" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings("acct-1")
			tc.mutate(s)
			if err := s.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
