// Package archiver retires conversations that have gone quiet so contact
// lookups keep resolving to live threads.
package archiver

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/store"
)

const sweepTimeout = 5 * time.Minute

// Archiver periodically archives conversations idle longer than the
// configured window. Archived conversations keep their history; they just
// stop matching active-contact resolution, so the next inbound message from
// that contact starts a fresh thread.
type Archiver struct {
	store    store.Store
	idleDays int
	spec     string
	cron     *cron.Cron
	log      zerolog.Logger
}

func New(s store.Store, idleDays int, cronSpec string, log zerolog.Logger) *Archiver {
	return &Archiver{store: s, idleDays: idleDays, spec: cronSpec, log: log}
}

// Start schedules the sweep and returns. Fails only on an invalid cron spec.
func (a *Archiver) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(a.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := a.Sweep(ctx); err != nil {
			a.log.Error().Stack().Err(err).Msg("idle-conversation sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	a.cron = c
	a.log.Info().Str("cron", a.spec).Int("idleDays", a.idleDays).Msg("archiver scheduled")
	return nil
}

// Stop halts the schedule. A sweep already in flight finishes on its own.
func (a *Archiver) Stop() {
	if a.cron != nil {
		a.cron.Stop()
	}
}

// Sweep archives all idle conversations once and returns how many it caught.
// Exposed for the admin trigger endpoint and tests.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	n, err := a.store.Conversations().ArchiveIdle(ctx, a.idleDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.log.Info().Int("archived", n).Int("idleDays", a.idleDays).Msg("archived idle conversations")
	}
	return n, nil
}
