package server

import (
	"context"
	"errors"

	"aimtrainer/internal/db"
	"aimtrainer/internal/metrics"
	"aimtrainer/internal/publish"
	"aimtrainer/internal/round"

	"github.com/rs/zerolog/log"
)

type sessionStore interface {
	InsertSession(ctx context.Context, rec db.SessionRecord) error
}

type sessionPublisher interface {
	PublishSession(ctx context.Context, msg publish.SessionEnded) error
}

// sessionRecorder sends finished rounds to the database and NATS, and queues
// clicks for the batch writer. Any sink may be nil.
type sessionRecorder struct {
	store     sessionStore
	publisher sessionPublisher
	clicks    chan<- db.ClickEvent
	metrics   *metrics.Metrics
}

func (s *Server) recorder() *sessionRecorder {
	r := &sessionRecorder{metrics: s.Metrics}
	if s.DB != nil {
		r.store = s.DB
		r.clicks = s.ClickBuffer
	}
	if s.Publisher != nil {
		r.publisher = s.Publisher
	}
	return r
}

func (r *sessionRecorder) RecordSession(ctx context.Context, rec round.Record) error {
	var errs []error
	if r.store != nil {
		err := r.store.InsertSession(ctx, db.SessionRecord{
			ID:        rec.ID,
			ProfileID: rec.ProfileID,
			Score:     rec.Score,
			Misses:    rec.Misses,
			Accuracy:  rec.Accuracy,
			Settings:  rec.Settings,
			StartedAt: rec.StartedAt,
			CreatedAt: rec.EndedAt,
		})
		if err != nil {
			r.metrics.PersistFailed("db")
			errs = append(errs, err)
		}
	}
	if r.publisher != nil {
		err := r.publisher.PublishSession(ctx, publish.SessionEnded{
			SessionID:   rec.ID,
			ProfileID:   rec.ProfileID,
			Score:       rec.Score,
			Misses:      rec.Misses,
			Accuracy:    rec.Accuracy,
			TargetSize:  rec.Settings.TargetSize,
			TargetSpeed: rec.Settings.TargetSpeed,
			GameTime:    rec.Settings.GameTime,
			StartedAt:   rec.StartedAt,
			EndedAt:     rec.EndedAt,
		})
		if err != nil {
			r.metrics.PersistFailed("nats")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordClick never blocks; clicks are dropped when the buffer is full.
func (r *sessionRecorder) RecordClick(c round.Click) {
	if r.clicks == nil {
		return
	}
	select {
	case r.clicks <- db.ClickEvent{
		SessionID:  c.RoundID,
		ProfileID:  c.ProfileID,
		Kind:       string(c.Kind),
		TargetID:   c.Target.ID,
		TargetX:    c.Target.X,
		TargetY:    c.Target.Y,
		TargetSize: c.Target.Size,
		ReactionMs: c.ReactionMs,
		ClickedAt:  c.ClickedAt,
	}:
	default:
		r.metrics.ClickDropped()
		log.Debug().Str("profile_id", c.ProfileID).Msg("click buffer full, dropping event")
	}
}
