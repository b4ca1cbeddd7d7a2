package server

import (
	"context"
	"time"

	"aimtrainer/internal/db"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	batchSize     = 50
	flushInterval = 500 * time.Millisecond
	flushTimeout  = 5 * time.Second
)

type clickStore interface {
	BatchRecordClicks(ctx context.Context, events []db.ClickEvent) error
}

// clickBatchWriter drains buffer into the store, flushing every batchSize
// events or every flushInterval. Whatever is pending is flushed when ctx is
// cancelled.
func clickBatchWriter(ctx context.Context, clock clockwork.Clock, store clickStore, buffer <-chan db.ClickEvent) {
	ticker := clock.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]db.ClickEvent, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := store.BatchRecordClicks(fctx, batch); err != nil {
			log.Warn().Err(err).Int("events", len(batch)).Msg("dropping click batch")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-buffer:
					batch = append(batch, ev)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case ev := <-buffer:
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.Chan():
			flush()
		}
	}
}
