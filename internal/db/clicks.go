package db

import (
	"context"
	"fmt"
	"time"
)

type ClickEvent struct {
	SessionID  string
	ProfileID  string
	Kind       string
	TargetID   int
	TargetX    float64
	TargetY    float64
	TargetSize int
	ReactionMs int
	ClickedAt  time.Time
}

const insertClick = `
	INSERT INTO click_events (session_id, profile_id, kind, target_id, target_x, target_y, target_size, reaction_ms, clicked_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func (d *DB) RecordClick(ctx context.Context, ev ClickEvent) error {
	_, err := d.Exec(ctx, insertClick,
		ev.SessionID, ev.ProfileID, ev.Kind, ev.TargetID, ev.TargetX, ev.TargetY, ev.TargetSize, ev.ReactionMs, ev.ClickedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording click: %w", err)
	}
	return nil
}

func (d *DB) BatchRecordClicks(ctx context.Context, events []ClickEvent) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, d.rebind(insertClick))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, ev.SessionID, ev.ProfileID, ev.Kind, ev.TargetID, ev.TargetX, ev.TargetY,
			ev.TargetSize, ev.ReactionMs, ev.ClickedAt.UTC()); err != nil {
			return fmt.Errorf("recording click in batch: %w", err)
		}
	}
	return tx.Commit()
}

func (d *DB) CountClicks(ctx context.Context, sessionID string) (hits, misses int, err error) {
	err = d.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'hit' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'miss' THEN 1 ELSE 0 END), 0)
		FROM click_events WHERE session_id = $1
	`, sessionID).Scan(&hits, &misses)
	if err != nil {
		return 0, 0, fmt.Errorf("counting clicks: %w", err)
	}
	return hits, misses, nil
}
