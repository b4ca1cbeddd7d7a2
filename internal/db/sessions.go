package db

import (
	"context"
	"fmt"
	"time"

	"aimtrainer/internal/settings"
)

type SessionRecord struct {
	ID        string
	ProfileID string
	Score     int
	Misses    int
	Accuracy  float64
	Settings  settings.Settings
	StartedAt time.Time
	CreatedAt time.Time
}

func (d *DB) InsertSession(ctx context.Context, rec SessionRecord) error {
	_, err := d.Exec(ctx, `
		INSERT INTO game_sessions
			(id, profile_id, score, misses, accuracy, target_size, target_speed, game_time, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.ProfileID, rec.Score, rec.Misses, rec.Accuracy,
		rec.Settings.TargetSize, rec.Settings.TargetSpeed, rec.Settings.GameTime,
		rec.StartedAt.UTC(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// RecentSessions lists a profile's sessions, newest first.
func (d *DB) RecentSessions(ctx context.Context, profileID string, limit int) ([]SessionRecord, error) {
	rows, err := d.Query(ctx, `
		SELECT id, profile_id, score, misses, accuracy, target_size, target_speed, game_time, started_at, created_at
		FROM game_sessions
		WHERE profile_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.Score, &r.Misses, &r.Accuracy,
			&r.Settings.TargetSize, &r.Settings.TargetSpeed, &r.Settings.GameTime,
			&r.StartedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return out, nil
}
