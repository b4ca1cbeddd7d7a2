package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aimtrainer/internal/settings"
)

// GetSettings reads the stored settings for a profile, clamped into range.
func (d *DB) GetSettings(ctx context.Context, profileID string) (settings.Settings, error) {
	var s settings.Settings
	err := d.QueryRow(ctx, `
		SELECT target_size, target_speed, game_time FROM user_settings WHERE profile_id = $1
	`, profileID).Scan(&s.TargetSize, &s.TargetSpeed, &s.GameTime)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Settings{}, fmt.Errorf("getting settings for %s: %w", profileID, ErrNotFound)
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("getting settings: %w", err)
	}
	return s.Clamp(), nil
}

func (d *DB) SaveSettings(ctx context.Context, profileID string, s settings.Settings) error {
	_, err := d.Exec(ctx, `
		INSERT INTO user_settings (profile_id, target_size, target_speed, game_time, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_id) DO UPDATE
		SET target_size = $2, target_speed = $3, game_time = $4, updated_at = $5
	`, profileID, s.TargetSize, s.TargetSpeed, s.GameTime, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
