package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Profile struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

func (d *DB) UpsertProfile(ctx context.Context, id, username string) error {
	now := time.Now().UTC()
	_, err := d.Exec(ctx, `
		INSERT INTO profiles (id, username, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET username = $2, updated_at = $3
	`, id, username, now)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

func (d *DB) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	var username sql.NullString
	err := d.QueryRow(ctx, `
		SELECT id, username, created_at FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &username, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	p.Username = username.String
	return &p, nil
}
