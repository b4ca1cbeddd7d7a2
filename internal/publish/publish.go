package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// SessionEnded is the message body published for every finished round.
type SessionEnded struct {
	SessionID   string    `json:"session_id"`
	ProfileID   string    `json:"profile_id"`
	Score       int       `json:"score"`
	Misses      int       `json:"misses"`
	Accuracy    float64   `json:"accuracy"`
	TargetSize  int       `json:"target_size"`
	TargetSpeed int       `json:"target_speed"`
	GameTime    int       `json:"game_time"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

type Publisher struct {
	nc      *nats.Conn
	subject string
}

func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("aimtrainer"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

func (p *Publisher) Subject() string {
	return p.subject
}

// PublishSession sends msg and waits for the server to acknowledge the
// flush, bounded by ctx.
func (p *Publisher) PublishSession(ctx context.Context, msg SessionEnded) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing session: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing session: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.nc.Close()
}
