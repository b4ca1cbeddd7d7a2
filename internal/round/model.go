package round

import (
	"context"
	"time"

	"aimtrainer/internal/settings"
	"aimtrainer/internal/targets"
)

type Phase string

const (
	PhaseIdle    = Phase("idle")
	PhasePlaying = Phase("playing")
	PhaseEnded   = Phase("ended")
)

type ClickKind string

const (
	ClickHit  = ClickKind("hit")
	ClickMiss = ClickKind("miss")
)

// Record is the final tally of a round, written once when the countdown
// reaches zero.
type Record struct {
	ID        string
	ProfileID string
	Score     int
	Misses    int
	Accuracy  float64
	Settings  settings.Settings
	StartedAt time.Time
	EndedAt   time.Time
}

type Click struct {
	RoundID    string
	ProfileID  string
	Kind       ClickKind
	Target     targets.Target
	ReactionMs int
	ClickedAt  time.Time
}

// Recorder receives finished rounds and individual clicks. RecordClick is
// called with the controller locked and must not block.
type Recorder interface {
	RecordSession(ctx context.Context, rec Record) error
	RecordClick(c Click)
}

type Snapshot struct {
	Phase    Phase             `json:"phase"`
	Score    int               `json:"score"`
	Misses   int               `json:"misses"`
	TimeLeft int               `json:"timeLeft"`
	Accuracy float64           `json:"accuracy"`
	Target   *targets.Target   `json:"target,omitempty"`
	Settings settings.Settings `json:"settings"`
}

// Accuracy is the hit percentage, 0 when nothing was clicked.
func Accuracy(score, misses int) float64 {
	total := score + misses
	if total == 0 {
		return 0
	}
	return float64(score) / float64(total) * 100
}
