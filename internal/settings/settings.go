package settings

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinTargetSize  = 20
	MaxTargetSize  = 80
	MinTargetSpeed = 500 // milliseconds
	MaxTargetSpeed = 2000
	MinGameTime    = 10 // seconds
	MaxGameTime    = 60
)

var ErrOutOfRange = errors.New("setting out of range")

// Settings are the per-profile knobs for a round. A running round keeps the
// copy it was started with.
type Settings struct {
	TargetSize  int `json:"targetSize" yaml:"target_size" toml:"target_size"`
	TargetSpeed int `json:"targetSpeed" yaml:"target_speed" toml:"target_speed"`
	GameTime    int `json:"gameTime" yaml:"game_time" toml:"game_time"`
}

func Default() Settings {
	return Settings{
		TargetSize:  40,
		TargetSpeed: 1000,
		GameTime:    30,
	}
}

func (s Settings) Validate() error {
	if s.TargetSize < MinTargetSize || s.TargetSize > MaxTargetSize {
		return fmt.Errorf("targetSize %d not in [%d, %d]: %w", s.TargetSize, MinTargetSize, MaxTargetSize, ErrOutOfRange)
	}
	if s.TargetSpeed < MinTargetSpeed || s.TargetSpeed > MaxTargetSpeed {
		return fmt.Errorf("targetSpeed %d not in [%d, %d]: %w", s.TargetSpeed, MinTargetSpeed, MaxTargetSpeed, ErrOutOfRange)
	}
	if s.GameTime < MinGameTime || s.GameTime > MaxGameTime {
		return fmt.Errorf("gameTime %d not in [%d, %d]: %w", s.GameTime, MinGameTime, MaxGameTime, ErrOutOfRange)
	}
	return nil
}

// Clamp pulls every field into its allowed range. Used for values that come
// from storage or a config file rather than from a player.
func (s Settings) Clamp() Settings {
	return Settings{
		TargetSize:  clamp(s.TargetSize, MinTargetSize, MaxTargetSize),
		TargetSpeed: clamp(s.TargetSpeed, MinTargetSpeed, MaxTargetSpeed),
		GameTime:    clamp(s.GameTime, MinGameTime, MaxGameTime),
	}
}

func (s Settings) MoveInterval() time.Duration {
	return time.Duration(s.TargetSpeed) * time.Millisecond
}

func (s Settings) RoundDuration() time.Duration {
	return time.Duration(s.GameTime) * time.Second
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
