package events

import (
	"sync"

	"aimtrainer/internal/targets"
)

type Type string

const (
	TypeState  = Type("state")
	TypeTarget = Type("target")
	TypeTick   = Type("tick")
	TypeHit    = Type("hit")
	TypeMiss   = Type("miss")
	TypeEnded  = Type("ended")
)

// Event is one change in a round, shaped for direct JSON delivery to clients.
type Event struct {
	Type     Type            `json:"t"`
	Phase    string          `json:"phase,omitempty"`
	Score    int             `json:"score"`
	Misses   int             `json:"misses"`
	TimeLeft int             `json:"timeLeft"`
	Accuracy float64         `json:"accuracy"`
	Target   *targets.Target `json:"target,omitempty"`
}

const busSize = 64

// Bus carries events from a single controller to whoever drains C.
type Bus struct {
	mu     sync.Mutex
	closed bool
	C      chan Event
}

func NewBus() *Bus {
	return &Bus{
		C: make(chan Event, busSize),
	}
}

// Publish never blocks. It reports false when the event was dropped because
// the bus is full or closed.
func (b *Bus) Publish(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.C <- ev:
		return true
	default:
		return false
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.C)
	}
}
