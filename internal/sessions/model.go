package sessions

import (
	"time"

	"aimtrainer/internal/broadcast"
	"aimtrainer/internal/round"
)

// Session is one profile's live game: its controller and the fan-out of the
// controller's events.
type Session struct {
	ProfileID   string
	Controller  *round.Controller
	Broadcaster *broadcast.Broadcaster
	CreatedAt   time.Time
}

func (s *Session) close() {
	s.Controller.Close()
	s.Controller.Bus().Close()
}
