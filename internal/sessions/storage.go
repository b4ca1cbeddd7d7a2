package sessions

import (
	"sync"
	"time"

	"aimtrainer/internal/broadcast"
	"aimtrainer/internal/events"
	"aimtrainer/internal/metrics"
	"aimtrainer/internal/round"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const sweepInterval = 5 * time.Minute

// Factory builds the controller for a new session. The controller must
// publish on bus.
type Factory func(profileID string, bus *events.Bus) *round.Controller

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	lastSeen map[string]time.Time
	factory  Factory
	clock    clockwork.Clock
	ttl      time.Duration
	metrics  *metrics.Metrics
	done     chan struct{}
	once     sync.Once
}

func NewStore(factory Factory, ttl time.Duration, clock clockwork.Clock, m *metrics.Metrics) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
		factory:  factory,
		clock:    clock,
		ttl:      ttl,
		metrics:  m,
		done:     make(chan struct{}),
	}
	go s.sweepStale()
	return s
}

// GetOrCreate returns the profile's session, building one on first use. The
// factory runs without the store lock held since it may hit the database.
func (s *Store) GetOrCreate(profileID string) *Session {
	if sess := s.Get(profileID); sess != nil {
		return sess
	}

	bus := events.NewBus()
	sess := &Session{
		ProfileID:   profileID,
		Controller:  s.factory(profileID, bus),
		Broadcaster: broadcast.NewBroadcaster(bus),
		CreatedAt:   s.clock.Now(),
	}

	s.mu.Lock()
	if existing, ok := s.sessions[profileID]; ok {
		s.lastSeen[profileID] = s.clock.Now()
		s.mu.Unlock()
		sess.close()
		return existing
	}
	s.sessions[profileID] = sess
	s.lastSeen[profileID] = s.clock.Now()
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SetLiveSessions(n)
	log.Debug().Str("profile_id", profileID).Msg("session created")
	return sess
}

// Get returns the live session for the profile, or nil, and marks it as
// recently used.
func (s *Store) Get(profileID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[profileID]
	if !ok {
		return nil
	}
	s.lastSeen[profileID] = s.clock.Now()
	return sess
}

func (s *Store) Delete(profileID string) {
	s.mu.Lock()
	sess, ok := s.sessions[profileID]
	delete(s.sessions, profileID)
	delete(s.lastSeen, profileID)
	n := len(s.sessions)
	s.mu.Unlock()

	if ok {
		sess.close()
		s.metrics.SetLiveSessions(n)
	}
}

func (s *Store) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	return list
}

// Sweep closes sessions idle for longer than the TTL and returns how many it
// removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.clock.Now()
	var stale []*Session
	for id, sess := range s.sessions {
		if now.Sub(s.lastSeen[id]) > s.ttl {
			stale = append(stale, sess)
			delete(s.sessions, id)
			delete(s.lastSeen, id)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range stale {
		sess.close()
	}
	if len(stale) > 0 {
		s.metrics.SetLiveSessions(n)
		log.Info().Int("removed", len(stale)).Int("live", n).Msg("swept idle sessions")
	}
	return len(stale)
}

// Close stops the sweeper and tears down every session.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.lastSeen = make(map[string]time.Time)
	s.mu.Unlock()
	for _, sess := range all {
		sess.close()
	}
	s.metrics.SetLiveSessions(0)
}

func (s *Store) sweepStale() {
	ticker := s.clock.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}
