package round

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"aimtrainer/internal/events"
	"aimtrainer/internal/metrics"
	"aimtrainer/internal/settings"
	"aimtrainer/internal/targets"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const defaultPersistTimeout = 5 * time.Second

type Options struct {
	ProfileID      string
	Settings       settings.Settings
	Bounds         targets.Bounds
	Clock          clockwork.Clock
	Rand           *rand.Rand
	Bus            *events.Bus
	Recorder       Recorder
	Metrics        *metrics.Metrics
	PersistTimeout time.Duration
}

// Controller runs one player's rounds. Ticks and clicks all serialize on mu,
// so state only ever changes one event at a time.
type Controller struct {
	mu             sync.Mutex
	profileID      string
	clock          clockwork.Clock
	placer         *targets.Placer
	bus            *events.Bus
	recorder       Recorder
	metrics        *metrics.Metrics
	persistTimeout time.Duration

	settings  settings.Settings
	pending   *settings.Settings
	phase     Phase
	score     int
	misses    int
	timeLeft  int
	roundID   string
	startedAt time.Time

	// gen is bumped on every start, end and close so ticks from a
	// superseded round are ignored.
	gen    uint64
	cancel context.CancelFunc
}

func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Settings == (settings.Settings{}) {
		opts.Settings = settings.Default()
	}
	if opts.Bounds == (targets.Bounds{}) {
		opts.Bounds = targets.DefaultBounds()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	return &Controller{
		profileID:      opts.ProfileID,
		clock:          opts.Clock,
		placer:         targets.NewPlacer(opts.Bounds, opts.Rand),
		bus:            opts.Bus,
		recorder:       opts.Recorder,
		metrics:        opts.Metrics,
		persistTimeout: opts.PersistTimeout,
		settings:       opts.Settings,
		phase:          PhaseIdle,
		timeLeft:       opts.Settings.GameTime,
	}
}

func (c *Controller) Bus() *events.Bus {
	return c.bus
}

func (c *Controller) ProfileID() string {
	return c.profileID
}

// StartGame begins a fresh round, abandoning any round in progress.
func (c *Controller) StartGame() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	if c.pending != nil {
		c.settings = *c.pending
		c.pending = nil
	}

	c.gen++
	c.phase = PhasePlaying
	c.score = 0
	c.misses = 0
	c.timeLeft = c.settings.GameTime
	c.roundID = uuid.NewString()
	c.startedAt = c.clock.Now()
	c.placer.Place(c.settings.TargetSize, c.startedAt)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	countdown := c.clock.NewTicker(time.Second)
	mover := c.clock.NewTicker(c.settings.MoveInterval())
	go c.run(ctx, c.gen, countdown, mover)

	c.metrics.RoundStarted()
	log.Debug().
		Str("profile_id", c.profileID).
		Str("session_id", c.roundID).
		Int("game_time", c.settings.GameTime).
		Msg("round started")

	c.publishLocked(events.TypeState)
	return c.snapshotLocked()
}

// OnTargetHit scores a hit on the current target and moves it.
func (c *Controller) OnTargetHit() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhasePlaying {
		c.hitLocked()
	}
	return c.snapshotLocked()
}

func (c *Controller) OnMiss() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhasePlaying {
		c.missLocked()
	}
	return c.snapshotLocked()
}

// Click resolves a click that names a target. Only the current target counts
// as a hit; a click on a target that has already moved is a miss.
func (c *Controller) Click(targetID int) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhasePlaying {
		return c.snapshotLocked()
	}
	if cur, ok := c.placer.Current(); ok && cur.ID == targetID {
		c.hitLocked()
	} else {
		c.missLocked()
	}
	return c.snapshotLocked()
}

// Resize changes the play area. A live target that no longer fits is
// re-placed.
func (c *Controller) Resize(b targets.Bounds) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placer.Resize(b)
	if cur, ok := c.placer.Current(); ok && c.phase == PhasePlaying {
		size := float64(cur.Size)
		if cur.X+size > b.Width || cur.Y+size > b.Height {
			c.placer.Place(c.settings.TargetSize, c.clock.Now())
			c.publishLocked(events.TypeTarget)
		}
	}
	return c.snapshotLocked()
}

// SetSettings applies s now, or at the next StartGame when a round is
// running.
func (c *Controller) SetSettings(s settings.Settings) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhasePlaying {
		c.pending = &s
		return c.snapshotLocked()
	}
	c.settings = s
	c.pending = nil
	if c.phase == PhaseIdle {
		c.timeLeft = s.GameTime
	}
	c.publishLocked(events.TypeState)
	return c.snapshotLocked()
}

// Settings returns the settings the next round will use.
func (c *Controller) Settings() settings.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return *c.pending
	}
	return c.settings
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close stops both timers. A round cut short by Close is not recorded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
}

func (c *Controller) run(ctx context.Context, gen uint64, countdown, mover clockwork.Ticker) {
	defer countdown.Stop()
	defer mover.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-countdown.Chan():
			if done := c.tick(gen); done {
				return
			}
		case <-mover.Chan():
			c.moveTarget(gen)
		}
	}
}

// tick counts one second down. It reports true once the round is over.
func (c *Controller) tick(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.phase != PhasePlaying {
		c.mu.Unlock()
		return true
	}

	c.timeLeft--
	if c.timeLeft > 0 {
		c.publishLocked(events.TypeTick)
		c.mu.Unlock()
		return false
	}

	c.timeLeft = 0
	c.phase = PhaseEnded
	c.placer.Clear()
	c.stopLocked()
	c.gen++
	rec := c.recordLocked()
	c.metrics.RoundEnded()
	c.publishLocked(events.TypeTick)
	c.publishLocked(events.TypeEnded)
	c.mu.Unlock()

	log.Info().
		Str("profile_id", rec.ProfileID).
		Str("session_id", rec.ID).
		Int("score", rec.Score).
		Int("misses", rec.Misses).
		Float64("accuracy", rec.Accuracy).
		Msg("round ended")

	go c.persist(rec)
	return true
}

func (c *Controller) moveTarget(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.phase != PhasePlaying {
		return
	}
	c.placer.Place(c.settings.TargetSize, c.clock.Now())
	c.publishLocked(events.TypeTarget)
}

func (c *Controller) hitLocked() {
	now := c.clock.Now()
	if cur, ok := c.placer.Current(); ok {
		c.recordClickLocked(ClickHit, cur, now)
	}
	c.score++
	c.placer.Place(c.settings.TargetSize, now)
	c.metrics.Hit()
	c.publishLocked(events.TypeHit)
}

func (c *Controller) missLocked() {
	now := c.clock.Now()
	cur, _ := c.placer.Current()
	c.recordClickLocked(ClickMiss, cur, now)
	c.misses++
	c.metrics.Miss()
	c.publishLocked(events.TypeMiss)
}

func (c *Controller) recordClickLocked(kind ClickKind, t targets.Target, now time.Time) {
	if c.recorder == nil {
		return
	}
	reaction := 0
	if !t.PlacedAt.IsZero() {
		reaction = int(now.Sub(t.PlacedAt).Milliseconds())
	}
	c.recorder.RecordClick(Click{
		RoundID:    c.roundID,
		ProfileID:  c.profileID,
		Kind:       kind,
		Target:     t,
		ReactionMs: reaction,
		ClickedAt:  now,
	})
}

func (c *Controller) persist(rec Record) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()
	if err := c.recorder.RecordSession(ctx, rec); err != nil {
		log.Warn().
			Err(err).
			Str("profile_id", rec.ProfileID).
			Str("session_id", rec.ID).
			Msg("dropping session record")
	}
}

func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) recordLocked() Record {
	return Record{
		ID:        c.roundID,
		ProfileID: c.profileID,
		Score:     c.score,
		Misses:    c.misses,
		Accuracy:  Accuracy(c.score, c.misses),
		Settings:  c.settings,
		StartedAt: c.startedAt,
		EndedAt:   c.clock.Now(),
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:    c.phase,
		Score:    c.score,
		Misses:   c.misses,
		TimeLeft: c.timeLeft,
		Accuracy: Accuracy(c.score, c.misses),
		Settings: c.settings,
	}
	if cur, ok := c.placer.Current(); ok && c.phase == PhasePlaying {
		s.Target = &cur
	}
	return s
}

func (c *Controller) publishLocked(t events.Type) {
	ev := events.Event{
		Type:     t,
		Phase:    string(c.phase),
		Score:    c.score,
		Misses:   c.misses,
		TimeLeft: c.timeLeft,
		Accuracy: Accuracy(c.score, c.misses),
	}
	if cur, ok := c.placer.Current(); ok && c.phase == PhasePlaying {
		ev.Target = &cur
	}
	if !c.bus.Publish(ev) {
		log.Debug().Str("profile_id", c.profileID).Str("event", string(t)).Msg("event dropped")
	}
}
