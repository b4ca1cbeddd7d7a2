package targets

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	GameWidth  = 600
	GameHeight = 400
)

func DefaultBounds() Bounds {
	return Bounds{Width: GameWidth, Height: GameHeight}
}

// Placer keeps the single live target of a round and moves it to a fresh
// uniform random spot on every Place call.
type Placer struct {
	mu      sync.Mutex
	rng     *rand.Rand
	bounds  Bounds
	current *Target
	nextID  int
}

// NewPlacer returns a placer for the given area. A nil rng uses a randomly
// seeded generator.
func NewPlacer(bounds Bounds, rng *rand.Rand) *Placer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Placer{
		rng:    rng,
		bounds: bounds,
		nextID: 1,
	}
}

func (p *Placer) Bounds() Bounds {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bounds
}

func (p *Placer) Resize(b Bounds) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bounds = b
}

// Place draws a new position for a target of the given diameter and makes it
// the current target. Every placement gets a new ID.
func (p *Placer) Place(size int, now time.Time) Target {
	p.mu.Lock()
	defer p.mu.Unlock()

	maxX := p.bounds.Width - float64(size)
	maxY := p.bounds.Height - float64(size)
	// A target wider than the area pins that axis to the origin.
	if maxX < 0 {
		maxX = 0
	}
	if maxY < 0 {
		maxY = 0
	}

	t := &Target{
		ID:       p.nextID,
		X:        p.rng.Float64() * maxX,
		Y:        p.rng.Float64() * maxY,
		Size:     size,
		PlacedAt: now,
	}
	p.nextID++
	p.current = t
	return *t
}

func (p *Placer) Current() (Target, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Target{}, false
	}
	return *p.current, true
}

func (p *Placer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}
