package broadcast

import (
	"sync"

	"aimtrainer/internal/events"
)

const subscriberBuffer = 32

type Broadcaster struct {
	Mu      sync.Mutex
	Clients map[chan events.Event]bool
}

// NewBroadcaster drains bus into every subscriber until the bus is closed.
func NewBroadcaster(bus *events.Bus) *Broadcaster {
	b := &Broadcaster{
		Clients: make(map[chan events.Event]bool),
	}
	go func() {
		for ev := range bus.C {
			b.Broadcast(ev)
		}
		b.closeAll()
	}()
	return b
}

func (b *Broadcaster) Subscribe() chan events.Event {
	ch := make(chan events.Event, subscriberBuffer)
	b.Mu.Lock()
	b.Clients[ch] = true
	b.Mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan events.Event) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if _, ok := b.Clients[ch]; ok {
		delete(b.Clients, ch)
		close(ch)
	}
}

func (b *Broadcaster) Broadcast(ev events.Event) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients {
		select {
		case ch <- ev:
		default:
			// skip clients with full data channels
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients {
		delete(b.Clients, ch)
		close(ch)
	}
}
