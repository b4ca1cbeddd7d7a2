package events

import "testing"

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("NewBus() returned nil")
	}
	if bus.C == nil {
		t.Fatal("C channel is nil")
	}
	if cap(bus.C) != busSize {
		t.Errorf("C capacity = %d, want %d", cap(bus.C), busSize)
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	if !bus.Publish(Event{Type: TypeTick, TimeLeft: 9}) {
		t.Fatal("Publish() = false on empty bus")
	}

	ev := <-bus.C
	if ev.Type != TypeTick || ev.TimeLeft != 9 {
		t.Errorf("got %+v, want tick with TimeLeft 9", ev)
	}
}

func TestBus_PublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	for range busSize {
		bus.Publish(Event{Type: TypeMiss})
	}

	// Should not block
	if bus.Publish(Event{Type: TypeHit}) {
		t.Error("Publish() = true on full bus, want drop")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	bus.Close()
	bus.Close()

	if bus.Publish(Event{Type: TypeTick}) {
		t.Error("Publish() after Close() should report a drop")
	}
	if _, ok := <-bus.C; ok {
		t.Error("C should be closed")
	}
}
