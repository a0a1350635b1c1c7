package event

import (
	"testing"
	"time"
)

func TestBusRoundTrip(t *testing.T) {
	t.Parallel()

	b := &bus{q: make(chan Queueable, 2)}
	first := CreateBase("a", time.Now().Add(time.Hour))
	second := CreateBase("b", time.Now().Add(time.Hour))

	b.NQ(first)
	b.NQ(second)
	if got := b.DQ(); got == nil || got.Type() != "a" {
		t.Fatalf("DQ() = %v, want first event", got)
	}
	if got := b.DQ(); got == nil || got.Type() != "b" {
		t.Fatalf("DQ() = %v, want second event", got)
	}
	if got := b.DQ(); got != nil {
		t.Fatalf("DQ() on empty queue = %v", got)
	}
}

func TestBusOverflowDrops(t *testing.T) {
	t.Parallel()

	b := &bus{q: make(chan Queueable, 1)}
	b.NQ(CreateBase("a", time.Now().Add(time.Hour)))
	b.NQ(CreateBase("b", time.Now().Add(time.Hour)))

	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	if got := b.DQ(); got == nil || got.Type() != "a" {
		t.Fatalf("DQ() = %v, want surviving event", got)
	}
}

func TestWorkerRoutesToSubscriber(t *testing.T) {
	received := make(chan Queueable, 1)
	Subscribe("routing_ping", func(ev Queueable) {
		ev.Process()
		received <- ev
	})
	cancel := RunWorker()
	defer cancel()

	Bus.NQ(CreateBase("routing_ping", time.Now().Add(time.Hour)))

	select {
	case ev := <-received:
		if !ev.IsProcessed() {
			t.Fatal("event not marked processed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never ran")
	}
}
