package event

import (
	"sync/atomic"
	"time"
)

const queueCapacity = 65536

type (
	bus struct {
		q       chan Queueable
		dropped atomic.Int64
	}

	// Queueable is anything the worker can route to subscribers.
	Queueable interface {
		Process()
		IsProcessed() bool
		Drop()
		IsDropped() bool
		Expired() bool
		Type() string
	}

	// Base carries the bookkeeping shared by all event types. Embed it
	// and set the type and expiry through CreateBase.
	Base struct {
		processed bool
		dropped   bool
		expireAt  time.Time
		eventType string
	}
)

// Bus is the process-wide moderation event queue.
var Bus = &bus{q: make(chan Queueable, queueCapacity)}

// NQ enqueues without blocking the caller. A full queue drops the
// event; every queued payload must be reconstructible from the store.
func (b *bus) NQ(event Queueable) {
	select {
	case b.q <- event:
	default:
		b.dropped.Add(1)
	}
}

// DQ pops one event, nil when the queue is empty.
func (b *bus) DQ() Queueable {
	select {
	case q := <-b.q:
		return q
	default:
		return nil
	}
}

// Dropped reports how many events were lost to queue overflow.
func (b *bus) Dropped() int64 {
	return b.dropped.Load()
}

func CreateBase(eventType string, expiresAt time.Time) *Base {
	return &Base{
		expireAt:  expiresAt,
		eventType: eventType,
	}
}

func (b *Base) Process() {
	b.processed = true
}

func (b *Base) IsProcessed() bool {
	return b.processed
}

func (b *Base) Drop() {
	b.dropped = true
}

func (b *Base) IsDropped() bool {
	return b.dropped
}

func (b *Base) Expired() bool {
	return time.Until(b.expireAt) < 0
}

func (b *Base) Type() string {
	return b.eventType
}
