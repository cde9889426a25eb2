// Package eventbus fans tick lifecycle events out to in-process listeners
// (admin status, operator notices) without coupling them to the runner.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TickFinished = "tick.finished"
	TickAborted  = "tick.aborted"
	ConfigReload = "config.reloaded"
)

// Event is a small in-memory signal. Data is owned by the publisher and
// must not be mutated by subscribers.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks Publish: a subscriber whose buffer is full misses the
// event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock excludes Publish, so the close cannot
			// race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
