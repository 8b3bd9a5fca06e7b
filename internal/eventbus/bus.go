// Package eventbus is a minimal in-process pub/sub used to decouple the
// monitor, dispatcher and plugin layers from observability concerns.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by moverstatus components.
// Data payloads are small structs owned by the publishing package.
const (
	TypePluginLoaded  = "plugin.loaded"
	TypePluginSkipped = "plugin.skipped"

	TypeDispatchCompleted = "dispatch.completed"
	TypeProviderUnhealthy = "provider.unhealthy"
	TypeProviderRecovered = "provider.recovered"

	TypeMoverStarted   = "mover.started"
	TypeMoverProgress  = "mover.progress"
	TypeMoverCompleted = "mover.completed"
)

// Event is a lightweight, in-memory signal.
//
// Publish never blocks; a subscriber whose buffer is full loses the
// event. Data should stay small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: make(map[uint64]*subscriber)}
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

type memBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
}

// Publish fans the event out to every live subscriber. Sends happen
// under the read lock, which keeps them ordered against channel close
// in unsubscribe; they are non-blocking so the lock is never held up.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}
