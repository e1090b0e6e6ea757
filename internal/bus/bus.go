package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Publish never blocks: a subscriber whose buffer is full misses the event
// and its drop counter is incremented.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
	seq  atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
	dropped   atomic.Uint64
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends evt to every subscriber whose namespace is a prefix of
// evt.Kind and returns the sequence number assigned to it. Safe on a nil Bus.
func (b *Bus) Publish(evt Event) uint64 {
	if b == nil {
		return 0
	}
	evt.Seq = b.seq.Add(1)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
	return evt.Seq
}

// Subscription is a live subscription returned by Subscribe.
type Subscription struct {
	C <-chan Event

	sub   *subscription
	close func()
}

// Dropped reports how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.sub.dropped.Load()
}

// Close unsubscribes. C is not closed, so pending events stay readable.
func (s *Subscription) Close() {
	s.close()
}

// Subscribe returns a subscription receiving events whose kind starts with
// namespace. bufSize controls the channel buffer.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	sub := &subscription{namespace: namespace, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return &Subscription{
		C:   sub.ch,
		sub: sub,
		close: func() {
			once.Do(func() {
				b.mu.Lock()
				delete(b.subs, id)
				b.mu.Unlock()
			})
		},
	}
}
