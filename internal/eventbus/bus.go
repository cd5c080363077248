package eventbus

import "sync"

// Bus is a bounded-capacity broadcast channel. Emit never blocks: a
// subscriber whose buffer is full simply misses the event, mirroring the
// capacity policy of a tokio broadcast channel. Emitting with no
// subscribers is a legitimate, silent no-op.
type Bus struct {
	mu          sync.Mutex
	capacity    int
	subscribers map[int]chan Event
	nextID      int
}

const defaultCapacity = 256

// New creates a Bus. A non-positive capacity falls back to 256.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		capacity:    capacity,
		subscribers: make(map[int]chan Event),
	}
}

// Emit broadcasts an event to all current subscribers. Full subscriber
// buffers are skipped rather than blocking the emitter.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscription is a live receiver returned by Subscribe.
type Subscription struct {
	Events <-chan Event
	bus    *Bus
	id     int
}

// Unsubscribe stops delivery and releases the subscriber's buffer. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(ch)
	}
}

// Subscribe returns a Subscription that observes every event emitted after
// this call until Unsubscribe is called.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.capacity)
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	return &Subscription{Events: ch, bus: b, id: id}
}

// SubscriberCount reports the number of live subscriptions, mainly for tests
// and the CacheStatus/diagnostics surface.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
