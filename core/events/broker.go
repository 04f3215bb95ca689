package events

import "sync"

const subscriberBuffer = 16

// Broker fans committed events out to subscribers. Slow subscribers drop
// events rather than block the emitter.
type Broker struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]chan Event)}
}

// Emit implements the Emitter interface.
func (b *Broker) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a new listener. The returned cancel func closes the
// channel and must be called once the subscriber is done.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active listeners.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
