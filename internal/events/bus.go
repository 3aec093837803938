package events

import (
	"log"
	"sync"
)

// Bus is a lightweight pub/sub broker using bounded channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic][]chan any
	dropped map[Topic]uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[Topic][]chan any),
		dropped: make(map[Topic]uint64),
	}
}

// Subscribe registers a listener and returns the channel plus an unsubscribe
// function. The buffer bounds how far the subscriber may lag behind.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans out the payload without blocking the producer. A slow
// subscriber loses the message; back-pressure surfaces as a warning every
// 1000 drops per topic.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			b.dropped[t]++
			if b.dropped[t]%1000 == 1 {
				log.Printf("⚠️ bus: slow subscriber on %s, dropped=%d", t, b.dropped[t])
			}
		}
	}
}

// Dropped reports the cumulative drop count for a topic.
func (b *Bus) Dropped(t Topic) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[t]
}
