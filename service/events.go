package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabianferno/blindmatch/models"
)

// EventBus fans notifications out to subscribers over buffered channels.
// Publishing never blocks a core operation: a subscriber whose buffer is
// full misses the event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan models.Event
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]chan models.Event),
	}
}

// Subscribe registers a listener with the given buffer size and returns
// its channel plus an unsubscribe function. The channel is closed on
// unsubscribe.
func (eb *EventBus) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	id := uuid.New().String()
	ch := make(chan models.Event, buffer)

	eb.mu.Lock()
	eb.subscribers[id] = ch
	eb.mu.Unlock()

	cancel := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if existing, ok := eb.subscribers[id]; ok {
			delete(eb.subscribers, id)
			close(existing)
		}
	}

	return ch, cancel
}

// Publish stamps the event with an id and timestamp and delivers it to
// every subscriber that has room.
func (eb *EventBus) Publish(event models.Event) {
	event.ID = uuid.New().String()
	event.Timestamp = time.Now()

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
