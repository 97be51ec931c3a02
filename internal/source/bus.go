package source

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// EventType names a dataset notification.
type EventType string

const (
	// EventDataLoaded follows every successful resolution or refresh.
	EventDataLoaded EventType = "data_loaded"

	// EventProjectChanged follows a project create, update or delete.
	EventProjectChanged EventType = "project_changed"

	// EventTaskChanged follows a task create, update, move or delete.
	EventTaskChanged EventType = "task_changed"
)

// Event is published on the Bus after the engine changes its dataset.
type Event struct {
	ID        string     `json:"id"`
	Type      EventType  `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Mode      types.Mode `json:"mode"`
	FromCache bool       `json:"fromCache"`
	ProjectID string     `json:"projectId,omitempty"`
	TaskID    string     `json:"taskId,omitempty"`
	Action    string     `json:"action,omitempty"`
	Partial   bool       `json:"partial,omitempty"`
}

// Notifier receives engine events.
type Notifier interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Slow subscribers lose events rather
// than block the engine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

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

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
