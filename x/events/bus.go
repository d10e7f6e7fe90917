// Package events publishes domain events to in-process subscribers and keeps
// a bounded journal that remote clients can replay.
package events

import (
	"fmt"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// AllTopics receives every published record.
const AllTopics = "*"

// Event is anything with a topic.
type Event interface {
	Topic() string
}

// Record is a journaled event.
type Record struct {
	Seq   uint64    `json:"seq"`
	Time  time.Time `json:"time"`
	Topic string    `json:"topic"`
	Event Event     `json:"event"`
}

// Handler consumes records. Handlers run synchronously on the publishing
// goroutine and must not publish.
type Handler func(Record)

// Bus fans records out over an evbus.Bus and journals them.
type Bus struct {
	mu      sync.Mutex
	bus     evbus.Bus
	journal *Journal
	now     func() time.Time
}

// NewBus creates a bus whose journal keeps capacity records.
func NewBus(capacity int) *Bus {
	return &Bus{
		bus:     evbus.New(),
		journal: NewJournal(capacity),
		now:     time.Now,
	}
}

// Publish journals e and delivers it to topic and AllTopics subscribers.
// Delivery order matches sequence order.
func (b *Bus) Publish(e Event) Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.journal.Append(e, b.now().UTC())
	b.bus.Publish(rec.Topic, rec)
	b.bus.Publish(AllTopics, rec)
	return rec
}

// Subscribe registers h for topic, or for everything with AllTopics.
func (b *Bus) Subscribe(topic string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if err := b.bus.Subscribe(topic, h); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Journal exposes the replay log.
func (b *Bus) Journal() *Journal {
	return b.journal
}
