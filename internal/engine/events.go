package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/stemcast/stemcast/internal/stem"
)

// EventType tags engine notifications for UI collaborators.
type EventType string

const (
	EventPlayState    EventType = "play-state"
	EventLoadProgress EventType = "load-progress"
	EventLoadError    EventType = "load-error"
	EventPlayhead     EventType = "playhead"
	EventSeekEnabled  EventType = "seek-enabled"
	EventQuality      EventType = "quality"
)

// Event is one engine notification. Fields beyond Type are populated per
// type; the zero values marshal away.
type Event struct {
	Type     EventType `json:"type"`
	State    string    `json:"state,omitempty"`
	Stem     stem.Name `json:"stem,omitempty"`
	Index    int       `json:"index,omitempty"`
	Total    int       `json:"total,omitempty"`
	Message  string    `json:"message,omitempty"`
	Position float64   `json:"position,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Enabled  bool      `json:"enabled,omitempty"`
	High     bool      `json:"high,omitempty"`
}

// Listener receives engine events on C. A listener that stops draining
// loses events instead of blocking the engine.
type Listener struct {
	id uuid.UUID
	C  chan Event
}

// Bus fans engine events out to subscribers.
type Bus struct {
	mu        sync.Mutex
	listeners map[uuid.UUID]*Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[uuid.UUID]*Listener)}
}

// Subscribe registers a listener with the given channel buffer.
func (b *Bus) Subscribe(buffer int) *Listener {
	if buffer <= 0 {
		buffer = 16
	}
	l := &Listener{
		id: uuid.New(),
		C:  make(chan Event, buffer),
	}
	b.mu.Lock()
	b.listeners[l.id] = l
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[l.id]; !ok {
		return
	}
	delete(b.listeners, l.id)
	close(l.C)
}

// Publish delivers an event to every listener without blocking. Full
// listener channels drop the event.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.listeners {
		select {
		case l.C <- e:
		default:
		}
	}
}

// Count returns the number of subscribed listeners.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
