package kiosk

import (
	"sync"
	"time"
)

const (
	EventConnectivity = "connectivity"
	EventSyncStatus   = "sync_status"
	EventActivation   = "activation"
	EventQueue        = "queue"
)

// Event is what the local API streams to the kiosk UI.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]func(Event)
	nextID      int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[int]func(Event))}
}

func (b *broadcaster) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	subs := make([]func(Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}
