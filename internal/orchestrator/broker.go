package orchestrator

import (
	"sync"

	"github.com/seantiz/storefleet/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind; the persisted
// history still has them.
const subscriberBufferSize = 64

// EventBroker fans provisioning events out to live subscribers, per store.
// It is safe for concurrent use.
//
// A topic exists from Open until Forget. Close keeps the topic as a marker so
// that a subscriber arriving after a workflow finished receives a closed
// channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.Event
	nextID int
	closed bool
}

// NewEventBroker creates an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Open starts the topic for store. Until then Publish drops the store's
// events and Subscribe returns a closed channel.
func (b *EventBroker) Open(store string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[store]; !ok {
		b.topics[store] = &eventTopic{subs: make(map[int]chan model.Event)}
	}
}

// Subscribe returns a channel receiving the store's events and an unsubscribe
// function. The channel is already closed if the store's workflow finished
// or the store has no open topic.
func (b *EventBroker) Subscribe(store string) (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[store]
	ch := make(chan model.Event, subscriberBufferSize)
	if !ok || t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends e to every subscriber of e.Store, dropping it for
// subscribers whose buffers are full.
func (b *EventBroker) Publish(e model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[e.Store]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close signals that no more events will be published for store.
func (b *EventBroker) Close(store string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[store]
	if !ok || t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget closes any remaining subscribers of store and drops its topic. A
// later Close for the store is a no-op.
func (b *EventBroker) Forget(store string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[store]
	if !ok {
		return
	}
	if !t.closed {
		for _, ch := range t.subs {
			close(ch)
		}
	}
	delete(b.topics, store)
}
