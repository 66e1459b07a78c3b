package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering
// and optional per-key scoping. It is the server half of the push channel.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	onDrop func(Event)
}

type subscription struct {
	namespace string
	key       string
	ch        chan Event
	lost      chan struct{}
	lostOnce  sync.Once
}

// Subscription is a keyed subscription that reports its first dropped event.
// Once Lost is closed the subscriber has missed events and must resync.
type Subscription struct {
	C     <-chan Event
	Lost  <-chan struct{}
	close func()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() { s.close() }

// Option configures a Bus.
type Option func(*Bus)

// WithDropHook registers fn to be called when a full subscriber misses an event.
func WithDropHook(fn func(Event)) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind and whose key, if set, equals event.Key. It never blocks.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		if sub.key != "" && sub.key != evt.Key {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			if sub.lost != nil {
				sub.lostOnce.Do(func() { close(sub.lost) })
			}
			if b.onDrop != nil {
				b.onDrop(evt)
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.SubscribeKey(namespace, "", bufSize)
}

// SubscribeKey is Subscribe restricted to events carrying key, typically a
// conversation id. The unsubscribe function is safe to call more than once.
func (b *Bus) SubscribeKey(namespace, key string, bufSize int) (<-chan Event, func()) {
	sub := &subscription{namespace: namespace, key: key, ch: make(chan Event, bufSize)}
	return sub.ch, b.add(sub)
}

// Watch is SubscribeKey for consumers that cannot tolerate gaps: the first
// event dropped on a full buffer closes Lost.
func (b *Bus) Watch(namespace, key string, bufSize int) *Subscription {
	sub := &subscription{
		namespace: namespace,
		key:       key,
		ch:        make(chan Event, bufSize),
		lost:      make(chan struct{}),
	}
	return &Subscription{C: sub.ch, Lost: sub.lost, close: b.add(sub)}
}

func (b *Bus) add(sub *subscription) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
