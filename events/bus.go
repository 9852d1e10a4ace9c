// Package events is a small synchronous publish/subscribe bus for
// process-wide session signals.
package events

import "sync"

// Name identifies an event.
type Name string

const (
	// ForcedLogout is raised by any component that learns the refresh
	// credential was denied. Subscribers clear their session state without
	// calling the logout endpoint.
	ForcedLogout Name = "auth:logout"

	RefreshStarted       Name = "auth:refresh:started"
	RefreshGranted       Name = "auth:refresh:granted"
	RefreshDenied        Name = "auth:refresh:denied"
	RefreshIndeterminate Name = "auth:refresh:indeterminate"
)

// Handler receives an emitted event.
type Handler func(Name)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribers synchronously, in subscription order.
// Handlers must not block; they run on the emitter's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Name][]subscription
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]subscription)}
}

// Subscribe registers h for name and returns a function that removes it.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[name]
			for i, s := range subs {
				if s.id == id {
					b.subs[name] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit calls every handler subscribed to name. A nil Bus is a no-op.
func (b *Bus) Emit(name Name) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[name]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(name)
	}
}
