// Package event provides the listener registry shared by transports and
// streams.
//
// Listeners are resolved at emit time: a listener removed before Emit
// copies the listener list is never invoked for that emission, and a
// listener added while an emission is in progress only sees later events.
package event

import "sync"

// Name identifies an event category.
type Name string

// Event names emitted by transports and streams.
const (
	Data             Name = "data"
	Connect          Name = "connect"
	Secure           Name = "secure"
	SecureConnection Name = "secureConnection"
	SecureConnect    Name = "secureConnect"
	End              Name = "end"
	Close            Name = "close"
	Drain            Name = "drain"
	Error            Name = "error"
	Timeout          Name = "timeout"
)

// Event is the payload delivered to listeners.
type Event struct {
	Name Name

	// Data carries the bytes of a Data event.
	Data []byte

	// Err carries the failure of an Error event.
	Err error

	// HadError reports whether a Close event followed an error.
	HadError bool
}

// Listener receives events.
type Listener func(Event)

// Subscription identifies a registered listener.
type Subscription uint64

type entry struct {
	id   Subscription
	fn   Listener
	once bool
}

// Emitter is a registry of listeners keyed by event name.
// It is safe for concurrent use.
type Emitter struct {
	mu        sync.Mutex
	nextID    Subscription
	listeners map[Name][]entry
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Name][]entry)}
}

// On registers fn for every event called name.
func (e *Emitter) On(name Name, fn Listener) Subscription {
	return e.add(name, fn, false)
}

// Once registers fn for the next event called name only.
func (e *Emitter) Once(name Name, fn Listener) Subscription {
	return e.add(name, fn, true)
}

func (e *Emitter) add(name Name, fn Listener, once bool) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[Name][]entry)
	}
	e.nextID++
	e.listeners[name] = append(e.listeners[name], entry{id: e.nextID, fn: fn, once: once})
	return e.nextID
}

// Off removes a single listener. It reports whether the listener was
// still registered.
func (e *Emitter) Off(name Name, sub Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[name]
	for i, ent := range list {
		if ent.id == sub {
			e.listeners[name] = append(list[:i:i], list[i+1:]...)
			if len(e.listeners[name]) == 0 {
				delete(e.listeners, name)
			}
			return true
		}
	}
	return false
}

// RemoveAll removes every listener registered for name.
func (e *Emitter) RemoveAll(name Name) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, name)
}

// ListenerCount returns the number of listeners registered for name.
func (e *Emitter) ListenerCount(name Name) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

// Emit delivers ev to the listeners registered for ev.Name, in
// registration order, on the calling goroutine. It reports whether any
// listener was invoked.
func (e *Emitter) Emit(ev Event) bool {
	e.mu.Lock()
	list := e.listeners[ev.Name]
	if len(list) == 0 {
		e.mu.Unlock()
		return false
	}
	fns := make([]Listener, 0, len(list))
	kept := list[:0:0]
	for _, ent := range list {
		fns = append(fns, ent.fn)
		if !ent.once {
			kept = append(kept, ent)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, ev.Name)
	} else {
		e.listeners[ev.Name] = kept
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return true
}
