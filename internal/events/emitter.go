// SPDX-License-Identifier: MIT
/*
Package events carries lifecycle, playback and viseme notifications from the
engine to its consumers.

Listeners run synchronously on the emitting goroutine, in subscription
order, followed by wildcard listeners. A listener may subscribe or
unsubscribe from inside its callback; the change applies from the next Emit.
*/
package events

import (
	"sync"
	"sync/atomic"

	applog "lipsync/internal/log"
)

// Listener receives one event variant.
type Listener func(Event)

// AnyListener receives every event together with its name.
type AnyListener func(Name, Event)

// ListenerID is returned by the subscribe calls and accepted by Off.
type ListenerID uint64

type subscription struct {
	id    ListenerID
	name  Name // empty for wildcard
	fn    Listener
	anyFn AnyListener
	once  bool
	fired atomic.Bool
}

// Emitter is a typed publish/subscribe hub. The zero value is ready to use.
type Emitter struct {
	mu     sync.Mutex
	nextID ListenerID
	named  map[Name][]*subscription
	any    []*subscription
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

func (e *Emitter) add(sub *subscription) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	sub.id = e.nextID
	if sub.anyFn != nil {
		e.any = append(e.any, sub)
		return sub.id
	}
	if e.named == nil {
		e.named = make(map[Name][]*subscription)
	}
	e.named[sub.name] = append(e.named[sub.name], sub)
	return sub.id
}

// On subscribes fn to events called name.
func (e *Emitter) On(name Name, fn Listener) ListenerID {
	return e.add(&subscription{name: name, fn: fn})
}

// Once subscribes fn for a single delivery. The subscription is removed
// before fn runs.
func (e *Emitter) Once(name Name, fn Listener) ListenerID {
	return e.add(&subscription{name: name, fn: fn, once: true})
}

// OnAny subscribes fn to every event.
func (e *Emitter) OnAny(fn AnyListener) ListenerID {
	return e.add(&subscription{anyFn: fn})
}

// Off removes a subscription. Returns false if id was not subscribed.
func (e *Emitter) Off(id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.any {
		if sub.id == id {
			e.any = append(e.any[:i:i], e.any[i+1:]...)
			return true
		}
	}
	for name, subs := range e.named {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			if len(subs) == 1 {
				delete(e.named, name)
			} else {
				e.named[name] = append(subs[:i:i], subs[i+1:]...)
			}
			return true
		}
	}
	return false
}

// RemoveAllListeners drops the listeners for the given names, or every
// listener including wildcards when called without arguments.
func (e *Emitter) RemoveAllListeners(names ...Name) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(names) == 0 {
		e.named = nil
		e.any = nil
		return
	}
	for _, name := range names {
		delete(e.named, name)
	}
}

// ListenerCount returns the number of listeners subscribed to name.
func (e *Emitter) ListenerCount(name Name) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.named[name])
}

// Emit delivers ev to its named listeners, then to wildcard listeners.
func (e *Emitter) Emit(ev Event) {
	name := ev.EventName()

	// Subscriptions are append-only slices replaced on removal, so holding
	// the old headers is a consistent snapshot.
	e.mu.Lock()
	named := e.named[name]
	wildcard := e.any
	e.mu.Unlock()

	for _, sub := range named {
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			e.Off(sub.id)
		}
		e.deliver(name, func() { sub.fn(ev) })
	}
	for _, sub := range wildcard {
		e.deliver(name, func() { sub.anyFn(name, ev) })
	}
}

// deliver isolates the emitter from a panicking listener.
func (e *Emitter) deliver(name Name, call func()) {
	defer func() {
		if r := recover(); r != nil {
			applog.Errorf("Events: listener for %q panicked: %v", name, r)
		}
	}()
	call()
}
