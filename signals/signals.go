// Package signals provides a small publish/subscribe handler table, a
// Go-idiomatic stand-in for signal/slot infrastructure: mbclient, mbserver,
// and mbtcp each keep one Bus per signal kind (signalOpened, signalTx,
// signalCompleted, ...) instead of inheriting from a signal/slot base class.
package signals

import "sync"

// Bus is a synchronous publish/subscribe table for handlers of type F,
// e.g. Bus[func(status statuscode.StatusCode)]. Handlers hold no reference
// back into the Bus; callers are responsible for calling Unsubscribe when a
// subscriber tears down.
type Bus[F any] struct {
	mx       sync.Mutex
	handlers map[int]F
	nextID   int
}

// Subscription identifies a previously registered handler so it can be
// removed with Unsubscribe.
type Subscription int

// Subscribe registers handler and returns a Subscription identifying it.
func (b *Bus[F]) Subscribe(handler F) Subscription {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[int]F)
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return Subscription(id)
}

// Unsubscribe removes the handler identified by sub. It is a no-op if sub
// is not currently registered. Unsubscription on subscriber teardown is
// mandatory: a Bus holds a handler (and anything it closes over) forever
// otherwise.
func (b *Bus[F]) Unsubscribe(sub Subscription) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.handlers, int(sub))
}

// snapshot returns the currently registered handlers without holding the
// lock during emission, so a handler may itself call Subscribe/Unsubscribe
// on this bus (though never re-enter the emitting component's public
// methods).
func (b *Bus[F]) snapshot() []F {
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.handlers) == 0 {
		return nil
	}
	out := make([]F, 0, len(b.handlers))
	for _, h := range b.handlers {
		out = append(out, h)
	}
	return out
}

// Emit calls fire once per currently registered handler, synchronously; the
// order in which handlers are called is not defined. Emit takes a closure
// since F is an arbitrary function type the generic Bus cannot call
// directly.
func (b *Bus[F]) Emit(fire func(F)) {
	for _, h := range b.snapshot() {
		fire(h)
	}
}

// Len reports the number of currently registered handlers. Useful in tests.
func (b *Bus[F]) Len() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.handlers)
}
