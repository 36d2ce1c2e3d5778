package blur

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Blurred wraps an original function with a replaceable delegate and a list
// of callbacks fired on every call.
type Blurred struct {
	id       string
	original *Func
	delegate atomic.Pointer[Func]

	mu        sync.RWMutex
	callbacks []*Func
}

// ID returns the identity string of the wrapper.
func (b *Blurred) ID() string { return b.id }

// Original returns the wrapped function.
func (b *Blurred) Original() *Func { return b.original }

// Delegate returns the linked delegate, or nil while unbound.
func (b *Blurred) Delegate() *Func { return b.delegate.Load() }

// Bound reports whether a delegate has been linked.
func (b *Blurred) Bound() bool { return b.delegate.Load() != nil }

// Callbacks returns the callbacks in registration order.
func (b *Blurred) Callbacks() []*Func {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Func, len(b.callbacks))
	copy(out, b.callbacks)
	return out
}

// Call fires every callback, then calls the delegate, or the original while
// no delegate is linked. A failing callback is logged and does not stop the
// call.
func (b *Blurred) Call(ctx context.Context, args ...any) (any, error) {
	for _, cb := range b.Callbacks() {
		if _, err := cb.Call(ctx); err != nil {
			log.Printf("[Blur] Callback %s of %s failed: %v", cb.Path(), b.original.Path(), err)
		}
	}

	if d := b.delegate.Load(); d != nil {
		return d.Call(ctx, args...)
	}
	return b.original.Call(ctx, args...)
}
