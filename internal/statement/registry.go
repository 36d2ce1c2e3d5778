// Package statement maps request keywords to handlers and dispatches raw
// requests received by the transport server.
package statement

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Handler receives the raw request string. It returns "" when the request is
// not addressed to it. Handlers are responsible for checking their own prefix.
type Handler func(ctx context.Context, request string) (string, error)

type entry struct {
	keyword string
	handler Handler
}

// Registry holds handlers in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty statement registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register associates keyword with handler. Registering an existing keyword
// replaces its handler without changing its position.
func (r *Registry) Register(keyword string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].keyword == keyword {
			r.entries[i].handler = handler
			return
		}
	}
	r.entries = append(r.entries, entry{keyword: keyword, handler: handler})
}

// Commands returns the registered keywords in registration order.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		commands = append(commands, e.keyword)
	}
	return commands
}

// Dispatch offers request to every handler in order and returns the first
// non-empty result. A failing handler is logged and skipped.
func (r *Registry) Dispatch(ctx context.Context, request string) (string, bool) {
	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	for _, e := range entries {
		result, err := invoke(ctx, e.handler, request)
		if err != nil {
			log.Printf("[Statements] Call failed to execute. %s: %v", e.keyword, err)
			continue
		}
		if result != "" {
			log.Printf("[Statements] %s handled request (%d bytes reply)", e.keyword, len(result))
			return result, true
		}
	}
	return "", false
}

func invoke(ctx context.Context, handler Handler, request string) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler(ctx, request)
}
