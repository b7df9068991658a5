package eventbus

import (
	"encoding/json"
	"sync"
)

// Handler receives a channel payload verbatim. The bus is at-least-once, so
// handlers must tolerate seeing the same payload twice.
type Handler func(payload json.RawMessage)

// Dispatcher is the process-local event fan-out. Bus subscriptions re-emit
// received payloads here; domain packages register handlers at startup.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]Handler)}
}

// On registers a handler for a channel. Handlers run in registration order.
func (d *Dispatcher) On(channel string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[channel] = append(d.handlers[channel], h)
}

// Emit invokes every handler registered for the channel, synchronously in
// the caller's goroutine. Channels with no handlers are a no-op.
func (d *Dispatcher) Emit(channel string, payload json.RawMessage) {
	d.mu.RLock()
	hs := d.handlers[channel]
	d.mu.RUnlock()
	for _, h := range hs {
		h(payload)
	}
}
