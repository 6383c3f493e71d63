package signaling

import (
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one inbound event.
type Handler func(Event)

type registration struct {
	id uint64
	fn Handler
}

// handlers routes inbound events to the callbacks registered for their name.
// Callbacks for one event run in registration order.
type handlers struct {
	mu     sync.RWMutex
	nextID uint64
	byName map[string][]registration
}

func newHandlers() *handlers {
	return &handlers{byName: make(map[string][]registration)}
}

func (h *handlers) add(event string, fn Handler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.byName[event] = append(h.byName[event], registration{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(event, id) })
	}
}

func (h *handlers) remove(event string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	regs := h.byName[event]
	for i, r := range regs {
		if r.id == id {
			h.byName[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(h.byName[event]) == 0 {
		delete(h.byName, event)
	}
}

func (h *handlers) snapshot(event string) []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	regs := h.byName[event]
	out := make([]Handler, len(regs))
	for i, r := range regs {
		out[i] = r.fn
	}
	return out
}

// dispatch runs every handler registered for ev.Name. A panicking handler is
// logged and does not stop the others.
func (h *handlers) dispatch(log *zap.Logger, ev Event) {
	for _, fn := range h.snapshot(ev.Name) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("signaling handler panicked", zap.String("event", ev.Name), zap.Any("panic", r))
				}
			}()
			fn(ev)
		}()
	}
}
