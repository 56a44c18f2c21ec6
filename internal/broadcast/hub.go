package broadcast

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const defaultBufferSize = 64

type subscriber struct {
	surface string
	visible bool
	seq     uint64
	ch      chan Event
}

// Hub fans events out to subscribed surfaces. Each event goes to the surface
// recorded on it when that surface is subscribed, otherwise to the most
// recently subscribed visible surface. Observers see every event.
type Hub struct {
	logger     *zap.Logger
	bufferSize int

	mu        sync.RWMutex
	seq       uint64
	surfaces  map[string]*subscriber
	observers map[uint64]*subscriber
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		bufferSize: defaultBufferSize,
		surfaces:   make(map[string]*subscriber),
		observers:  make(map[uint64]*subscriber),
	}
}

// Subscribe registers a surface. A second subscription for the same surface
// replaces the first and closes its channel. The returned func unsubscribes.
func (h *Hub) Subscribe(surface string, visible bool) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.surfaces[surface]; ok {
		close(old.ch)
	}
	h.seq++
	sub := &subscriber{surface: surface, visible: visible, seq: h.seq, ch: make(chan Event, h.bufferSize)}
	h.surfaces[surface] = sub

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.surfaces[surface]; ok && cur == sub {
			delete(h.surfaces, surface)
			close(sub.ch)
		}
	}
}

// SetVisible updates a surface's visibility. Unknown surfaces are ignored.
func (h *Hub) SetVisible(surface string, visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.surfaces[surface]; ok {
		sub.visible = visible
	}
}

// Observe returns a channel receiving every event regardless of routing.
func (h *Hub) Observe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := h.seq
	sub := &subscriber{seq: id, ch: make(chan Event, h.bufferSize)}
	h.observers[id] = sub

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.observers[id]; ok {
			delete(h.observers, id)
			close(sub.ch)
		}
	}
}

// Emit stamps and routes ev. It never blocks; a full subscriber drops it.
func (h *Hub) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if target := h.route(ev.Surface); target != nil {
		h.send(target, ev)
	} else {
		h.logger.Debug("No surface for state event",
			zap.String("tool_id", ev.ToolID),
			zap.String("status", string(ev.Status)))
	}
	for _, obs := range h.observers {
		h.send(obs, ev)
	}
}

// route must be called with h.mu held.
func (h *Hub) route(surface string) *subscriber {
	if sub, ok := h.surfaces[surface]; ok && surface != "" {
		return sub
	}
	var best *subscriber
	for _, sub := range h.surfaces {
		if sub.visible && (best == nil || sub.seq > best.seq) {
			best = sub
		}
	}
	return best
}

func (h *Hub) send(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		h.logger.Warn("Dropping state event for slow subscriber",
			zap.String("surface", sub.surface),
			zap.String("tool_id", ev.ToolID),
			zap.String("status", string(ev.Status)))
	}
}
