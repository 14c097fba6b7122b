// Package hub fans out controller state snapshots to websocket observers
// using a channel-based register/unregister/broadcast loop.
//
// The hub keeps the latest snapshot and replays it to every observer as
// it connects, so a late observer never waits for the next transition.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-screener/pkg/metrics"
)

// sendBuffer is how many snapshots an observer may lag before it is dropped.
const sendBuffer = 64

// Hub maintains the set of active observers and broadcasts snapshots to them.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	observers map[*Observer]struct{}

	// changed signals that latest moved on. Bursts coalesce into one
	// broadcast of the newest snapshot.
	changed    chan struct{}
	register   chan *Observer
	unregister chan *Observer

	// mu guards latest and the observer count for readers outside Run.
	mu     sync.RWMutex
	latest []byte
	count  int

	done chan struct{}
}

// New creates a Hub. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		metrics:    m,
		observers:  make(map[*Observer]struct{}),
		changed:    make(chan struct{}, 1),
		register:   make(chan *Observer),
		unregister: make(chan *Observer),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, after
// closing every observer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for o := range h.observers {
				h.drop(o)
			}
			return

		case o := <-h.register:
			h.observers[o] = struct{}{}
			h.setCount()
			h.metrics.ObserverConnected(1)
			if latest := h.Latest(); latest != nil {
				o.send <- latest
			}
			h.logger.Debug("observer connected", "observers", len(h.observers))

		case o := <-h.unregister:
			if _, ok := h.observers[o]; ok {
				h.drop(o)
			}
			h.logger.Debug("observer disconnected", "observers", len(h.observers))

		case <-h.changed:
			data := h.Latest()
			for o := range h.observers {
				select {
				case o.send <- data:
				default:
					h.drop(o)
					h.logger.Warn("dropped slow observer")
				}
			}
		}
	}
}

func (h *Hub) drop(o *Observer) {
	delete(h.observers, o)
	close(o.send)
	h.setCount()
	h.metrics.ObserverConnected(-1)
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.observers)
	h.mu.Unlock()
}

// Publish records data as the latest snapshot and broadcasts it.
// It never blocks. Snapshots published faster than Run can broadcast
// them are skipped, but the newest one always reaches live observers.
func (h *Hub) Publish(data []byte) {
	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.changed <- struct{}{}:
	default:
	}
}

// PublishJSON encodes v and publishes it.
func (h *Hub) PublishJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(data)
	return nil
}

// Latest returns the most recent snapshot, or nil.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
