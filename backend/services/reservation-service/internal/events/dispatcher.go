package events

import (
	"context"
	"sync"
)

// Dispatcher forwards every committed event to its sinks in registration order.
// Sinks must not block.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks []Publisher
}

// NewDispatcher builds a dispatcher over the given sinks.
func NewDispatcher(sinks ...Publisher) *Dispatcher {
	d := &Dispatcher{}
	for _, s := range sinks {
		d.Add(s)
	}
	return d
}

// Add registers a sink. Nil sinks are ignored.
func (d *Dispatcher) Add(sink Publisher) {
	if sink == nil {
		return
	}
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// Publish implements Publisher.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(ctx, ev)
	}
}
