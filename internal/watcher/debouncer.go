package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid events per path and emits them as one batch once
// the window passes without new events. Sequences for one path merge as:
//   - CREATE + MODIFY = CREATE
//   - CREATE + DELETE = nothing
//   - MODIFY + DELETE = DELETE
//   - DELETE + CREATE = MODIFY
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 16),
	}
}

// Add queues an event, merging it with a pending event for the same path.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(existing.firstOp, existing.event, event)
		if !keep {
			delete(d.pending, event.Path)
		} else {
			existing.event = merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.Flush)
}

// coalesce merges next into the pending event. keep is false when the two cancel out.
func coalesce(first Operation, pending, next FileEvent) (merged FileEvent, keep bool) {
	switch first {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return pending, true
		case OpDelete:
			return FileEvent{}, false
		}
	case OpDelete:
		if next.Operation == OpCreate {
			next.Operation = OpModify
			return next, true
		}
	}
	return next, true
}

// Flush emits pending events now, sorted by path.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("watch_batch_dropped", slog.Int("batch_size", len(events)))
	}
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
