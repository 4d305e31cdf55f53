package watcher

import (
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted or renamed away.
	OpDelete
	// OpIgnoreChange indicates the ignore file changed; the matcher has been reloaded.
	OpIgnoreChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpIgnoreChange:
		return "IGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is relative to the watched root, slash-separated.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval when fsnotify is unavailable.
	// Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 100
	EventBufferSize int

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
