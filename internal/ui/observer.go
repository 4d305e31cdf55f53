package ui

import (
	"sync"

	"github.com/Aman-CERP/amanrag/internal/ingest"
)

// Observer feeds ingest progress callbacks into a Renderer and tallies the
// outcome. Progress is safe to pass to ingest.WithProgress.
type Observer struct {
	mu       sync.Mutex
	renderer Renderer
	done     int
	chunks   int
	failed   int
}

// NewObserver creates an Observer for r.
func NewObserver(r Renderer) *Observer {
	return &Observer{renderer: r}
}

// Progress handles one ingest event.
func (o *Observer) Progress(p ingest.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch p.Stage {
	case ingest.StageFailed:
		o.failed++
		o.done++
		o.renderer.AddError(ErrorEvent{Document: p.DocumentID, Err: p.Err})
		return
	case ingest.StageReady:
		o.done++
		o.chunks += p.Total
	}
	o.renderer.UpdateProgress(ProgressEvent{
		Stage:    StageFor(p.Stage),
		Current:  p.Current,
		Total:    p.Total,
		Document: p.DocumentID,
		Done:     o.done,
	})
}

// Func returns Progress as an ingest.ProgressFunc.
func (o *Observer) Func() ingest.ProgressFunc {
	return o.Progress
}

// Totals returns the documents finished, chunks stored and failures seen.
func (o *Observer) Totals() (documents, chunks, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done - o.failed, o.chunks, o.failed
}
