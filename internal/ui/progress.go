package ui

import (
	"sync"
	"time"
)

// speedWindow is the minimum interval between throughput samples.
const speedWindow = 500 * time.Millisecond

// ProgressTracker accumulates ingest progress across documents.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu        sync.RWMutex
	stage     Stage
	current   int
	total     int
	document  string
	done      int
	startTime time.Time
	errors    []ErrorEvent
	warnings  []ErrorEvent

	// chunks embedded across all documents, for throughput
	embedded      int
	lastEmbedded  int
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
	peakSpeed     float64
	speedSamples  int
	sparkline     *Sparkline
}

// SpeedStats contains speed metrics for display.
type SpeedStats struct {
	Current float64 // chunks/sec
	Avg     float64
	Peak    float64
}

// ProgressStats contains a snapshot of current progress.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	Document   string
	Done       int
	Embedded   int
	Elapsed    time.Duration
	ErrorCount int
	WarnCount  int
	Speed      SpeedStats
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:         StageScanning,
		startTime:     now,
		lastSpeedCalc: now,
		sparkline:     NewSparkline(60),
	}
}

// Update applies a progress event.
func (p *ProgressTracker) Update(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Document != p.document || event.Stage != p.stage {
		if p.stage == StageEmbedding && p.document != "" {
			p.embedded += p.current
		}
		p.current = 0
	}
	p.stage = event.Stage
	p.document = event.Document
	p.total = event.Total
	p.current = event.Current
	if event.Done > p.done {
		p.done = event.Done
	}
	p.sampleSpeed(time.Now())
}

// sampleSpeed must be called with the lock held.
func (p *ProgressTracker) sampleSpeed(now time.Time) {
	elapsed := now.Sub(p.lastSpeedCalc)
	if elapsed < speedWindow {
		return
	}
	total := p.embeddedLocked()
	delta := total - p.lastEmbedded
	if delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		p.currentSpeed = speed
		p.speedSamples++
		if p.speedSamples == 1 {
			p.avgSpeed = speed
		} else {
			p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
		}
		if speed > p.peakSpeed {
			p.peakSpeed = speed
		}
		p.sparkline.Add(speed)
	}
	p.lastEmbedded = total
	p.lastSpeedCalc = now
}

func (p *ProgressTracker) embeddedLocked() int {
	if p.stage == StageEmbedding {
		return p.embedded + p.current
	}
	return p.embedded
}

// Complete marks the tracker complete.
func (p *ProgressTracker) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageComplete
	p.document = ""
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Stats returns a snapshot of the current progress.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	progress := 0.0
	if p.total > 0 {
		progress = min(float64(p.current)/float64(p.total), 1.0)
	}
	return ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Progress:   progress,
		Document:   p.document,
		Done:       p.done,
		Embedded:   p.embeddedLocked(),
		Elapsed:    time.Since(p.startTime),
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
		Speed: SpeedStats{
			Current: p.currentSpeed,
			Avg:     p.avgSpeed,
			Peak:    p.peakSpeed,
		},
	}
}

// Errors returns the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// RenderSparkline returns the throughput sparkline at width.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sparkline.Render(width)
}
