package ingestion

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/poiesic/blueprint/core"
)

// ProgressPrinter writes one-line job progress to a terminal. Use its
// Observe method with WithObserver.
type ProgressPrinter struct {
	writer   io.Writer
	interval time.Duration

	mu         sync.Mutex
	lastReport time.Time
	lastStep   core.StepKey
	lastStatus core.JobStatus
	startTime  time.Time
}

// NewProgressPrinter creates a printer that reports at most once per
// interval, plus on every step or status change.
func NewProgressPrinter(writer io.Writer, interval time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		writer:    writer,
		interval:  interval,
		startTime: time.Now(),
	}
}

// Observe reports job if enough time has passed or its step or status
// changed.
func (p *ProgressPrinter) Observe(job *core.ProcessingJob) {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := job.CurrentStep != p.lastStep || job.Status != p.lastStatus
	if !changed && time.Since(p.lastReport) < p.interval {
		return
	}
	p.lastStep = job.CurrentStep
	p.lastStatus = job.Status
	p.lastReport = time.Now()
	p.report(job)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressPrinter) report(job *core.ProcessingJob) {
	line := fmt.Sprintf("\r%s: %s %d/%d steps (%.1f%%)", job.ID, job.Status, job.CompletedSteps, job.TotalSteps, job.Progress)
	if s := job.Step(job.CurrentStep); s != nil && job.Status == core.JobRunning {
		line += " - " + s.Name
		if s.ItemsTotal > 0 {
			line += fmt.Sprintf(" %d/%d", s.ItemsProcessed, s.ItemsTotal)
		}
	}
	fmt.Fprintf(p.writer, "%-100s", line)
	if job.Status != core.JobRunning {
		fmt.Fprintf(p.writer, " - %s\n", time.Since(p.startTime).Round(time.Millisecond))
	}
}
