package render

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"ocm.software/open-component-model/hangar/bindings/go/transfer"
)

// Progress renders one tracker per image of a batch run.
// It implements transfer.Observer.
type Progress struct {
	pw progress.Writer

	mu       sync.Mutex
	trackers map[string]*imageTracker
}

type imageTracker struct {
	*progress.Tracker
	message string
	jobs    int64
	done    int64
	failed  int
}

var _ transfer.Observer = (*Progress)(nil)

// NewProgress starts rendering to w. Stop must be called once the run finished.
func NewProgress(w io.Writer) *Progress {
	pw := progress.NewWriter()
	pw.SetOutputWriter(w)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetAutoStop(false)
	pw.SetTrackerPosition(progress.PositionRight)
	p := &Progress{pw: pw, trackers: make(map[string]*imageTracker)}
	go pw.Render()
	return p
}

func (p *Progress) Planned(job transfer.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := job.Spec.Key()
	if t, ok := p.trackers[key]; ok {
		t.jobs++
		t.UpdateTotal(t.jobs)
		return
	}
	t := &imageTracker{
		message: job.Spec.Source,
		jobs:    1,
		Tracker: &progress.Tracker{
			Message: job.Spec.Source,
			Total:   1,
			Units: progress.Units{
				Formatter: func(value int64) string {
					if value == 1 {
						return "1 platform"
					}
					return fmt.Sprintf("%d platforms", value)
				},
			},
		},
	}
	p.trackers[key] = t
	p.pw.AppendTracker(t.Tracker)
}

func (p *Progress) Finished(result transfer.JobResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trackers[result.Job.Spec.Key()]
	if !ok {
		return
	}
	if result.Err != nil {
		t.failed++
		t.UpdateMessage(fmt.Sprintf("%s (%d failed)", t.message, t.failed))
	}
	t.done++
	t.Increment(1)
	if t.done < t.jobs {
		return
	}
	if t.failed > 0 {
		t.MarkAsErrored()
	} else {
		t.MarkAsDone()
	}
}

// Stop stops rendering and waits until the last frame was written or ctx is done.
func (p *Progress) Stop(ctx context.Context) {
	p.pw.Stop()
	for p.pw.IsRenderInProgress() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
