package transfer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
)

// Failure is a spec that could not be transferred or validated.
type Failure struct {
	Spec imagelist.TransferSpec
	Err  error
}

// FailureTracker collects failed specs in the order they are recorded.
// A spec is recorded once, later errors for the same spec are joined to the first.
type FailureTracker struct {
	mu       sync.Mutex
	failures []Failure
	position map[string]int
	written  bool
}

func NewFailureTracker() *FailureTracker {
	return &FailureTracker{position: make(map[string]int)}
}

func (f *FailureTracker) Record(spec imagelist.TransferSpec, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position == nil {
		f.position = make(map[string]int)
	}
	if i, ok := f.position[spec.Key()]; ok {
		f.failures[i].Err = errors.Join(f.failures[i].Err, err)
		return
	}
	f.position[spec.Key()] = len(f.failures)
	f.failures = append(f.failures, Failure{Spec: spec, Err: err})
}

func (f *FailureTracker) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

// Failures returns a snapshot of the recorded failures.
func (f *FailureTracker) Failures() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Failure(nil), f.failures...)
}

// Specs returns the failed specs in recording order.
func (f *FailureTracker) Specs() []imagelist.TransferSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	specs := make([]imagelist.TransferSpec, 0, len(f.failures))
	for _, failure := range f.failures {
		specs = append(specs, failure.Spec)
	}
	return specs
}

// WriteFile writes the failed specs to path as an image list that can be used as input again.
// Nothing is written if no spec failed or if the list was already written.
func (f *FailureTracker) WriteFile(path string) (written bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) == 0 || f.written {
		return false, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("failed to create failed list: %w", err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	w := bufio.NewWriter(file)
	for _, failure := range f.failures {
		if _, err := fmt.Fprintln(w, failure.Spec.String()); err != nil {
			return false, err
		}
	}
	if err := w.Flush(); err != nil {
		return false, err
	}
	f.written = true
	return true, nil
}
