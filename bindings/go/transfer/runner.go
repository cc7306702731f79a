package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"
	"oras.land/oras-go/v2"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
	"ocm.software/open-component-model/hangar/bindings/go/signing"
)

// Action is the terminal action of a job.
type Action int

const (
	// ActionTransfer copies the manifest of a job and records it at the destination.
	ActionTransfer Action = iota
	// ActionValidate compares the manifest of a job with what the destination holds.
	ActionValidate
)

func (a Action) String() string {
	if a == ActionValidate {
		return "validate"
	}
	return "transfer"
}

// Observer is notified about the progress of a run.
// Planned is called for every job before the first job starts. Finished is called
// concurrently from the workers.
type Observer interface {
	Planned(job Job)
	Finished(result JobResult)
}

// ScanReport is the summary an external scanner produced for an image.
type ScanReport struct {
	Reference string
	Digest    string
	// Findings counts findings by severity.
	Findings map[string]int
}

// Scanner scans committed images.
type Scanner interface {
	Scan(ctx context.Context, reference string, desc ocispec.Descriptor) (ScanReport, error)
}

// Runner expands an image list into jobs, executes them on a bounded worker pool and
// records the results at the destination.
//
// A failing job never cancels its siblings. Specs with failed jobs are recorded in Failures
// and reported through Report.Err after every feasible job completed.
type Runner struct {
	Source      Source
	Destination Destination
	Action      Action
	// Workers is clamped to [MinWorkers, MaxWorkers].
	Workers int
	// Platforms filter the manifests of manifest lists. No filter selects every platform.
	Platforms []imagelist.Platform
	// Failures collects failed specs. A new tracker is used if nil.
	Failures *FailureTracker
	Observer Observer
	// Signer signs the destination manifest of every committed spec.
	Signer signing.Signer
	// Verifier checks the signature of every validated spec.
	Verifier signing.Verifier
	// Scanner scans the destination of every committed spec.
	Scanner Scanner
}

// Report summarizes a run.
type Report struct {
	Action Action
	Specs  int
	// Results holds one result per job in expansion order.
	Results  []JobResult
	Bytes    int64
	Elapsed  time.Duration
	Failures []Failure
	Scans    []ScanReport
}

// Err returns ErrPartialFailure joined with the failures of the run, or nil if nothing failed.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures)+1)
	errs = append(errs, fmt.Errorf("%w: %d of %d images failed", ErrPartialFailure, len(r.Failures), r.Specs))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// Succeeded counts the successful jobs.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome() == OutcomeSuccess {
			n++
		}
	}
	return n
}

type plan struct {
	spec     imagelist.TransferSpec
	artifact Artifact
	jobs     []Job
	err      error
}

// Run processes specs and returns the report of the run.
// The returned error is only set if the run could not start, per spec failures are in the report.
func (r *Runner) Run(ctx context.Context, specs []imagelist.TransferSpec) (*Report, error) {
	if r.Source == nil || r.Destination == nil {
		return nil, errors.New("runner needs a source and a destination")
	}
	failures := r.Failures
	if failures == nil {
		failures = NewFailureTracker()
	}
	logger := log.Realm(ctx, "transfer")
	workers := ClampWorkers(r.Workers)
	if workers != r.Workers {
		logger.DebugContext(ctx, "clamped number of workers", slog.Int("requested", r.Workers), slog.Int("workers", workers))
	}
	done := log.Operation(ctx, "transfer", r.Action.String(), slog.Int("images", len(specs)), slog.Int("workers", workers))

	start := time.Now()
	plans := r.expand(ctx, specs, workers)
	for _, p := range plans {
		if p.err != nil {
			failures.Record(p.spec, p.err)
		}
	}

	var validate *validator
	if r.Action == ActionValidate {
		validate = newValidator(r.Destination)
	}
	var copied atomic.Int64
	results := r.execute(ctx, plans, workers, validate, &copied)

	report := &Report{Action: r.Action, Specs: len(specs)}
	for _, p := range plans {
		if p.err != nil {
			continue
		}
		var succeeded []Job
		for _, job := range p.jobs {
			res := results[job.Key()]
			report.Results = append(report.Results, res)
			if res.Err != nil {
				failures.Record(p.spec, res.Err)
				continue
			}
			succeeded = append(succeeded, job)
		}
		if len(succeeded) == 0 {
			continue
		}
		switch r.Action {
		case ActionValidate:
			if r.Verifier == nil {
				continue
			}
			if err := validate.verifySignature(ctx, p.spec, r.Verifier); err != nil {
				failures.Record(p.spec, err)
			}
		default:
			scan, err := r.commit(ctx, p, succeeded)
			if err != nil {
				failures.Record(p.spec, fmt.Errorf("%w: %s: %w", ErrTransferFailed, p.spec.Source, err))
				continue
			}
			if scan != nil {
				report.Scans = append(report.Scans, *scan)
			}
		}
	}

	report.Bytes = copied.Load()
	report.Elapsed = time.Since(start)
	report.Failures = failures.Failures()
	done(report.Err())
	return report, nil
}

// expand resolves every spec into its jobs. Specs are resolved concurrently, the plans keep list order.
func (r *Runner) expand(ctx context.Context, specs []imagelist.TransferSpec, workers int) []plan {
	plans := make([]plan, len(specs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, spec := range specs {
		plans[i].spec = spec
		g.Go(func() error {
			artifact, err := r.Source.Resolve(ctx, spec)
			if err != nil {
				plans[i].err = fmt.Errorf("%w: %s: %w", ErrTransferFailed, spec.Source, err)
				return nil
			}
			jobs, err := Jobs(i, spec, artifact, r.Platforms)
			if err != nil {
				plans[i].err = err
				return nil
			}
			plans[i].artifact, plans[i].jobs = artifact, jobs
			return nil
		})
	}
	_ = g.Wait()
	return plans
}

// execute runs the jobs of all plans and returns their results keyed by Job.Key.
// Jobs are validated instead of copied if validate is set.
func (r *Runner) execute(ctx context.Context, plans []plan, workers int, validate *validator, copied *atomic.Int64) map[string]JobResult {
	var (
		mu      sync.Mutex
		results = make(map[string]JobResult)
	)

	if r.Observer != nil {
		for _, p := range plans {
			for _, job := range p.jobs {
				r.Observer.Planned(job)
			}
		}
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, p := range plans {
		for _, job := range p.jobs {
			g.Go(func() error {
				jobCtx := log.WithAttrs(ctx, slog.String("image", job.Spec.Source), slog.String("platform", job.Platform.String()))
				start := time.Now()
				res := JobResult{Job: job}
				if validate != nil {
					res.Err = validate.validate(jobCtx, job)
				} else {
					res.Bytes, res.Err = r.copy(jobCtx, job)
					copied.Add(res.Bytes)
				}
				res.Elapsed = time.Since(start)

				mu.Lock()
				results[job.Key()] = res
				mu.Unlock()
				if r.Observer != nil {
					r.Observer.Finished(res)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return results
}

// copy copies the manifest of job with its config and layers and returns the number of bytes copied.
func (r *Runner) copy(ctx context.Context, job Job) (int64, error) {
	src, err := r.Source.Storage(ctx, job.Spec)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrTransferFailed, job, err)
	}
	dst, err := r.Destination.Storage(ctx, job.Spec)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrTransferFailed, job, err)
	}

	var n atomic.Int64
	opts := oras.DefaultCopyGraphOptions
	opts.PostCopy = func(ctx context.Context, desc ocispec.Descriptor) error {
		n.Add(desc.Size)
		log.Realm(ctx, "transfer").DebugContext(ctx, "copied", log.DescriptorLogAttr(desc))
		return nil
	}
	opts.OnCopySkipped = func(ctx context.Context, desc ocispec.Descriptor) error {
		log.Realm(ctx, "transfer").DebugContext(ctx, "already exists", log.DescriptorLogAttr(desc))
		return nil
	}

	desc := job.Descriptor
	desc.Platform = nil
	if err := oras.CopyGraph(ctx, src, dst, desc, opts); err != nil {
		return n.Load(), fmt.Errorf("%w: %s: %w", ErrTransferFailed, job, err)
	}
	log.Realm(ctx, "transfer").InfoContext(ctx, "copied image", slog.String("destination", r.Destination.Reference(job.Spec)),
		slog.String("digest", job.Descriptor.Digest.String()), slog.Int64("bytes", n.Load()))
	return n.Load(), nil
}

// commit records the successful jobs of p at the destination, then signs and scans the result.
func (r *Runner) commit(ctx context.Context, p plan, jobs []Job) (*ScanReport, error) {
	src, err := r.Source.Storage(ctx, p.spec)
	if err != nil {
		return nil, err
	}
	final, err := r.Destination.Commit(ctx, CommitRequest{Spec: p.spec, Artifact: p.artifact, Jobs: jobs, Source: src})
	if err != nil {
		return nil, err
	}
	reference := r.Destination.Reference(p.spec)

	if r.Signer != nil {
		if err := r.sign(ctx, p.spec, final); err != nil {
			return nil, err
		}
	}
	if r.Scanner == nil {
		return nil, nil
	}
	scan, err := r.Scanner.Scan(ctx, reference, final)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", reference, err)
	}
	log.Realm(ctx, "transfer").InfoContext(ctx, "scanned image", slog.String("reference", reference), slog.Any("findings", scan.Findings))
	return &scan, nil
}

func (r *Runner) sign(ctx context.Context, spec imagelist.TransferSpec, subject ocispec.Descriptor) error {
	sig, err := r.Signer.Sign(ctx, subject.Digest)
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", subject.Digest, err)
	}
	dst, err := r.Destination.Storage(ctx, spec)
	if err != nil {
		return err
	}
	desc, err := signing.Attach(ctx, dst, subject, sig)
	if err != nil {
		return err
	}
	log.Realm(ctx, "transfer").InfoContext(ctx, "signed image", slog.String("reference", r.Destination.Reference(spec)),
		log.DescriptorLogAttr(desc))
	return nil
}
