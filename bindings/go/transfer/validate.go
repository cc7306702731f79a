package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"oras.land/oras-go/v2/content"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
	"ocm.software/open-component-model/hangar/bindings/go/signing"
	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
)

// validator compares the digests of jobs with what the destination holds.
// The destination of every spec is inspected once.
type validator struct {
	dst Destination

	mu       sync.Mutex
	inspects map[string]func() (Artifact, error)
}

func newValidator(dst Destination) *validator {
	return &validator{dst: dst, inspects: make(map[string]func() (Artifact, error))}
}

func (v *validator) inspect(ctx context.Context, spec imagelist.TransferSpec) (Artifact, error) {
	v.mu.Lock()
	fn, ok := v.inspects[spec.Key()]
	if !ok {
		fn = sync.OnceValues(func() (Artifact, error) {
			return v.dst.Inspect(ctx, spec)
		})
		v.inspects[spec.Key()] = fn
	}
	v.mu.Unlock()
	return fn()
}

// validate checks that the destination of job holds the manifest of job.
func (v *validator) validate(ctx context.Context, job Job) error {
	src := job.String()
	dst := v.dst.Reference(job.Spec)
	if job.Platform != (imagelist.Platform{}) {
		dst += " (" + job.Platform.String() + ")"
	}
	logger := log.Realm(ctx, "transfer")

	actual, err := v.inspect(ctx, job.Spec)
	if err != nil {
		logger.ErrorContext(ctx, fmt.Sprintf("FAILED: [%s] != [%s]", src, dst), log.ErrorAttr(err))
		return fmt.Errorf("%w: %s: %w", ErrValidationMismatch, dst, err)
	}
	got, ok := digestOf(actual, job)
	if !ok || got != job.Descriptor.Digest.String() {
		logger.ErrorContext(ctx, fmt.Sprintf("FAILED: [%s] != [%s]", src, dst),
			slog.String("expected", job.Descriptor.Digest.String()), slog.String("actual", got))
		return fmt.Errorf("%w: %s holds %q instead of %s", ErrValidationMismatch, dst, got, job.Descriptor.Digest)
	}
	logger.InfoContext(ctx, fmt.Sprintf("PASS: [%s] == [%s]", src, dst))
	return nil
}

// digestOf returns the digest actual holds for the platform of job.
func digestOf(actual Artifact, job Job) (string, bool) {
	key := manifestlist.Key(job.Descriptor)
	switch a := actual.(type) {
	case SingleImage:
		if a.Desc.Digest == job.Descriptor.Digest {
			return a.Desc.Digest.String(), true
		}
		desc := a.Desc
		desc.Platform = &a.Platform
		if manifestlist.Key(desc) == key {
			return a.Desc.Digest.String(), true
		}
	case ManifestList:
		for _, e := range a.Entries {
			if e.Key() == key {
				return e.Digest.String(), true
			}
		}
	}
	return "", false
}

// verifySignature checks that the destination of spec carries a valid signature.
func (v *validator) verifySignature(ctx context.Context, spec imagelist.TransferSpec, verifier signing.Verifier) error {
	actual, err := v.inspect(ctx, spec)
	if err != nil {
		return err
	}
	storage, err := v.dst.Storage(ctx, spec)
	if err != nil {
		return err
	}
	graph, ok := storage.(content.ReadOnlyGraphStorage)
	if !ok {
		return fmt.Errorf("signatures of %s cannot be listed", v.dst.Reference(spec))
	}
	if err := signing.VerifyAttached(ctx, graph, actual.Descriptor(), verifier); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationMismatch, err)
	}
	return nil
}
