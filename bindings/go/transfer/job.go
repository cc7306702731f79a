package transfer

import (
	"errors"
	"fmt"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
)

// Job copies or validates one platform manifest of a spec.
type Job struct {
	Spec imagelist.TransferSpec
	// Descriptor is the platform manifest including its platform.
	Descriptor ocispec.Descriptor
	Platform   imagelist.Platform
	// Index is the position of Spec in the list.
	Index int
}

// Key identifies the job within a run.
func (j Job) Key() string {
	return j.Spec.Key() + "#" + manifestlist.Key(j.Descriptor)
}

func (j Job) String() string {
	if j.Platform == (imagelist.Platform{}) {
		return j.Spec.Source
	}
	return j.Spec.Source + " (" + j.Platform.String() + ")"
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failed"
}

// JobResult is the outcome of a Job.
type JobResult struct {
	Job
	Err     error
	Bytes   int64
	Elapsed time.Duration
}

func (r JobResult) Outcome() Outcome {
	if r.Err != nil {
		return OutcomeFailed
	}
	return OutcomeSuccess
}

// Jobs expands artifact into the jobs of spec.
// A SingleImage yields one job if its platform is selected by the platform constraints of spec
// and filters, or if its platform is unknown. A ManifestList yields one job per selected entry,
// followed by the attestations of selected entries if spec asks for provenance.
// If nothing is selected, ErrAmbiguousReference is returned.
func Jobs(index int, spec imagelist.TransferSpec, artifact Artifact, filters []imagelist.Platform) ([]Job, error) {
	switch a := artifact.(type) {
	case SingleImage:
		p := toPlatform(a.Platform)
		if p != (imagelist.Platform{}) {
			platforms, err := spec.SelectPlatforms(filters)
			if err != nil {
				return nil, err
			}
			if !imagelist.MatchAny(platforms, p) {
				return nil, fmt.Errorf("%w: platform %s of %s does not match the platform filters", ErrAmbiguousReference, p, spec.Source)
			}
		}
		desc := a.Desc
		platform := a.Platform
		desc.Platform = &platform
		return []Job{{Spec: spec, Descriptor: desc, Platform: p, Index: index}}, nil
	case ManifestList:
		platforms, err := spec.SelectPlatforms(filters)
		if err != nil {
			return nil, err
		}
		var jobs []Job
		selected := make(map[string]bool)
		for _, e := range a.Entries {
			if e.IsAttestation() {
				continue
			}
			p := toPlatform(e.Platform)
			if !imagelist.MatchAny(platforms, p) {
				continue
			}
			selected[e.Digest.String()] = true
			jobs = append(jobs, Job{Spec: spec, Descriptor: e.Descriptor(), Platform: p, Index: index})
		}
		if len(jobs) == 0 {
			return nil, fmt.Errorf("%w: no manifest of %s matches the platform filters", ErrAmbiguousReference, spec.Source)
		}
		if spec.Policy.IncludeProvenance {
			for _, e := range a.Entries {
				if e.IsAttestation() && selected[e.Annotations[manifestlist.AnnotationReferenceDigest]] {
					jobs = append(jobs, Job{Spec: spec, Descriptor: e.Descriptor(), Platform: toPlatform(e.Platform), Index: index})
				}
			}
		}
		return jobs, nil
	default:
		return nil, errors.New("unknown artifact")
	}
}

func toPlatform(p ocispec.Platform) imagelist.Platform {
	return imagelist.Platform{OS: p.OS, Architecture: p.Architecture, Variant: p.Variant}
}
