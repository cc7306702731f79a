package transfer

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
)

// Artifact is what a TransferSpec resolves to at its source.
// It is either a SingleImage or a ManifestList.
type Artifact interface {
	// Descriptor describes the manifest or manifest list the source reference points to.
	Descriptor() ocispec.Descriptor
	isArtifact()
}

// SingleImage is a single platform manifest.
type SingleImage struct {
	Desc     ocispec.Descriptor
	Platform ocispec.Platform
}

func (s SingleImage) Descriptor() ocispec.Descriptor { return s.Desc }
func (SingleImage) isArtifact()                      {}

// ManifestList is a multi-platform image.
type ManifestList struct {
	Desc ocispec.Descriptor
	// Raw is the unchanged source list. It is nil if the source cannot provide it.
	Raw         []byte
	Annotations map[string]string
	Entries     []manifestlist.Entry
}

func (m ManifestList) Descriptor() ocispec.Descriptor { return m.Desc }
func (ManifestList) isArtifact()                      {}

// covers reports whether jobs copy every entry of the list.
func (m ManifestList) covers(jobs []Job) bool {
	copied := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		copied[job.Descriptor.Digest.String()] = true
	}
	for _, e := range m.Entries {
		if !copied[e.Digest.String()] {
			return false
		}
	}
	return true
}
