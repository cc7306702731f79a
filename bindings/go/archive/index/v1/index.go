// Package v1 contains the on-disk index of a hangar archive.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
)

const (
	// Version is the index version written by this package.
	Version = "v1.2.0"
	// MinimumVersion is the oldest index version that can still be read.
	MinimumVersion = "v1.2.0"
	// IndexFileName is the name of the index file in the root of an archive.
	IndexFileName = "index.json"
)

var ErrIncompatibleVersion = errors.New("incompatible archive index version")

// Index describes the images and objects stored in an archive.
// It is safe for concurrent use.
type Index interface {
	// AddImage adds an image to the index.
	// If an image with the same source and tag already exists, its platform specs are merged,
	// where specs of img replace existing specs of the same platform.
	AddImage(img Image)
	// Images returns a snapshot of all images in insertion order.
	Images() []Image
	// Image returns the image with the given source and tag.
	Image(source, tag string) (Image, bool)
	// RemoveImage deletes the image with the given source and tag.
	RemoveImage(source, tag string) bool

	// AddObject adds or replaces the object with the name of obj.
	AddObject(obj Object) (replaced bool)
	// Objects returns a snapshot of all objects in insertion order.
	Objects() []Object
	// Object returns the object with the given name.
	Object(name string) (Object, bool)

	// Merge adds all images and objects of other, where other wins on conflicts.
	Merge(other Index)
	// Digests returns every blob digest referenced by the index, sorted and deduplicated.
	Digests() []string
	// Version returns the version the index was written with.
	Version() string
	// Touch sets the modification time of the index.
	Touch(t time.Time)
}

type index struct {
	mu sync.RWMutex

	IndexVersion string    `json:"version"`
	Time         time.Time `json:"time,omitzero"`
	ImageList    []Image   `json:"images"`
	ObjectList   []Object  `json:"objects,omitempty"`
}

// Image is an image repository tag stored in the archive with one or more platform manifests.
type Image struct {
	// Source is the fully qualified repository the image was copied from, e.g. docker.io/library/nginx.
	Source string `json:"source"`
	// Tag is the tag or digest the image was selected by.
	Tag string `json:"tag"`
	// MediaType is the media type of the source artifact (image manifest or manifest list).
	MediaType string `json:"mediaType,omitempty"`
	// Digest is the digest of the source manifest list if it is stored unchanged in the archive.
	// It is only set while Images holds every entry of that list.
	Digest string `json:"digest,omitempty"`
	// Annotations of the source manifest list.
	Annotations map[string]string `json:"annotations,omitempty"`
	// ArchList and OSList summarize the platforms of Images.
	ArchList []string `json:"archList"`
	OSList   []string `json:"osList"`
	// Images are the platform specific manifests of the image.
	Images []ImageSpec `json:"images"`
}

// ImageSpec is a single platform manifest of an Image.
type ImageSpec struct {
	OS          string            `json:"os,omitempty"`
	Arch        string            `json:"arch,omitempty"`
	Variant     string            `json:"variant,omitempty"`
	OSVersion   string            `json:"osVersion,omitempty"`
	OSFeatures  []string          `json:"osFeatures,omitempty"`
	MediaType   string            `json:"mediaType"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	Config      string            `json:"config,omitempty"`
	Layers      []string          `json:"layers"`
	Annotations map[string]string `json:"annotations,omitempty"`

	// TotalSize is the sum of manifest, config and layer sizes.
	TotalSize int64 `json:"totalSize,omitempty"`
}

// Object is a named file stored in the archive next to the images.
type Object struct {
	Name        string            `json:"name"`
	Project     string            `json:"project,omitempty"`
	MediaType   string            `json:"mediaType"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Reference returns the image reference in the form source:tag or source@digest.
func (img Image) Reference() string {
	if _, err := digest.Parse(img.Tag); err == nil {
		return img.Source + "@" + img.Tag
	}
	return img.Source + ":" + img.Tag
}

// Key identifies the platform of the image.
// Attestation manifests share the platform unknown/unknown and are told apart by the manifest they reference.
func (s ImageSpec) Key() string {
	key := s.OS + "/" + s.Arch
	if s.Variant != "" {
		key += "/" + s.Variant
	}
	if ref := s.Annotations[AnnotationReferenceDigest]; ref != "" {
		key += "@" + ref
	}
	return key
}

// Platform returns os/arch[/variant] of the image.
func (s ImageSpec) Platform() string {
	p := s.OS + "/" + s.Arch
	if s.Variant != "" {
		p += "/" + s.Variant
	}
	return p
}

// Digests returns the manifest, config and layer digests of the image.
func (s ImageSpec) Digests() []string {
	digests := make([]string, 0, len(s.Layers)+2)
	digests = append(digests, s.Digest)
	if s.Config != "" {
		digests = append(digests, s.Config)
	}
	return append(digests, s.Layers...)
}

// AnnotationReferenceDigest is set by BuildKit on attestation manifests to the manifest they describe.
const AnnotationReferenceDigest = "vnd.docker.reference.digest"

// DecodeIndex reads an Index from the provided reader.
func DecodeIndex(data io.Reader) (Index, error) {
	var d index

	decoder := json.NewDecoder(data)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&d); err != nil {
		return nil, err
	}

	if err := CheckVersion(d.IndexVersion); err != nil {
		return nil, err
	}

	return &d, nil
}

// CheckVersion returns ErrIncompatibleVersion if an index of version cannot be read.
func CheckVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q is not a semantic version: %w", ErrIncompatibleVersion, version, err)
	}
	current, minimum := semver.MustParse(Version), semver.MustParse(MinimumVersion)
	if v.LessThan(minimum) {
		return fmt.Errorf("%w: %s is older than the minimum supported version %s", ErrIncompatibleVersion, version, MinimumVersion)
	}
	if v.Major() != current.Major() {
		return fmt.Errorf("%w: %s is not supported by index version %s", ErrIncompatibleVersion, version, Version)
	}
	return nil
}

// Encode serializes the Index to a byte slice.
func Encode(d Index) ([]byte, error) {
	if i, ok := d.(*index); ok {
		i.mu.RLock()
		defer i.mu.RUnlock()
	}
	return json.MarshalIndent(d, "", "  ")
}

// NewIndex creates a new empty Index of Version.
func NewIndex() Index {
	return &index{
		IndexVersion: Version,
		ImageList:    []Image{},
	}
}

func (i *index) Version() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.IndexVersion
}

func (i *index) Touch(t time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Time = t.UTC()
	i.IndexVersion = Version
}

func (i *index) AddImage(img Image) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.addImage(img)
}

func (i *index) addImage(img Image) {
	img = cloneImage(img)
	for idx, existing := range i.ImageList {
		if existing.Source != img.Source || existing.Tag != img.Tag {
			continue
		}
		merged := existing
		merged.Images = mergeSpecs(existing.Images, img.Images)
		if img.MediaType != "" {
			merged.MediaType = img.MediaType
		}
		if img.Annotations != nil {
			merged.Annotations = img.Annotations
		}
		// a stored list is kept only if it describes exactly the merged specs
		switch {
		case img.Digest != "" && sameSpecs(merged.Images, img.Images):
			merged.Digest = img.Digest
		case existing.Digest != "" && sameSpecs(merged.Images, existing.Images):
			merged.Digest, merged.MediaType, merged.Annotations = existing.Digest, existing.MediaType, existing.Annotations
		default:
			merged.Digest = ""
		}
		summarize(&merged)
		i.ImageList[idx] = merged
		return
	}
	summarize(&img)
	i.ImageList = append(i.ImageList, img)
}

// mergeSpecs keeps the order of existing specs, replaces specs of the same platform
// with the ones from added and appends new platforms in the order of added.
func mergeSpecs(existing, added []ImageSpec) []ImageSpec {
	merged := slices.Clone(existing)
	for _, spec := range added {
		if idx := slices.IndexFunc(merged, func(s ImageSpec) bool { return s.Key() == spec.Key() }); idx >= 0 {
			merged[idx] = spec
		} else {
			merged = append(merged, spec)
		}
	}
	return merged
}

// sameSpecs reports whether a and b hold the same manifests per platform, in any order.
func sameSpecs(a, b []ImageSpec) bool {
	if len(a) != len(b) {
		return false
	}
	digests := make(map[string]string, len(a))
	for _, spec := range a {
		digests[spec.Key()] = spec.Digest
	}
	for _, spec := range b {
		if d, ok := digests[spec.Key()]; !ok || d != spec.Digest {
			return false
		}
	}
	return true
}

func summarize(img *Image) {
	img.ArchList, img.OSList = []string{}, []string{}
	for _, spec := range img.Images {
		if spec.Annotations[AnnotationReferenceDigest] != "" {
			continue
		}
		if spec.Arch != "" && !slices.Contains(img.ArchList, spec.Arch) {
			img.ArchList = append(img.ArchList, spec.Arch)
		}
		if spec.OS != "" && !slices.Contains(img.OSList, spec.OS) {
			img.OSList = append(img.OSList, spec.OS)
		}
	}
}

func (i *index) Images() []Image {
	i.mu.RLock()
	defer i.mu.RUnlock()
	images := make([]Image, 0, len(i.ImageList))
	for _, img := range i.ImageList {
		images = append(images, cloneImage(img))
	}
	return images
}

func (i *index) Image(source, tag string) (Image, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, img := range i.ImageList {
		if img.Source == source && img.Tag == tag {
			return cloneImage(img), true
		}
	}
	return Image{}, false
}

func (i *index) RemoveImage(source, tag string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	before := len(i.ImageList)
	i.ImageList = slices.DeleteFunc(i.ImageList, func(img Image) bool {
		return img.Source == source && img.Tag == tag
	})
	return len(i.ImageList) != before
}

func (i *index) AddObject(obj Object) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.addObject(obj)
}

func (i *index) addObject(obj Object) bool {
	for idx, existing := range i.ObjectList {
		if existing.Name == obj.Name {
			i.ObjectList[idx] = obj
			return true
		}
	}
	i.ObjectList = append(i.ObjectList, obj)
	return false
}

func (i *index) Objects() []Object {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.ObjectList)
}

func (i *index) Object(name string) (Object, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, obj := range i.ObjectList {
		if obj.Name == name {
			return obj, true
		}
	}
	return Object{}, false
}

func (i *index) Merge(other Index) {
	images, objects := other.Images(), other.Objects()
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, img := range images {
		i.addImage(img)
	}
	for _, obj := range objects {
		i.addObject(obj)
	}
}

func (i *index) Digests() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var digests []string
	for _, img := range i.ImageList {
		if img.Digest != "" {
			digests = append(digests, img.Digest)
		}
		for _, spec := range img.Images {
			digests = append(digests, spec.Digests()...)
		}
	}
	for _, obj := range i.ObjectList {
		digests = append(digests, obj.Digest)
	}
	slices.Sort(digests)
	return slices.Compact(digests)
}

func cloneImage(img Image) Image {
	img.ArchList = slices.Clone(img.ArchList)
	img.OSList = slices.Clone(img.OSList)
	img.Images = slices.Clone(img.Images)
	img.Annotations = maps.Clone(img.Annotations)
	for idx, spec := range img.Images {
		spec.Layers = slices.Clone(spec.Layers)
		spec.OSFeatures = slices.Clone(spec.OSFeatures)
		img.Images[idx] = spec
	}
	return img
}

// ParseReference splits a reference of the form source:tag or source@digest.
func ParseReference(reference string) (source, tag string) {
	if i := strings.LastIndex(reference, "@"); i >= 0 {
		return reference[:i], reference[i+1:]
	}
	i := strings.LastIndex(reference, ":")
	if i < 0 || strings.Contains(reference[i:], "/") {
		return reference, "latest"
	}
	return reference[:i], reference[i+1:]
}
