package archive

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"strings"

	"ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
)

// EntryKind distinguishes images from objects in a listing.
type EntryKind string

const (
	EntryKindImage  EntryKind = "image"
	EntryKindObject EntryKind = "object"
)

// Entry is one line of an archive listing: a platform manifest of an image or a stored object.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Reference string    `json:"reference"`
	OS        string    `json:"os,omitempty"`
	Arch      string    `json:"arch,omitempty"`
	Variant   string    `json:"variant,omitempty"`
	MediaType string    `json:"mediaType"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
}

// Platform returns os/arch[/variant] of an image entry.
func (e Entry) Platform() string {
	if e.OS == "" && e.Arch == "" {
		return ""
	}
	p := e.OS + "/" + e.Arch
	if e.Variant != "" {
		p += "/" + e.Variant
	}
	return p
}

// List returns the entries of the archive in the order they were added, images first.
// The index is read when the sequence is first iterated; a failure is yielded as the only element.
func List(ctx context.Context, a ReadOnlyIndexStore) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		idx, err := a.GetIndex(ctx)
		if err != nil {
			yield(Entry{}, fmt.Errorf("unable to get index: %w", err))
			return
		}
		for _, img := range idx.Images() {
			for _, spec := range img.Images {
				size := spec.TotalSize
				if size == 0 {
					size = spec.Size
				}
				if !yield(Entry{
					Kind:      EntryKindImage,
					Reference: img.Reference(),
					OS:        spec.OS,
					Arch:      spec.Arch,
					Variant:   spec.Variant,
					MediaType: spec.MediaType,
					Digest:    spec.Digest,
					Size:      size,
				}, nil) {
					return
				}
			}
		}
		for _, obj := range idx.Objects() {
			if !yield(Entry{
				Kind:      EntryKindObject,
				Reference: obj.Name,
				MediaType: obj.MediaType,
				Digest:    obj.Digest,
				Size:      obj.Size,
			}, nil) {
				return
			}
		}
	}
}

// indexStore serves an already read index, for example one returned by ReadIndex.
type indexStore struct {
	index v1.Index
}

func (s indexStore) GetIndex(context.Context) (v1.Index, error) {
	return s.index, nil
}

// IndexStoreOf wraps idx so that it can be passed to List.
func IndexStoreOf(idx v1.Index) ReadOnlyIndexStore {
	return indexStore{index: idx}
}

// Equivalent reports whether a and b hold the same images and objects with the same content,
// regardless of the order they were added in or the format they are stored in.
func Equivalent(ctx context.Context, a, b Archive) (bool, error) {
	contentsA, err := contents(ctx, a)
	if err != nil {
		return false, err
	}
	contentsB, err := contents(ctx, b)
	if err != nil {
		return false, err
	}
	return maps.Equal(contentsA, contentsB), nil
}

// contents maps every stored manifest list, image platform and object to the digests it references,
// failing if a referenced blob is missing.
func contents(ctx context.Context, a Archive) (map[string]string, error) {
	if err := Verify(ctx, a); err != nil {
		return nil, err
	}
	idx, err := a.GetIndex(ctx)
	if err != nil {
		return nil, err
	}
	result := map[string]string{}
	for _, img := range idx.Images() {
		if img.Digest != "" {
			result[img.Reference()+" list"] = img.Digest
		}
		for _, spec := range img.Images {
			result[img.Reference()+" "+spec.Key()] = strings.Join(spec.Digests(), ",")
		}
	}
	for _, obj := range idx.Objects() {
		result["object "+obj.Name] = obj.Digest
	}
	return result, nil
}
