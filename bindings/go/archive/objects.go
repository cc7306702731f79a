package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	"ocm.software/open-component-model/hangar/bindings/go/blob"
)

const (
	// ObjectProject is the project all stored files are grouped under.
	ObjectProject = "hangar-file"
	// DefaultObjectMediaType is used for objects whose media type is unknown.
	DefaultObjectMediaType = "application/octet-stream"
	// FileMediaType is the media type of files stored with the CLI.
	FileMediaType = "application/vnd.content.hangar.file.layer.v1"
)

var (
	ErrObjectExists   = errors.New("object already exists in archive")
	ErrObjectNotFound = errors.New("object not found in archive")
)

// StoreObjectOptions configure StoreObject.
type StoreObjectOptions struct {
	// Name under which the object is stored, usually the base name of the file.
	Name        string
	Annotations map[string]string
	// Overwrite replaces an existing object of the same name.
	Overwrite bool
}

// StoreObject saves b as a named object in the archive.
// The blob must know its digest. Without Overwrite, an existing object of the same name
// results in ErrObjectExists.
func StoreObject(ctx context.Context, a Archive, b blob.ReadOnlyBlob, opts StoreObjectOptions) (v1.Object, error) {
	if opts.Name == "" {
		return v1.Object{}, errors.New("object name must not be empty")
	}
	idx, err := a.GetIndex(ctx)
	if err != nil {
		return v1.Object{}, fmt.Errorf("unable to get index: %w", err)
	}
	if _, exists := idx.Object(opts.Name); exists && !opts.Overwrite {
		return v1.Object{}, fmt.Errorf("%w: %s", ErrObjectExists, opts.Name)
	}

	obj := v1.Object{
		Name:        opts.Name,
		Project:     ObjectProject,
		MediaType:   DefaultObjectMediaType,
		Size:        blob.SizeUnknown,
		Annotations: opts.Annotations,
	}
	if mt, ok := b.(blob.MediaTypeAware); ok {
		if mediaType, known := mt.MediaType(); known && mediaType != "" {
			obj.MediaType = mediaType
		}
	}
	if da, ok := b.(blob.DigestAware); ok {
		obj.Digest, _ = da.Digest()
	}
	if obj.Digest == "" {
		return v1.Object{}, fmt.Errorf("digest of object %s cannot be determined", opts.Name)
	}
	if sa, ok := b.(blob.SizeAware); ok {
		obj.Size = sa.Size()
	}

	if err := a.SaveBlob(ctx, b); err != nil {
		return v1.Object{}, fmt.Errorf("unable to save object %s: %w", opts.Name, err)
	}
	idx.AddObject(obj)
	if err := a.SetIndex(ctx, idx); err != nil {
		return v1.Object{}, fmt.Errorf("unable to set index: %w", err)
	}
	return obj, nil
}

// GetObject returns the blob and metadata of the named object.
func GetObject(ctx context.Context, a Archive, name string) (blob.ReadOnlyBlob, v1.Object, error) {
	idx, err := a.GetIndex(ctx)
	if err != nil {
		return nil, v1.Object{}, fmt.Errorf("unable to get index: %w", err)
	}
	obj, ok := idx.Object(name)
	if !ok {
		return nil, v1.Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	b, err := a.GetBlob(ctx, obj.Digest)
	if err != nil {
		return nil, v1.Object{}, fmt.Errorf("unable to get blob of object %s: %w", name, err)
	}
	if mt, ok := b.(blob.MediaTypeOverrideable); ok {
		mt.SetMediaType(obj.MediaType)
	}
	return b, obj, nil
}

// ExportObject writes the content of the named object to w.
func ExportObject(ctx context.Context, a Archive, name string, w io.Writer) (v1.Object, error) {
	b, obj, err := GetObject(ctx, a, name)
	if err != nil {
		return v1.Object{}, err
	}
	if _, err := blob.Copy(w, b); err != nil {
		return v1.Object{}, fmt.Errorf("unable to export object %s: %w", name, err)
	}
	return obj, nil
}
