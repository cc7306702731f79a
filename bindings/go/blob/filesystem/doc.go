// Package filesystem provides blobs and a rooted file system backed by the operating system.
//
// The RootFileSystem confines every operation to one directory through os.Root, which is how
// archive directories are accessed. Blob exposes a single file as a blob.ReadOnlyBlob.
package filesystem
