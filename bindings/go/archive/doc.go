// Package archive implements the hangar archive: a content addressed store of image blobs
// with an index describing the images and files it holds.
//
// An archive is laid out as
//
//	index.json
//	blobs/sha256.<hex>
//
// and is stored either as a directory or as a TAR stream that is optionally compressed
// with gzip (FormatTGZ) or zstd (FormatTZST) and optionally split into parts
// (<name>.part0 … <name>.partN). TAR based archives are extracted to a temporary
// directory to be worked on and written back once the work is done, see WorkWithin.
package archive
