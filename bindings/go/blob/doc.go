// Package blob provides the minimal interfaces used to pass Binary Large Objects (BLOBs)
// between the archive store, the compression layer and the transfer engine.
//
// A blob is only required to be readable (ReadOnlyBlob). Additional knowledge such as
// size, digest or media type is discovered through optional interfaces (SizeAware,
// DigestAware, MediaTypeAware) so that callers can skip buffering or verification when
// the information is already available.
package blob
