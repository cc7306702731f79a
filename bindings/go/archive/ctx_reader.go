package archive

import (
	"context"
	"io"
)

// cancelableReader stops reading once ctx is done.
// Regular files do not support read deadlines, so cancellation is checked between reads.
type cancelableReader struct {
	ctx context.Context
	io.Reader
}

func withContext(ctx context.Context, r io.Reader) io.Reader {
	return &cancelableReader{ctx: ctx, Reader: r}
}

func (r *cancelableReader) Read(p []byte) (int, error) {
	if err := context.Cause(r.ctx); err != nil {
		return 0, err
	}
	return r.Reader.Read(p)
}
