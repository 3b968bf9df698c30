package stream

import (
	"io"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// slicingReader skips Start bytes of the wrapped stream and then
// limits reads to the remaining span of the range, for drivers whose
// getStream/getRange cannot honor a byte range natively.
type slicingReader struct {
	inner     io.ReadCloser
	toSkip    int64
	remaining int64 // -1 means unbounded (open range on an unknown-size stream)
	skipped   bool
}

func sliceHandle(handle *storage.StreamHandle, rng storage.RangeSpec) *storage.StreamHandle {
	remaining := int64(-1)
	if rng.End >= 0 {
		remaining = rng.End - rng.Start + 1
	}
	return &storage.StreamHandle{
		Stream: &slicingReader{inner: handle.Stream, toSkip: rng.Start, remaining: remaining},
		SupportsRange: true,
	}
}

func (s *slicingReader) Read(p []byte) (int, error) {
	if !s.skipped {
		if err := discard(s.inner, s.toSkip); err != nil {
			return 0, err
		}
		s.skipped = true
	}
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if s.remaining > 0 && int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.inner.Read(p)
	if s.remaining > 0 {
		s.remaining -= int64(n)
	}
	return n, err
}

func (s *slicingReader) Close() error { return s.inner.Close() }

// discard reads and drops exactly n bytes from r.
func discard(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
