package stream

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

type rangeOutcome int

const (
	rangeSatisfiable rangeOutcome = iota
	rangeUnsatisfiable
	rangeDegradeToFull
)

// parseRange parses an HTTP Range header of the three forms spec
// §4.E names (`bytes=a-b`, `bytes=a-`, `bytes=-n`) against a possibly
// unknown size, returning the resolved spec and how to treat it.
func parseRange(header string, size *int64) (storage.RangeSpec, rangeOutcome) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return storage.RangeSpec{}, rangeDegradeToFull
	}
	spec := strings.TrimPrefix(header, prefix)
	// Only a single range is supported; a multi-range header degrades
	// to a full response rather than multipart/byteranges.
	if strings.Contains(spec, ",") {
		return storage.RangeSpec{}, rangeDegradeToFull
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return storage.RangeSpec{}, rangeDegradeToFull
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// Suffix range bytes=-n: last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return storage.RangeSpec{}, rangeDegradeToFull
		}
		if size == nil {
			// Unknown size + suffix range degrades to 200 per spec §4.E.
			return storage.RangeSpec{}, rangeDegradeToFull
		}
		start := *size - n
		if start < 0 {
			start = 0
		}
		return storage.RangeSpec{Start: start, End: *size - 1}, rangeSatisfiable
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return storage.RangeSpec{}, rangeDegradeToFull
	}

	if endStr == "" {
		// Open range bytes=a-.
		if size == nil {
			return storage.RangeSpec{Start: start, End: -1}, rangeSatisfiable
		}
		if start >= *size {
			return storage.RangeSpec{}, rangeUnsatisfiable
		}
		return storage.RangeSpec{Start: start, End: *size - 1}, rangeSatisfiable
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return storage.RangeSpec{}, rangeDegradeToFull
	}
	if size != nil {
		if start >= *size {
			return storage.RangeSpec{}, rangeUnsatisfiable
		}
		if end > *size-1 {
			end = *size - 1
		}
	}
	return storage.RangeSpec{Start: start, End: end}, rangeSatisfiable
}

// rangeHandle obtains a handle for rng, preferring the driver's
// native getRange and falling back to software byte-slicing of the
// full stream when the driver has none, or when it reports
// SupportsRange=false (the WebDAV-server-ignored-my-Range-header
// case, spec §9).
func rangeHandle(ctx context.Context, descriptor *storage.StreamDescriptor, rng storage.RangeSpec) (*storage.StreamHandle, error) {
	if descriptor.GetRange != nil {
		handle, err := descriptor.GetRange(ctx, rng, storage.DownloadOptions{})
		if err != nil {
			return nil, err
		}
		if handle.SupportsRange {
			return handle, nil
		}
		return sliceHandle(handle, rng), nil
	}
	handle, err := descriptor.GetStream(ctx, storage.DownloadOptions{})
	if err != nil {
		return nil, err
	}
	return sliceHandle(handle, rng), nil
}

// weakETag strips a leading W/ for weak-comparison purposes, spec
// §4.E step 2.
func weakETag(etag string) string {
	return strings.TrimPrefix(etag, "W/")
}

func notModified(req Request, etag string, modified *time.Time) bool {
	if req.IfNoneMatch != "" {
		return etagMatches(req.IfNoneMatch, etag)
	}
	if req.IfModifiedSince != "" && modified != nil {
		since, err := time.Parse(http.TimeFormat, req.IfModifiedSince)
		if err == nil {
			return !modified.After(since)
		}
	}
	return false
}

func preconditionFailed(req Request, etag string, modified *time.Time) bool {
	if req.IfMatch != "" {
		return !etagMatches(req.IfMatch, etag)
	}
	if req.IfUnmodifiedSince != "" && modified != nil {
		since, err := time.Parse(http.TimeFormat, req.IfUnmodifiedSince)
		if err == nil {
			return modified.After(since)
		}
	}
	return false
}

func etagMatches(headerValue, etag string) bool {
	if headerValue == "*" {
		return etag != ""
	}
	for _, candidate := range strings.Split(headerValue, ",") {
		if weakETag(strings.TrimSpace(candidate)) == etag {
			return true
		}
	}
	return false
}
