package stream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

func descriptorFor(t *testing.T, content string, etag string, supportsRange bool) *storage.StreamDescriptor {
	t.Helper()
	size := int64(len(content))
	ct := "text/plain"
	return &storage.StreamDescriptor{
		Size:        &size,
		ContentType: &ct,
		ETag:        etag,
		GetStream: func(ctx context.Context, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			return &storage.StreamHandle{Stream: io.NopCloser(strings.NewReader(content)), SupportsRange: supportsRange}, nil
		},
		GetRange: func(ctx context.Context, r storage.RangeSpec, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			if !supportsRange {
				return &storage.StreamHandle{Stream: io.NopCloser(strings.NewReader(content)), SupportsRange: false}, nil
			}
			end := r.End
			if end < 0 || end >= int64(len(content)) {
				end = int64(len(content)) - 1
			}
			return &storage.StreamHandle{Stream: io.NopCloser(strings.NewReader(content[r.Start : end+1])), SupportsRange: true}, nil
		},
	}
}

// TestRangeReadKnownSize reproduces spec scenario 1: a 1000-byte file,
// Range: bytes=100-199 -> 206, Content-Length 100, correct Content-Range.
func TestRangeReadKnownSize(t *testing.T) {
	content := strings.Repeat("x", 1000)
	desc := descriptorFor(t, content, `"v1"`, true)

	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelFSWeb, RangeHeader: "bytes=100-199"})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer rr.Close()

	if rr.Status != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Status)
	}
	if rr.Headers.Get("Content-Length") != "100" {
		t.Fatalf("expected Content-Length 100, got %s", rr.Headers.Get("Content-Length"))
	}
	if rr.Headers.Get("Content-Range") != "bytes 100-199/1000" {
		t.Fatalf("unexpected Content-Range: %s", rr.Headers.Get("Content-Range"))
	}
	if rr.Headers.Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected Accept-Ranges: bytes")
	}
	body, _ := io.ReadAll(rr.GetBody().Stream)
	if string(body) != content[100:200] {
		t.Fatalf("body mismatch")
	}
}

// TestUnsatisfiableRange reproduces spec scenario 2.
func TestUnsatisfiableRange(t *testing.T) {
	content := strings.Repeat("x", 1000)
	desc := descriptorFor(t, content, `"v1"`, true)

	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelFSWeb, RangeHeader: "bytes=2000-2999"})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer rr.Close()

	if rr.Status != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rr.Status)
	}
	if rr.Headers.Get("Content-Range") != "bytes */1000" {
		t.Fatalf("unexpected Content-Range: %s", rr.Headers.Get("Content-Range"))
	}
	if rr.GetBody() != nil {
		t.Fatalf("expected empty body for 416")
	}
}

// TestConditionalGetNotModified reproduces spec scenario 3.
func TestConditionalGetNotModified(t *testing.T) {
	content := "hello"
	desc := descriptorFor(t, content, `"v1"`, true)

	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelFSWeb, IfNoneMatch: `"v1"`})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer rr.Close()

	if rr.Status != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr.Status)
	}
	if rr.Headers.Get("ETag") != `"v1"` {
		t.Fatalf("expected ETag echoed")
	}
	if rr.GetBody() != nil {
		t.Fatalf("expected empty body for 304")
	}
}

func TestIfMatchPreconditionFailed(t *testing.T) {
	desc := descriptorFor(t, "hello", `"v1"`, true)

	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelFSWeb, IfMatch: `"v2"`})
	if err != nil {
		t.Fatal(err)
	}
	defer rr.Close()
	if rr.Status != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", rr.Status)
	}
}

func TestSoftwareByteSlicingFallbackWhenDriverIgnoresRange(t *testing.T) {
	content := "0123456789"
	desc := descriptorFor(t, content, "", false) // driver always returns SupportsRange=false

	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelWebDAV, RangeHeader: "bytes=2-5"})
	if err != nil {
		t.Fatal(err)
	}
	defer rr.Close()
	if rr.Status != http.StatusPartialContent {
		t.Fatalf("expected 206 via software slicing, got %d", rr.Status)
	}
	body, _ := io.ReadAll(rr.GetBody().Stream)
	if string(body) != "2345" {
		t.Fatalf("expected sliced body '2345', got %q", body)
	}
}

func TestSuffixRangeUnknownSizeDegradesTo200(t *testing.T) {
	desc := descriptorFor(t, "0123456789", "", true)
	desc.Size = nil

	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelFSWeb, RangeHeader: "bytes=-5"})
	if err != nil {
		t.Fatal(err)
	}
	defer rr.Close()
	if rr.Status != http.StatusOK {
		t.Fatalf("expected 200 degrade for unknown-size suffix range, got %d", rr.Status)
	}
}

func TestOpenRangeKnownSizeClampsEnd(t *testing.T) {
	content := strings.Repeat("y", 50)
	desc := descriptorFor(t, content, "", true)

	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelFSWeb, RangeHeader: "bytes=40-"})
	if err != nil {
		t.Fatal(err)
	}
	defer rr.Close()
	if rr.Status != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Status)
	}
	if rr.Headers.Get("Content-Range") != "bytes 40-49/50" {
		t.Fatalf("unexpected Content-Range: %s", rr.Headers.Get("Content-Range"))
	}
}

func TestCachePolicyByChannel(t *testing.T) {
	cases := map[Channel]string{
		ChannelFSWeb:       "private, no-cache",
		ChannelWebDAV:      "private, no-cache",
		ChannelProxy:       "public, max-age=3600",
		ChannelShare:       "public, max-age=3600",
		ChannelInternalJob: "no-store",
	}
	for ch, want := range cases {
		if got := cachePolicy(ch); got != want {
			t.Errorf("cachePolicy(%s) = %q, want %q", ch, got, want)
		}
	}
}

func TestWeakETagMatchIgnoresWPrefix(t *testing.T) {
	desc := descriptorFor(t, "hello", `W/"v1"`, true)
	rr, err := Serve(context.Background(), desc, Request{Channel: ChannelFSWeb, IfNoneMatch: `"v1"`})
	if err != nil {
		t.Fatal(err)
	}
	defer rr.Close()
	if rr.Status != http.StatusNotModified {
		t.Fatalf("expected weak ETag comparison to match, got status %d", rr.Status)
	}
}
