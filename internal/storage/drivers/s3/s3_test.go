package s3

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// fakeBucket is a minimal in-memory S3 endpoint covering just the
// verbs the driver issues: GET/PUT/HEAD/DELETE object, list-objects-v2
// and multi-object delete, enough to exercise the driver against the
// real AWS SDK client pointed at a custom endpoint the way the
// teacher's test suite points at MinIO/Ceph in CI.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *httptest.Server {
	fb := &fakeBucket{objects: map[string][]byte{}}
	return httptest.NewServer(http.HandlerFunc(fb.handle))
}

type listResult struct {
	XMLName        xml.Name `xml:"ListBucketResult"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
	Contents []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
}

func (fb *fakeBucket) handle(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}

	if key == "" && r.URL.Query().Get("list-type") == "2" {
		fb.list(w, bucket, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Query().Has("delete") {
		fb.batchDelete(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if copySrc := r.Header.Get("X-Amz-Copy-Source"); copySrc != "" {
			fb.copy(w, key, copySrc)
			return
		}
		body, _ := io.ReadAll(r.Body)
		fb.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		data, ok := fb.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := fb.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code></Error>`)
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		w.Write(data)
	case http.MethodDelete:
		delete(fb.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (fb *fakeBucket) copy(w http.ResponseWriter, destKey, copySource string) {
	idx := strings.Index(copySource, "/")
	srcKey := ""
	if idx >= 0 {
		srcKey = copySource[idx+1:]
	}
	data, ok := fb.objects[srcKey]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fb.objects[destKey] = data
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<CopyObjectResult></CopyObjectResult>`)
}

func (fb *fakeBucket) list(w http.ResponseWriter, bucket string, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	delim := r.URL.Query().Get("delimiter")
	seen := map[string]bool{}
	var res listResult
	for key, data := range fb.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if delim != "" {
			if idx := strings.Index(rest, delim); idx >= 0 {
				cp := prefix + rest[:idx+1]
				if !seen[cp] {
					seen[cp] = true
					res.CommonPrefixes = append(res.CommonPrefixes, struct {
						Prefix string `xml:"Prefix"`
					}{Prefix: cp})
				}
				continue
			}
		}
		res.Contents = append(res.Contents, struct {
			Key  string `xml:"Key"`
			Size int64  `xml:"Size"`
		}{Key: key, Size: int64(len(data))})
	}
	w.Header().Set("Content-Type", "application/xml")
	xml.NewEncoder(w).Encode(res)
}

func (fb *fakeBucket) batchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		XMLName xml.Name `xml:"Delete"`
		Objects []struct {
			Key string `xml:"Key"`
		} `xml:"Object"`
	}
	body, _ := io.ReadAll(r.Body)
	xml.Unmarshal(body, &req)
	for _, o := range req.Objects {
		delete(fb.objects, o.Key)
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, `<DeleteResult></DeleteResult>`)
}

func newTestDriver(t *testing.T, srv *httptest.Server) *Driver {
	t.Helper()
	cfg, err := json.Marshal(Config{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "test-bucket",
		ForcePathStyle: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	d, caps, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := storage.ValidateContract(d, caps); err != nil {
		t.Fatalf("contract: %v", err)
	}
	return d.(*Driver)
}

func TestUploadGetFileInfoDownload(t *testing.T) {
	ctx := context.Background()
	srv := newFakeBucket()
	defer srv.Close()
	d := newTestDriver(t, srv)

	if err := d.UploadFile(ctx, "/dir/hello.txt", strings.NewReader("hello world"), storage.UploadOptions{}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	info, err := d.GetFileInfo(ctx, "/dir/hello.txt", storage.GetOptions{})
	if err != nil {
		t.Fatalf("get file info: %v", err)
	}
	if info.Size != 11 {
		t.Fatalf("expected size 11, got %d", info.Size)
	}

	desc, err := d.DownloadFile(ctx, "/dir/hello.txt", storage.DownloadOptions{})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	handle, err := desc.GetStream(ctx, storage.DownloadOptions{})
	if err != nil {
		t.Fatalf("getstream: %v", err)
	}
	defer handle.Close()
	data, _ := io.ReadAll(handle.Stream)
	if string(data) != "hello world" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestGetFileInfoNotFound(t *testing.T) {
	ctx := context.Background()
	srv := newFakeBucket()
	defer srv.Close()
	d := newTestDriver(t, srv)

	if _, err := d.GetFileInfo(ctx, "/missing.txt", storage.GetOptions{}); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestCopyAndBatchRemove(t *testing.T) {
	ctx := context.Background()
	srv := newFakeBucket()
	defer srv.Close()
	d := newTestDriver(t, srv)
	_ = d.UploadFile(ctx, "/a.txt", strings.NewReader("content"), storage.UploadOptions{})

	res, err := d.CopyItem(ctx, "/a.txt", "/b.txt", storage.CopyOptions{})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if res.Status != storage.CopySuccess {
		t.Fatalf("unexpected copy result: %+v", res)
	}

	removed, err := d.BatchRemoveItems(ctx, []string{"/a.txt", "/b.txt"}, storage.Options{})
	if err != nil {
		t.Fatalf("batch remove: %v", err)
	}
	if removed.Success != 2 {
		t.Fatalf("expected 2 removed, got %+v", removed)
	}
}

func TestGenerateDownloadURL(t *testing.T) {
	ctx := context.Background()
	srv := newFakeBucket()
	defer srv.Close()
	d := newTestDriver(t, srv)
	_ = d.UploadFile(ctx, "/a.txt", strings.NewReader("content"), storage.UploadOptions{})

	link, err := d.GenerateDownloadURL(ctx, "/a.txt", storage.LinkOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if link.URL == "" || link.Type != storage.LinkNativeDirect {
		t.Fatalf("unexpected link: %+v", link)
	}
}
