package webdav

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// fakeServer is a minimal in-memory WebDAV server exercising just
// enough of RFC 4918 for the driver's PROPFIND/GET/PUT/MKCOL/MOVE/COPY
// paths, mirroring the shape of requests the teacher's webdav backend
// issues against a real server.
type fakeServer struct {
	mu    sync.Mutex
	files map[string]string
	dirs  map[string]bool
}

func newFakeServer() *httptest.Server {
	fs := &fakeServer{files: map[string]string{}, dirs: map[string]bool{"/": true}}
	return httptest.NewServer(http.HandlerFunc(fs.handle))
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := r.URL.Path

	switch r.Method {
	case "PROPFIND":
		depth := r.Header.Get("Depth")
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?><d:multistatus xmlns:d="DAV:">`)
		if fs.dirs[p] {
			fmt.Fprintf(w, `<d:response><d:href>%s</d:href><d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop></d:propstat></d:response>`, p)
			if depth == "1" {
				prefix := strings.TrimSuffix(p, "/") + "/"
				for name, content := range fs.files {
					if strings.HasPrefix(name, prefix) && !strings.Contains(strings.TrimPrefix(name, prefix), "/") {
						fmt.Fprintf(w, `<d:response><d:href>%s</d:href><d:propstat><d:prop><d:getcontentlength>%d</d:getcontentlength></d:prop></d:propstat></d:response>`, name, len(content))
					}
				}
			}
		} else if content, ok := fs.files[p]; ok {
			fmt.Fprintf(w, `<d:response><d:href>%s</d:href><d:propstat><d:prop><d:getcontentlength>%d</d:getcontentlength></d:prop></d:propstat></d:response>`, p, len(content))
		} else {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `</d:multistatus>`)
	case http.MethodGet:
		content, ok := fs.files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			w.WriteHeader(http.StatusPartialContent)
			io.WriteString(w, content)
			return
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, content)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		fs.files[p] = string(body)
		w.WriteHeader(http.StatusCreated)
	case "MKCOL":
		fs.dirs[p] = true
		w.WriteHeader(http.StatusCreated)
	case "MOVE", "COPY":
		dest := r.Header.Get("Destination")
		destURL, _ := parseDestinationPath(dest)
		content, ok := fs.files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fs.files[destURL] = content
		if r.Method == "MOVE" {
			delete(fs.files, p)
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		delete(fs.files, p)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func parseDestinationPath(dest string) (string, error) {
	idx := strings.Index(dest, "://")
	if idx < 0 {
		return dest, nil
	}
	rest := dest[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "/", nil
	}
	return rest[slash:], nil
}

func newTestDriver(t *testing.T, srv *httptest.Server) *Driver {
	t.Helper()
	cfg, err := json.Marshal(Config{Endpoint: srv.URL})
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

func TestUploadListDownload(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	defer srv.Close()
	d := newTestDriver(t, srv)

	if err := d.UploadFile(ctx, "/dir/hello.txt", strings.NewReader("hello world"), storage.UploadOptions{OverwriteOK: true}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	listing, err := d.ListDirectory(ctx, "/dir", storage.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listing.Items) != 1 || listing.Items[0].Name != "hello.txt" {
		t.Fatalf("unexpected listing: %+v", listing.Items)
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
	if handle.SupportsRange {
		t.Fatalf("expected SupportsRange false for a plain 200 GET")
	}
}

func TestGetRangeReportsSupportsRange(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	defer srv.Close()
	d := newTestDriver(t, srv)
	_ = d.UploadFile(ctx, "/f.bin", strings.NewReader("0123456789"), storage.UploadOptions{OverwriteOK: true})

	desc, err := d.DownloadFile(ctx, "/f.bin", storage.DownloadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	handle, err := desc.GetRange(ctx, storage.RangeSpec{Start: 2, End: 5}, storage.DownloadOptions{})
	if err != nil {
		t.Fatalf("getrange: %v", err)
	}
	defer handle.Close()
	if !handle.SupportsRange {
		t.Fatalf("expected SupportsRange true for a 206 response")
	}
}

func TestRenameItem(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	defer srv.Close()
	d := newTestDriver(t, srv)
	_ = d.UploadFile(ctx, "/a.txt", strings.NewReader("content"), storage.UploadOptions{OverwriteOK: true})

	if err := d.RenameItem(ctx, "/a.txt", "/b.txt", storage.Options{}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := d.GetFileInfo(ctx, "/a.txt", storage.GetOptions{}); err == nil {
		t.Fatalf("expected /a.txt gone after rename")
	}
	info, err := d.GetFileInfo(ctx, "/b.txt", storage.GetOptions{})
	if err != nil || info.Size != 7 {
		t.Fatalf("unexpected /b.txt info: %+v err=%v", info, err)
	}
}

func TestCopyItem(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	defer srv.Close()
	d := newTestDriver(t, srv)
	_ = d.UploadFile(ctx, "/a.txt", strings.NewReader("content"), storage.UploadOptions{OverwriteOK: true})

	res, err := d.CopyItem(ctx, "/a.txt", "/c.txt", storage.CopyOptions{})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if res.Status != storage.CopySuccess || res.ContentLength != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := d.GetFileInfo(ctx, "/a.txt", storage.GetOptions{}); err != nil {
		t.Fatalf("source should survive a COPY: %v", err)
	}
}

func TestBatchRemoveItems(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	defer srv.Close()
	d := newTestDriver(t, srv)
	_ = d.UploadFile(ctx, "/a.txt", strings.NewReader("x"), storage.UploadOptions{OverwriteOK: true})

	result, err := d.BatchRemoveItems(ctx, []string{"/a.txt", "/missing.txt"}, storage.Options{})
	if err != nil {
		t.Fatalf("batch remove: %v", err)
	}
	if result.Success != 2 {
		t.Fatalf("expected 2 successes (missing treated as already-gone), got %+v", result)
	}
}

func TestHandleCrossStorageCopy(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	defer srv.Close()
	d := newTestDriver(t, srv)
	_ = d.UploadFile(ctx, "/a.txt", strings.NewReader("0123456789"), storage.UploadOptions{OverwriteOK: true})

	plan, err := d.HandleCrossStorageCopy(ctx, "/a.txt", "/b.txt", storage.CopyOptions{})
	if err != nil {
		t.Fatalf("handle cross storage copy: %v", err)
	}
	if !plan.Streamable || plan.SourceSize != 10 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}
