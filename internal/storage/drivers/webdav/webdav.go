package webdav

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// Config is the decrypted driver-config blob for a WEBDAV StorageConfig.
type Config struct {
	Endpoint string `json:"endpoint"`
	Username string `json:"username"`
	Password string `json:"password"`
	BasePath string `json:"base_path"`
}

// Driver talks WebDAV (RFC 4918) to an upstream server: PROPFIND for
// listing/stat, GET/PUT for content, MKCOL for directories, MOVE/COPY
// for same-storage moves and copies. Grounded on the teacher's
// backend/webdav/webdav.go, which implements the identical remote for
// rclone using the same verb set over net/http.
type Driver struct {
	endpoint *url.URL
	basePath string
	username string
	password string
	client   *http.Client
}

// New constructs a WEBDAV driver from its decrypted config blob.
func New(configBlob []byte) (storage.Driver, []storage.Capability, error) {
	var cfg Config
	if err := json.Unmarshal(configBlob, &cfg); err != nil {
		return nil, nil, fmt.Errorf("webdav: invalid config: %w", err)
	}
	if cfg.Endpoint == "" {
		return nil, nil, fmt.Errorf("webdav: endpoint is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("webdav: invalid endpoint: %w", err)
	}
	d := &Driver{
		endpoint: u,
		basePath: path.Clean("/" + cfg.BasePath),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	return d, []storage.Capability{storage.CapReader, storage.CapWriter, storage.CapAtomic}, nil
}

// Register installs the WEBDAV constructor into f.
func Register(f *storage.Factory) {
	f.Register(model.DriverWebDAV, New)
}

func (d *Driver) Initialize(ctx context.Context) error { return nil }
func (d *Driver) Kind() model.DriverKind                { return model.DriverWebDAV }
func (d *Driver) Cleanup(ctx context.Context) error     { return nil }

func (d *Driver) fullPath(virtual string) string {
	return path.Join(d.basePath, path.Clean("/"+virtual))
}

func (d *Driver) resourceURL(virtual string) string {
	u := *d.endpoint
	u.Path = path.Join(u.Path, d.fullPath(virtual))
	return u.String()
}

func (d *Driver) newRequest(ctx context.Context, method, virtual string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, d.resourceURL(virtual), body)
	if err != nil {
		return nil, err
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}
	return req, nil
}

// shouldRetry classifies a response/error pair the way the teacher's
// backend/webdav/webdav.go shouldRetry does: 423 Locked and the usual
// transient 5xx/network conditions are worth retrying, everything else
// is terminal.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusLocked, http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (d *Driver) do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := d.client.Do(req)
		if !shouldRetry(resp, err) {
			return resp, err
		}
		lastErr = err
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return nil, fmt.Errorf("webdav: request failed after retries: %w", lastErr)
}

func (d *Driver) propfind(ctx context.Context, virtual string, depth string) (*multistatus, error) {
	req, err := d.newRequest(ctx, "PROPFIND", virtual, strings.NewReader(propfindBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", depth)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := d.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, storage.ErrNotFound(virtual)
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("webdav: PROPFIND %s: unexpected status %s", virtual, resp.Status)
	}
	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("webdav: decoding PROPFIND response: %w", err)
	}
	return &ms, nil
}

func (d *Driver) ListDirectory(ctx context.Context, p string, opts storage.ListOptions) (*storage.Listing, error) {
	ms, err := d.propfind(ctx, p, "1")
	if err != nil {
		return nil, err
	}
	base := d.fullPath(p)
	items := make([]storage.FileInfo, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		href, _ := url.QueryUnescape(r.Href)
		name := hrefName(href, base)
		if name == "" {
			continue // this is the collection itself, not a child
		}
		items = append(items, storage.FileInfo{
			Name:        name,
			IsDirectory: r.Props.isCollection(),
			Size:        r.Props.size(),
			Modified:    r.Props.modTime(),
			Mimetype:    r.Props.ContentType,
		})
	}
	return &storage.Listing{Path: p, Type: "directory", IsRoot: p == "/" || p == "", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string, opts storage.GetOptions) (*storage.FileInfo, error) {
	ms, err := d.propfind(ctx, p, "0")
	if err != nil {
		return nil, err
	}
	if len(ms.Responses) == 0 {
		return nil, storage.ErrNotFound(p)
	}
	r := ms.Responses[0]
	return &storage.FileInfo{
		Name:        path.Base(p),
		IsDirectory: r.Props.isCollection(),
		Size:        r.Props.size(),
		Modified:    r.Props.modTime(),
		Mimetype:    r.Props.ContentType,
	}, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string, opts storage.DownloadOptions) (*storage.StreamDescriptor, error) {
	info, err := d.GetFileInfo(ctx, p, storage.GetOptions{})
	if err != nil {
		return nil, err
	}
	size := info.Size
	modTime := info.Modified
	contentType := info.Mimetype

	return &storage.StreamDescriptor{
		Size:         &size,
		ContentType:  &contentType,
		LastModified: &modTime,
		GetStream: func(ctx context.Context, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			return d.get(ctx, p, "")
		},
		// GetRange sends a Range header on GET. Many WebDAV servers
		// ignore or mis-honor it (spec §9 open question), so support
		// is best-effort: a 206 reply yields SupportsRange true, a 200
		// reply yields false and the streaming layer slices in software.
		GetRange: func(ctx context.Context, r storage.RangeSpec, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			rangeHeader := fmt.Sprintf("bytes=%d-", r.Start)
			if r.End >= 0 {
				rangeHeader = fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
			}
			return d.get(ctx, p, rangeHeader)
		},
	}, nil
}

func (d *Driver) get(ctx context.Context, p, rangeHeader string) (*storage.StreamHandle, error) {
	req, err := d.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := d.do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return &storage.StreamHandle{Stream: resp.Body, SupportsRange: false}, nil
	case http.StatusPartialContent:
		return &storage.StreamHandle{Stream: resp.Body, SupportsRange: true}, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, storage.ErrNotFound(p)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("webdav: GET %s: unexpected status %s", p, resp.Status)
	}
}

func (d *Driver) UploadFile(ctx context.Context, p string, source io.Reader, opts storage.UploadOptions) error {
	if err := d.mkParentDir(ctx, p); err != nil {
		return err
	}
	req, err := d.newRequest(ctx, http.MethodPut, p, source)
	if err != nil {
		return err
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.Size > 0 {
		req.ContentLength = opts.Size
	}
	resp, err := d.do(req)
	if err != nil {
		return fmt.Errorf("webdav: PUT %s: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("webdav: PUT %s: unexpected status %s", p, resp.Status)
	}
	return nil
}

// mkParentDir recursively MKCOLs ancestor directories, the same
// parent-creation strategy as the teacher's mkParentDir helper in
// backend/webdav/webdav.go.
func (d *Driver) mkParentDir(ctx context.Context, p string) error {
	parent := path.Dir(p)
	if parent == "." || parent == "/" {
		return nil
	}
	return d.CreateDirectory(ctx, parent, storage.Options{})
}

func (d *Driver) CreateDirectory(ctx context.Context, p string, opts storage.Options) error {
	if p == "" || p == "/" {
		return nil
	}
	if err := d.mkParentDir(ctx, p); err != nil {
		return err
	}
	req, err := d.newRequest(ctx, "MKCOL", p, nil)
	if err != nil {
		return err
	}
	resp, err := d.do(req)
	if err != nil {
		return fmt.Errorf("webdav: MKCOL %s: %w", p, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusMethodNotAllowed: // already exists
		return nil
	default:
		return fmt.Errorf("webdav: MKCOL %s: unexpected status %s", p, resp.Status)
	}
}

// copyOrMove issues COPY or MOVE with a Destination header, the
// pattern the teacher's copyOrMove implements for rclone's Copy/Move.
func (d *Driver) copyOrMove(ctx context.Context, method, src, tgt string, overwrite bool) error {
	req, err := d.newRequest(ctx, method, src, nil)
	if err != nil {
		return err
	}
	destURL := *d.endpoint
	destURL.Path = path.Join(destURL.Path, d.fullPath(tgt))
	req.Header.Set("Destination", destURL.String())
	req.Header.Set("Overwrite", "F")
	if overwrite {
		req.Header.Set("Overwrite", "T")
	}
	resp, err := d.do(req)
	if err != nil {
		return fmt.Errorf("webdav: %s %s -> %s: %w", method, src, tgt, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusPreconditionFailed:
		return fmt.Errorf("webdav: %s %s -> %s: target exists", method, src, tgt)
	case http.StatusNotFound:
		return storage.ErrNotFound(src)
	default:
		return fmt.Errorf("webdav: %s %s -> %s: unexpected status %s", method, src, tgt, resp.Status)
	}
}

func (d *Driver) RenameItem(ctx context.Context, oldPath, newPath string, opts storage.Options) error {
	if err := d.mkParentDir(ctx, newPath); err != nil {
		return err
	}
	return d.copyOrMove(ctx, "MOVE", oldPath, newPath, true)
}

func (d *Driver) CopyItem(ctx context.Context, src, tgt string, opts storage.CopyOptions) (*storage.CopyResult, error) {
	if opts.SkipExisting {
		if _, err := d.GetFileInfo(ctx, tgt, storage.GetOptions{}); err == nil {
			return &storage.CopyResult{Status: storage.CopySkipped}, nil
		}
	}
	if err := d.mkParentDir(ctx, tgt); err != nil {
		return nil, err
	}
	if err := d.copyOrMove(ctx, "COPY", src, tgt, true); err != nil {
		return &storage.CopyResult{Status: storage.CopyFailed, Error: err.Error()}, err
	}
	info, err := d.GetFileInfo(ctx, tgt, storage.GetOptions{})
	if err != nil {
		return &storage.CopyResult{Status: storage.CopySuccess}, nil
	}
	return &storage.CopyResult{Status: storage.CopySuccess, ContentLength: info.Size}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string, opts storage.Options) (*storage.BatchRemoveResult, error) {
	result := &storage.BatchRemoveResult{}
	for _, p := range paths {
		req, err := d.newRequest(ctx, http.MethodDelete, p, nil)
		if err != nil {
			result.Failed = append(result.Failed, storage.BatchRemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		resp, err := d.do(req)
		if err != nil {
			result.Failed = append(result.Failed, storage.BatchRemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
			result.Failed = append(result.Failed, storage.BatchRemoveFailure{Path: p, Error: resp.Status})
			continue
		}
		result.Success++
	}
	return result, nil
}

func (d *Driver) BatchCopyItems(ctx context.Context, items []storage.CopyItemSpec, opts storage.CopyOptions) (*storage.BatchCopyResult, error) {
	out := &storage.BatchCopyResult{}
	for _, item := range items {
		res, err := d.CopyItem(ctx, item.SourcePath, item.TargetPath, opts)
		if err != nil {
			out.Results = append(out.Results, storage.CopyResult{Status: storage.CopyFailed, Error: err.Error()})
			continue
		}
		out.Results = append(out.Results, *res)
	}
	return out, nil
}

// HandleCrossStorageCopy downloads nothing itself: it reports the
// source's size so the Task Orchestrator's copy handler can stream
// through DownloadFile/UploadFile across drivers.
func (d *Driver) HandleCrossStorageCopy(ctx context.Context, src, tgt string, opts storage.CopyOptions) (*storage.CrossStorageCopyPlan, error) {
	info, err := d.GetFileInfo(ctx, src, storage.GetOptions{})
	if err != nil {
		return nil, err
	}
	return &storage.CrossStorageCopyPlan{SourcePath: src, TargetPath: tgt, SourceSize: info.Size, Streamable: true}, nil
}
