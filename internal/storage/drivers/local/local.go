// Package local implements the LOCAL storage driver: a thin, safe
// wrapper over the process's own filesystem rooted at a configured
// directory. Grounded on the teacher's backend/local/local.go, which
// solves the same problem (list/stat/read/write atop os.* calls)
// for rclone's local remote.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// Config is the decrypted driver-config blob for a LOCAL StorageConfig.
type Config struct {
	RootDir string `json:"root_dir"`
}

// Driver implements storage.Driver, storage.Reader, storage.Writer and
// storage.Atomic over a rooted directory tree.
type Driver struct {
	root string
}

// New constructs a LOCAL driver from its decrypted config blob.
func New(configBlob []byte) (storage.Driver, []storage.Capability, error) {
	var cfg Config
	if err := json.Unmarshal(configBlob, &cfg); err != nil {
		return nil, nil, fmt.Errorf("local: invalid config: %w", err)
	}
	if cfg.RootDir == "" {
		return nil, nil, fmt.Errorf("local: root_dir is required")
	}
	return &Driver{root: cfg.RootDir}, []storage.Capability{storage.CapReader, storage.CapWriter, storage.CapAtomic}, nil
}

// Register installs the LOCAL constructor into f.
func Register(f *storage.Factory) {
	f.Register(model.DriverLocal, New)
}

func (d *Driver) Initialize(ctx context.Context) error {
	return os.MkdirAll(d.root, 0o755)
}

func (d *Driver) Kind() model.DriverKind { return model.DriverLocal }

func (d *Driver) Cleanup(ctx context.Context) error { return nil }

// localPath maps a virtual sub-path onto the rooted filesystem,
// rejecting any attempt to escape the root (spec §1's scoping of
// drivers to their own tree).
func (d *Driver) localPath(virtual string) (string, error) {
	if rel := path.Clean(strings.TrimLeft(virtual, "/")); rel == ".." || strings.HasPrefix(rel, "../") {
		return "", storage.ErrNotFound(virtual)
	}
	cleaned := path.Clean("/" + virtual)
	full := filepath.Join(d.root, filepath.FromSlash(cleaned))
	rootAbs, err := filepath.Abs(d.root)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return "", storage.ErrNotFound(virtual)
	}
	return fullAbs, nil
}

func (d *Driver) ListDirectory(ctx context.Context, p string, opts storage.ListOptions) (*storage.Listing, error) {
	full, err := d.localPath(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound(p)
		}
		return nil, fmt.Errorf("local: reading directory %q: %w", p, err)
	}

	items := make([]storage.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // skip entries removed by a concurrent writer
		}
		items = append(items, storage.FileInfo{
			Name:        e.Name(),
			IsDirectory: e.IsDir(),
			Size:        info.Size(),
			Modified:    info.ModTime(),
			Mimetype:    mimeFor(e.Name(), e.IsDir()),
		})
	}
	return &storage.Listing{Path: p, Type: "directory", IsRoot: p == "/" || p == "", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string, opts storage.GetOptions) (*storage.FileInfo, error) {
	full, err := d.localPath(p)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound(p)
		}
		return nil, fmt.Errorf("local: stat %q: %w", p, err)
	}
	return &storage.FileInfo{
		Name:        stat.Name(),
		IsDirectory: stat.IsDir(),
		Size:        stat.Size(),
		Modified:    stat.ModTime(),
		Mimetype:    mimeFor(stat.Name(), stat.IsDir()),
	}, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string, opts storage.DownloadOptions) (*storage.StreamDescriptor, error) {
	full, err := d.localPath(p)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound(p)
		}
		return nil, fmt.Errorf("local: stat %q: %w", p, err)
	}
	size := stat.Size()
	modTime := stat.ModTime()
	contentType := mimeFor(stat.Name(), false)
	etag := fmt.Sprintf(`"%x-%x"`, stat.ModTime().UnixNano(), size)

	return &storage.StreamDescriptor{
		Size:         &size,
		ContentType:  &contentType,
		ETag:         etag,
		LastModified: &modTime,
		GetStream: func(ctx context.Context, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			f, err := os.Open(full)
			if err != nil {
				return nil, err
			}
			return &storage.StreamHandle{Stream: f, SupportsRange: true}, nil
		},
		GetRange: func(ctx context.Context, r storage.RangeSpec, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			f, err := os.Open(full)
			if err != nil {
				return nil, err
			}
			if _, err := f.Seek(r.Start, io.SeekStart); err != nil {
				_ = f.Close()
				return nil, err
			}
			var reader io.ReadCloser = f
			if r.End >= 0 {
				reader = &limitedReadCloser{r: io.LimitReader(f, r.End-r.Start+1), c: f}
			}
			return &storage.StreamHandle{Stream: reader, SupportsRange: true}, nil
		},
	}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

func (d *Driver) UploadFile(ctx context.Context, p string, source io.Reader, opts storage.UploadOptions) error {
	full, err := d.localPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("local: creating parent directories for %q: %w", p, err)
	}
	if !opts.OverwriteOK {
		if _, err := os.Stat(full); err == nil {
			return fmt.Errorf("local: %q already exists", p)
		}
	}
	out, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("local: creating %q: %w", p, err)
	}
	defer out.Close()

	writer := io.Writer(out)
	if opts.OnProgress != nil {
		writer = &progressWriter{w: out, onProgress: opts.OnProgress}
	}
	if _, err := io.Copy(writer, source); err != nil {
		return fmt.Errorf("local: writing %q: %w", p, err)
	}
	return nil
}

type progressWriter struct {
	w          io.Writer
	written    int64
	onProgress func(int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.onProgress(p.written)
	return n, err
}

func (d *Driver) CreateDirectory(ctx context.Context, p string, opts storage.Options) error {
	full, err := d.localPath(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

func (d *Driver) RenameItem(ctx context.Context, oldPath, newPath string, opts storage.Options) error {
	oldFull, err := d.localPath(oldPath)
	if err != nil {
		return err
	}
	newFull, err := d.localPath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return err
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound(oldPath)
		}
		return fmt.Errorf("local: rename %q -> %q: %w", oldPath, newPath, err)
	}
	return nil
}

func (d *Driver) CopyItem(ctx context.Context, src, tgt string, opts storage.CopyOptions) (*storage.CopyResult, error) {
	srcFull, err := d.localPath(src)
	if err != nil {
		return nil, err
	}
	tgtFull, err := d.localPath(tgt)
	if err != nil {
		return nil, err
	}
	if opts.SkipExisting {
		if _, err := os.Stat(tgtFull); err == nil {
			return &storage.CopyResult{Status: storage.CopySkipped}, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(tgtFull), 0o755); err != nil {
		return nil, err
	}
	in, err := os.Open(srcFull)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound(src)
		}
		return nil, err
	}
	defer in.Close()

	out, err := os.Create(tgtFull)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	var writer io.Writer = out
	var written int64
	if opts.OnProgress != nil {
		writer = &progressWriter{w: out, onProgress: func(n int64) { written = n; opts.OnProgress(n) }}
	}
	n, err := io.Copy(writer, in)
	if err != nil {
		return nil, fmt.Errorf("local: copying %q -> %q: %w", src, tgt, err)
	}
	if written == 0 {
		written = n
	}
	return &storage.CopyResult{Status: storage.CopySuccess, ContentLength: n}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string, opts storage.Options) (*storage.BatchRemoveResult, error) {
	result := &storage.BatchRemoveResult{}
	for _, p := range paths {
		full, err := d.localPath(p)
		if err != nil {
			result.Failed = append(result.Failed, storage.BatchRemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			result.Failed = append(result.Failed, storage.BatchRemoveFailure{Path: p, Error: err.Error()})
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

// HandleCrossStorageCopy prepares a streamable copy plan: local files
// are always streamable through their own GetStream.
func (d *Driver) HandleCrossStorageCopy(ctx context.Context, src, tgt string, opts storage.CopyOptions) (*storage.CrossStorageCopyPlan, error) {
	info, err := d.GetFileInfo(ctx, src, storage.GetOptions{})
	if err != nil {
		return nil, err
	}
	return &storage.CrossStorageCopyPlan{SourcePath: src, TargetPath: tgt, SourceSize: info.Size, Streamable: true}, nil
}

func mimeFor(name string, isDir bool) string {
	if isDir {
		return ""
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
