package storage

import (
	"context"
	"io"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
)

// Driver is the contract every storage backend must implement,
// regardless of which optional capabilities it also carries.
type Driver interface {
	Initialize(ctx context.Context) error
	Kind() model.DriverKind
	Cleanup(ctx context.Context) error
}

// Reader is the READER capability.
type Reader interface {
	ListDirectory(ctx context.Context, path string, opts ListOptions) (*Listing, error)
	GetFileInfo(ctx context.Context, path string, opts GetOptions) (*FileInfo, error)
	DownloadFile(ctx context.Context, path string, opts DownloadOptions) (*StreamDescriptor, error)
}

// Writer is the WRITER capability.
type Writer interface {
	UploadFile(ctx context.Context, path string, source io.Reader, opts UploadOptions) error
	CreateDirectory(ctx context.Context, path string, opts Options) error
	RenameItem(ctx context.Context, oldPath, newPath string, opts Options) error
	CopyItem(ctx context.Context, src, tgt string, opts CopyOptions) (*CopyResult, error)
	BatchRemoveItems(ctx context.Context, paths []string, opts Options) (*BatchRemoveResult, error)
	BatchCopyItems(ctx context.Context, items []CopyItemSpec, opts CopyOptions) (*BatchCopyResult, error)
}

// DirectLinker is the DIRECT_LINK capability's required method;
// GenerateUploadURL/GeneratePresignedURL are optional extensions
// checked separately.
type DirectLinker interface {
	GenerateDownloadURL(ctx context.Context, path string, opts LinkOptions) (*LinkResult, error)
}

// UploadURLGenerator is DIRECT_LINK's optional upload-URL extension.
type UploadURLGenerator interface {
	GenerateUploadURL(ctx context.Context, path string, opts LinkOptions) (*LinkResult, error)
}

// PresignedURLGenerator is DIRECT_LINK's optional presigned-URL extension.
type PresignedURLGenerator interface {
	GeneratePresignedURL(ctx context.Context, path string, opts LinkOptions) (*LinkResult, error)
}

// Proxy is the PROXY capability.
type Proxy interface {
	GenerateProxyURL(ctx context.Context, path string, opts ProxyOptions) (*ProxyResult, error)
	SupportsProxyMode() bool
}

// Atomic is the ATOMIC capability: same-storage RenameItem/CopyItem
// carry atomic guarantees (as opposed to WRITER's, which may fall
// back to copy+delete), plus cross-storage copy planning.
type Atomic interface {
	RenameItem(ctx context.Context, oldPath, newPath string, opts Options) error
	CopyItem(ctx context.Context, src, tgt string, opts CopyOptions) (*CopyResult, error)
	HandleCrossStorageCopy(ctx context.Context, src, tgt string, opts CopyOptions) (*CrossStorageCopyPlan, error)
}
