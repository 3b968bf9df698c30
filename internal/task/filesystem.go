package task

import (
	"context"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// FileSystem is the narrow slice of the Filesystem Facade a Handler
// needs through ExecutionContext.getFileSystem() (spec §4.G step 3).
// Kept as its own interface rather than importing fsfacade directly
// so task stays testable without wiring a real Mount Resolver.
type FileSystem interface {
	CopyItem(ctx context.Context, srcVirtual, tgtVirtual string, principal perm.Principal, opts storage.CopyOptions) (*storage.CopyResult, error)
	GetFileInfo(ctx context.Context, virtualPath string, principal perm.Principal, opts storage.GetOptions) (*storage.FileInfo, error)
}
