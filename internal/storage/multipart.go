package storage

import "context"

// MultipartStrategy selects how a frontend multipart upload is driven.
type MultipartStrategy string

const (
	StrategyPerPartURL    MultipartStrategy = "per_part_url"
	StrategySingleSession MultipartStrategy = "single_session"
)

// MultipartInitRequest starts a frontend multipart upload.
type MultipartInitRequest struct {
	Path      string
	Size      int64
	PartSize  int64
	Strategy  MultipartStrategy
}

// MultipartInitResult is returned by InitializeFrontendMultipartUpload.
type MultipartInitResult struct {
	Success     bool
	StoragePath string
	Strategy    MultipartStrategy
	PartSize    int64
	UploadID    string
	SessionURL  string
	PartURLs    []string
}

// MultipartCompleteRequest completes a frontend multipart upload.
type MultipartCompleteRequest struct {
	Path     string
	UploadID string
	Parts    []MultipartPart
}

// MultipartPart is one completed part of a multipart upload.
type MultipartPart struct {
	PartNumber int
	ETag       string
	Size       int64
}

// MultipartCompleteResult is returned by CompleteFrontendMultipartUpload.
type MultipartCompleteResult struct {
	Success     bool
	StoragePath string
	Size        int64
}

// Multipart is the MULTIPART capability.
type Multipart interface {
	InitializeFrontendMultipartUpload(ctx context.Context, req MultipartInitRequest) (*MultipartInitResult, error)
	CompleteFrontendMultipartUpload(ctx context.Context, req MultipartCompleteRequest) (*MultipartCompleteResult, error)
	AbortFrontendMultipartUpload(ctx context.Context, path, uploadID string) error
	ListMultipartUploads(ctx context.Context, path string) ([]string, error)
	ListMultipartParts(ctx context.Context, path, uploadID string) ([]MultipartPart, error)
	RefreshMultipartUrls(ctx context.Context, path, uploadID string, partNumbers []int) ([]string, error)
}
