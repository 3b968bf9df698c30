// Package s3 implements the S3 storage driver atop the AWS SDK,
// speaking the S3 API to AWS or any S3-compatible endpoint (MinIO,
// R2, B2...). Grounded on the teacher's backend/s3/s3.go, which
// solves the identical listing/get/put/copy/presign problem for
// rclone's s3 remote using the same SDK.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// Config is the decrypted driver-config blob for an S3 StorageConfig.
type Config struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	BasePath        string `json:"base_path"`
	ForcePathStyle  bool   `json:"force_path_style"`
}

// Driver implements storage.Reader, storage.Writer, storage.Atomic,
// storage.DirectLinker and storage.UploadURLGenerator over a single S3
// bucket, matching the teacher's Fs/Object split onto one bucket per
// backend instance.
type Driver struct {
	client   *s3.S3
	bucket   string
	basePath string
}

// New constructs an S3 driver from its decrypted config blob.
func New(configBlob []byte) (storage.Driver, []storage.Capability, error) {
	var cfg Config
	if err := json.Unmarshal(configBlob, &cfg); err != nil {
		return nil, nil, fmt.Errorf("s3: invalid config: %w", err)
	}
	if cfg.Bucket == "" {
		return nil, nil, fmt.Errorf("s3: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsConfig := aws.NewConfig().
		WithRegion(region).
		WithS3ForcePathStyle(cfg.ForcePathStyle).
		WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	if cfg.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("s3: creating session: %w", err)
	}

	d := &Driver{
		client:   s3.New(sess),
		bucket:   cfg.Bucket,
		basePath: strings.Trim(cfg.BasePath, "/"),
	}
	return d, []storage.Capability{storage.CapReader, storage.CapWriter, storage.CapDirectLink, storage.CapAtomic}, nil
}

// Register installs the S3 constructor into f.
func Register(f *storage.Factory) {
	f.Register(model.DriverS3, New)
}

func (d *Driver) Initialize(ctx context.Context) error { return nil }
func (d *Driver) Kind() model.DriverKind                { return model.DriverS3 }
func (d *Driver) Cleanup(ctx context.Context) error     { return nil }

func (d *Driver) key(virtual string) string {
	trimmed := strings.Trim(virtual, "/")
	if d.basePath == "" {
		return trimmed
	}
	if trimmed == "" {
		return d.basePath
	}
	return d.basePath + "/" + trimmed
}

// shouldRetry mirrors the teacher's Fs.shouldRetry: inspect the AWS
// error code for the handful of conditions worth a retry (throttling,
// request timeout, 5xx) and give up on everything else.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch awsErr.Code() {
	case "RequestTimeout", "Throttling", "ThrottlingException", "SlowDown", "InternalError", "ServiceUnavailable":
		return true
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		return reqErr.StatusCode() >= 500
	}
	return false
}

func withRetry(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return lastErr
}

func isNotFound(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		return awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound"
	}
	return false
}

func (d *Driver) ListDirectory(ctx context.Context, p string, opts storage.ListOptions) (*storage.Listing, error) {
	prefix := d.key(p)
	if prefix != "" {
		prefix += "/"
	}

	var items []storage.FileInfo
	err := withRetry(func() error {
		items = nil
		return d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:    aws.String(d.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, cp := range page.CommonPrefixes {
				name := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(cp.Prefix), prefix), "/")
				if name == "" {
					continue
				}
				items = append(items, storage.FileInfo{Name: name, IsDirectory: true})
			}
			for _, obj := range page.Contents {
				name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
				if name == "" {
					continue // the directory marker object itself
				}
				items = append(items, storage.FileInfo{
					Name:     name,
					Size:     aws.Int64Value(obj.Size),
					Modified: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("s3: listing %q: %w", p, err)
	}
	return &storage.Listing{Path: p, Type: "directory", IsRoot: p == "/" || p == "", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string, opts storage.GetOptions) (*storage.FileInfo, error) {
	var head *s3.HeadObjectOutput
	err := withRetry(func() error {
		var err error
		head, err = d.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(d.key(p)),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound(p)
		}
		return nil, fmt.Errorf("s3: head %q: %w", p, err)
	}
	return &storage.FileInfo{
		Name:     p[strings.LastIndex(p, "/")+1:],
		Size:     aws.Int64Value(head.ContentLength),
		Modified: aws.TimeValue(head.LastModified),
		Mimetype: aws.StringValue(head.ContentType),
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
	key := d.key(p)

	getObject := func(ctx context.Context, rng *string) (*storage.StreamHandle, error) {
		var out *s3.GetObjectOutput
		err := withRetry(func() error {
			var err error
			out, err = d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
				Bucket: aws.String(d.bucket),
				Key:    aws.String(key),
				Range:  rng,
			})
			return err
		})
		if err != nil {
			if isNotFound(err) {
				return nil, storage.ErrNotFound(p)
			}
			return nil, fmt.Errorf("s3: get %q: %w", p, err)
		}
		return &storage.StreamHandle{Stream: out.Body, SupportsRange: rng != nil}, nil
	}

	return &storage.StreamDescriptor{
		Size:         &size,
		ContentType:  &contentType,
		LastModified: &modTime,
		GetStream: func(ctx context.Context, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			return getObject(ctx, nil)
		},
		GetRange: func(ctx context.Context, r storage.RangeSpec, opts storage.DownloadOptions) (*storage.StreamHandle, error) {
			rangeHeader := fmt.Sprintf("bytes=%d-", r.Start)
			if r.End >= 0 {
				rangeHeader = fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
			}
			return getObject(ctx, aws.String(rangeHeader))
		},
	}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, source io.Reader, opts storage.UploadOptions) error {
	// PutObject needs a ReadSeeker for retry support and SDK-computed
	// content length; buffer the body the way the teacher's
	// uploadSinglepartPutObject does for non-seekable sources.
	body, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("s3: reading upload body for %q: %w", p, err)
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
		Body:   bytes.NewReader(body),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	err = withRetry(func() error {
		_, err := d.client.PutObjectWithContext(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("s3: put %q: %w", p, err)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(int64(len(body)))
	}
	return nil
}

// CreateDirectory writes a zero-length directory marker object, the
// same convention as the teacher's createDirectoryMarker for buckets
// that otherwise have no concept of an empty folder.
func (d *Driver) CreateDirectory(ctx context.Context, p string, opts storage.Options) error {
	markerKey := strings.TrimSuffix(d.key(p), "/") + "/"
	return withRetry(func() error {
		_, err := d.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(markerKey),
			Body:   bytes.NewReader(nil),
		})
		return err
	})
}

func (d *Driver) RenameItem(ctx context.Context, oldPath, newPath string, opts storage.Options) error {
	if _, err := d.CopyItem(ctx, oldPath, newPath, storage.CopyOptions{}); err != nil {
		return err
	}
	_, err := d.BatchRemoveItems(ctx, []string{oldPath}, storage.Options{})
	return err
}

func (d *Driver) CopyItem(ctx context.Context, src, tgt string, opts storage.CopyOptions) (*storage.CopyResult, error) {
	if opts.SkipExisting {
		if _, err := d.GetFileInfo(ctx, tgt, storage.GetOptions{}); err == nil {
			return &storage.CopyResult{Status: storage.CopySkipped}, nil
		}
	}
	source := fmt.Sprintf("%s/%s", d.bucket, d.key(src))
	err := withRetry(func() error {
		_, err := d.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(d.bucket),
			Key:        aws.String(d.key(tgt)),
			CopySource: aws.String(source),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound(src)
		}
		return &storage.CopyResult{Status: storage.CopyFailed, Error: err.Error()}, fmt.Errorf("s3: copy %q -> %q: %w", src, tgt, err)
	}
	info, err := d.GetFileInfo(ctx, tgt, storage.GetOptions{})
	if err != nil {
		return &storage.CopyResult{Status: storage.CopySuccess}, nil
	}
	return &storage.CopyResult{Status: storage.CopySuccess, ContentLength: info.Size}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string, opts storage.Options) (*storage.BatchRemoveResult, error) {
	result := &storage.BatchRemoveResult{}
	if len(paths) == 0 {
		return result, nil
	}
	objects := make([]*s3.ObjectIdentifier, 0, len(paths))
	for _, p := range paths {
		objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(d.key(p))})
	}
	var out *s3.DeleteObjectsOutput
	err := withRetry(func() error {
		var err error
		out, err = d.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(false)},
		})
		return err
	})
	if err != nil {
		for _, p := range paths {
			result.Failed = append(result.Failed, storage.BatchRemoveFailure{Path: p, Error: err.Error()})
		}
		return result, nil
	}
	result.Success = len(paths) - len(out.Errors)
	for _, e := range out.Errors {
		result.Failed = append(result.Failed, storage.BatchRemoveFailure{Path: aws.StringValue(e.Key), Error: aws.StringValue(e.Message)})
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

// HandleCrossStorageCopy reports the source size so the Task
// Orchestrator can stream it through DownloadFile/UploadFile when the
// target lives on a different storage backend.
func (d *Driver) HandleCrossStorageCopy(ctx context.Context, src, tgt string, opts storage.CopyOptions) (*storage.CrossStorageCopyPlan, error) {
	info, err := d.GetFileInfo(ctx, src, storage.GetOptions{})
	if err != nil {
		return nil, err
	}
	return &storage.CrossStorageCopyPlan{SourcePath: src, TargetPath: tgt, SourceSize: info.Size, Streamable: true}, nil
}

// GenerateDownloadURL presigns a GET, the same SDK call
// (*request.Request).Presign the teacher's Fs.PublicLink uses.
func (d *Driver) GenerateDownloadURL(ctx context.Context, p string, opts storage.LinkOptions) (*storage.LinkResult, error) {
	req, _ := d.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	url, err := req.Presign(expires)
	if err != nil {
		return nil, fmt.Errorf("s3: presigning download for %q: %w", p, err)
	}
	expiresAt := time.Now().Add(expires)
	return &storage.LinkResult{URL: url, Type: storage.LinkNativeDirect, ExpiresIn: expires, ExpiresAt: &expiresAt}, nil
}

// GenerateUploadURL presigns a PUT, the upload-side analogue of
// GenerateDownloadURL.
func (d *Driver) GenerateUploadURL(ctx context.Context, p string, opts storage.LinkOptions) (*storage.LinkResult, error) {
	req, _ := d.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	url, err := req.Presign(expires)
	if err != nil {
		return nil, fmt.Errorf("s3: presigning upload for %q: %w", p, err)
	}
	expiresAt := time.Now().Add(expires)
	return &storage.LinkResult{URL: url, Type: storage.LinkNativeDirect, ExpiresIn: expires, ExpiresAt: &expiresAt}, nil
}
