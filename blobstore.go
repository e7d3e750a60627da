package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// BlobStore keeps image bytes outside the record store and mints
// time-limited URLs for them.
type BlobStore interface {
	// Put stores data under a new unique path derived from pathHint's extension.
	// It never overwrites: a taken path yields ErrConflict.
	Put(ctx context.Context, pathHint string, data []byte, contentType string) (string, error)
	// Remove deletes the blob. A missing blob is not an error.
	Remove(ctx context.Context, path string) error
	// Sign returns a URL valid for ttl. ok is false when the blob does not exist.
	Sign(ctx context.Context, path string, ttl time.Duration) (url string, ok bool, err error)
}

// S3Options configures an S3BlobStore. Any S3 compatible endpoint works
// (AWS, MinIO, Supabase Storage).
type S3Options struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UsePathStyle  bool
	MaxObjectSize int64
}

// s3API is the subset of *s3.Client used by S3BlobStore.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// S3BlobStore implements BlobStore on top of an S3 bucket.
type S3BlobStore struct {
	client  s3API
	presign presignAPI
	bucket  string
	region  string
	maxSize int64
	now     func() time.Time
}

// NewS3BlobStore builds the SDK client from explicit options. Static
// credentials are used when given, otherwise the default AWS chain applies.
func NewS3BlobStore(ctx context.Context, opts S3Options) (*S3BlobStore, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return newS3BlobStore(client, s3.NewPresignClient(client), opts), nil
}

func newS3BlobStore(client s3API, presign presignAPI, opts S3Options) *S3BlobStore {
	return &S3BlobStore{
		client:  client,
		presign: presign,
		bucket:  opts.Bucket,
		region:  opts.Region,
		maxSize: opts.MaxObjectSize,
		now:     time.Now,
	}
}

// EnsureBucket creates the bucket when it does not exist yet. Losing the
// creation race to another instance counts as success.
func (s *S3BlobStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return unavailable("s3 head bucket "+s.bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	// us-east-1 rejects an explicit location constraint
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil && !isBucketTaken(err) {
		return unavailable("s3 create bucket "+s.bucket, err)
	}
	return nil
}

// Put uploads data under a fresh images/ path.
func (s *S3BlobStore) Put(ctx context.Context, pathHint string, data []byte, contentType string) (string, error) {
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrObjectTooLarge, len(data), s.maxSize)
	}

	path := newBlobPath(s.now(), pathHint, contentType)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("%w: %s", ErrConflict, path)
		}
		return "", unavailable("s3 put "+path, err)
	}
	return path, nil
}

// Remove deletes the object at path.
func (s *S3BlobStore) Remove(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil && !isNotFound(err) {
		return unavailable("s3 delete "+path, err)
	}
	return nil
}

// Sign presigns a GET for path after checking that the object exists.
func (s *S3BlobStore) Sign(ctx context.Context, path string, ttl time.Duration) (string, bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, unavailable("s3 head "+path, err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", false, unavailable("s3 presign "+path, err)
	}
	return req.URL, true, nil
}

// newBlobPath returns images/<unix millis>-<random hex>.<ext>.
func newBlobPath(now time.Time, pathHint, contentType string) string {
	id := uuid.New()
	return fmt.Sprintf("%s%d-%s.%s", imagePathPrefix, now.UnixMilli(), hex.EncodeToString(id[:8]), blobExt(pathHint, contentType))
}

// blobExt picks the extension of the original filename, falling back to the
// one registered for the content type.
func blobExt(pathHint, contentType string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(pathHint), "."))
	if ext != "" && len(ext) <= 8 && isAlnum(ext) {
		return ext
	}
	if m := mimetype.Lookup(contentType); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	return "bin"
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	switch apiErrorCode(err) {
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func isBucketTaken(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return true
	}
	switch apiErrorCode(err) {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	}
	return false
}

func isPreconditionFailed(err error) bool {
	switch apiErrorCode(err) {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
