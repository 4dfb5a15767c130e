package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"memoryhub/internal/apperr"
	"memoryhub/internal/config"
)

// S3Store backs attachment storage with an S3 bucket, adapted from the
// teacher's objectstore.S3Store: prefix handling and not-found translation
// kept, SSE and multi-bucket plumbing trimmed since attachments only ever
// target the single configured bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, cfg config.AttachmentConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, apperr.Internal("load aws config", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: "attachments/",
	}, nil
}

func (s *S3Store) fullKey(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/")
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    strPtr(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ObjectAttrs{}, ErrNotFound
		}
		return nil, ObjectAttrs{}, apperr.UpstreamUnavailable("s3 get: " + err.Error())
	}
	attrs := ObjectAttrs{Key: key}
	if out.ContentLength != nil {
		attrs.Size = *out.ContentLength
	}
	if out.ETag != nil {
		attrs.ETag = strings.Trim(*out.ETag, `"`)
	}
	if out.LastModified != nil {
		attrs.LastModified = *out.LastModified
	}
	if out.ContentType != nil {
		attrs.ContentType = *out.ContentType
	}
	return out.Body, attrs, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    strPtr(s.fullKey(key)),
		Body:   r,
	}
	if opts.ContentType != "" {
		input.ContentType = &opts.ContentType
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", apperr.UpstreamUnavailable("s3 put: " + err.Error())
	}
	if out.ETag != nil {
		return strings.Trim(*out.ETag, `"`), nil
	}
	return "", nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    strPtr(s.fullKey(key)),
	})
	if err != nil {
		return apperr.UpstreamUnavailable("s3 delete: " + err.Error())
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    strPtr(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, apperr.UpstreamUnavailable("s3 head: " + err.Error())
	}
	return true, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	return strings.Contains(err.Error(), "StatusCode: 404")
}

func strPtr(s string) *string { return &s }
