package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client abstracts the S3 API operations used by S3Store.
// The s3.Client type satisfies this interface.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	// Prefix is prepended to all object keys; "" for none.
	Prefix string
	// PublicBaseURL replaces https://<bucket>.s3.amazonaws.com in returned URLs.
	PublicBaseURL string
	// Retention sets the object's Expires header; pair it with a bucket
	// lifecycle rule for actual deletion.
	Retention time.Duration
}

// S3Store stores images in Amazon S3 or any S3-compatible object store.
type S3Store struct {
	client S3Client
	opts   S3Options
}

func NewS3Store(client S3Client, opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", opts.Bucket)
	}
	return &S3Store{client: client, opts: opts}, nil
}

func (s *S3Store) key(path string) string {
	if s.opts.Prefix == "" {
		return path
	}
	return s.opts.Prefix + "/" + path
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectKey := s.key(cleanKey)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if s.opts.Retention > 0 {
		input.Expires = aws.Time(time.Now().Add(s.opts.Retention))
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", describeS3Error("put", objectKey, err)
	}
	return joinURL(s.opts.PublicBaseURL, objectKey), nil
}

// Delete removes the object. S3 DeleteObject already succeeds for missing keys.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	objectKey := s.key(cleanKey)
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return describeS3Error("delete", objectKey, err)
	}
	return nil
}

func describeS3Error(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("storage: s3 %s %s: %s: %w", op, key, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("storage: s3 %s %s: %w", op, key, err)
}

var _ ContentStore = (*S3Store)(nil)
