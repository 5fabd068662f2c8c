package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds the settings for an S3-compatible store (R2, MinIO, AWS).
type S3Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string // defaults to "auto" for R2-style endpoints
}

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a store for the given bucket configuration.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	client := s3.New(s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Store{client: client, bucket: cfg.BucketName}, nil
}

// List returns every key under the prefix, paginating until the bucket
// reports no more results. Callers treat the result as complete.
func (s *S3Store) List(ctx context.Context, keyPrefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", keyPrefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Get reads the full body of a key. Missing keys return found=false.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, found, err := s.GetMeta(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	return obj.Body, true, nil
}

// GetMeta reads the full body of a key together with its ETag.
func (s *S3Store) GetMeta(ctx context.Context, key string) (*Object, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read %q: %w", key, err)
	}
	return &Object{Body: body, ETag: normalizeETag(aws.ToString(out.ETag))}, true, nil
}

// GetStream opens a streaming read of a key. The caller must close the body.
func (s *S3Store) GetStream(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	obj, found, err := s.GetStreamMeta(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	return obj.Body, true, nil
}

// GetStreamMeta opens a streaming read of a key together with its ETag.
func (s *S3Store) GetStreamMeta(ctx context.Context, key string) (*StreamObject, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return &StreamObject{Body: out.Body, ETag: normalizeETag(aws.ToString(out.ETag))}, true, nil
}

// Put writes a full body and returns the resulting ETag.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	return normalizeETag(aws.ToString(out.ETag)), nil
}

// PutStream writes a body of an exact declared length. The body is counted
// as it is consumed; a body shorter than declared fails the request. A body
// longer than declared is detected only after the upload: the first
// contentLength bytes are stored and the call returns
// ErrContentLengthMismatch.
func (s *S3Store) PutStream(ctx context.Context, key string, body io.Reader, contentLength int64) (string, error) {
	counted := &countingReader{r: io.LimitReader(body, contentLength)}
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          counted,
		ContentLength: aws.Int64(contentLength),
	})
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	if counted.n != contentLength {
		return "", fmt.Errorf("put %q: wrote %d of %d bytes: %w", key, counted.n, contentLength, ErrContentLengthMismatch)
	}
	// A body longer than declared is also a contract violation.
	var probe [1]byte
	if n, _ := body.Read(probe[:]); n > 0 {
		return "", fmt.Errorf("put %q: body exceeds declared length %d: %w", key, contentLength, ErrContentLengthMismatch)
	}
	return normalizeETag(aws.ToString(out.ETag)), nil
}

// IsRetryable classifies transient transport and server faults as retryable.
// Auth, not-found, and precondition failures are durable and are not.
func (s *S3Store) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status >= 500 || status == 429 {
			return true
		}
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return true
		}
		return false
	}

	// Raw connection failures surface as plain errors from the transport.
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

// normalizeETag strips the quotes S3 wraps around ETag values so summary
// source maps store the bare tag.
func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}
