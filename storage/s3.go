package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// ForcePathStyle is required by most S3-compatible servers.
	ForcePathStyle bool

	RedirectDownloads bool
}

// S3Backend implements a storage backend using Amazon S3 or compatible services.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	redirect    bool
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 storage backend. Static credentials are used
// when both keys are set; otherwise the SDK default chain applies and
// presigned URLs are disabled.
func NewS3Backend(cfg S3Config, log *slog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket not set", interfaces.ErrInvalidConfig)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	// Format the URI for tracking, never with the secret
	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, cfg.Prefix, cfg.Region)
	if cfg.AccessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", cfg.AccessKey, cfg.Bucket, cfg.Prefix, cfg.Region)
	}
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	awsCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
		HTTPClient:       &http.Client{Timeout: azureClientTimeout},
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	hasStaticCredentials := cfg.AccessKey != "" && cfg.SecretKey != ""
	if hasStaticCredentials {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	redirect := cfg.RedirectDownloads
	if redirect && !hasStaticCredentials {
		log.Warn("S3 redirect downloads require static credentials, redirect downloads will be disabled")
		redirect = false
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		redirect:    redirect,
		log:         log,
		locationURI: uri,
	}, nil
}

// Put uploads content to the bucket.
func (b *S3Backend) Put(ctx context.Context, key string, content []byte) error {
	objectKey := b.objectKey(key)

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucketName),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(azureContentType),
	})
	if err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: classifyS3Error(err)}
	}

	b.log.Debug("Stored content in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(content)))

	return nil
}

// Get retrieves an object from S3. Returns ErrContentNotFound if the object doesn't exist.
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	objectKey := b.objectKey(key)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		err = classifyS3Error(err)
		if errors.Is(err, interfaces.ErrContentNotFound) {
			b.log.Debug("Content not found in S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", objectKey),
				slog.Duration("duration", time.Since(start)))
		}
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: err}
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key,
			Err: fmt.Errorf("%w: failed to read object body: %w", interfaces.ErrBackendUnavailable, err)}
	}

	b.log.Debug("Fetched content from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Exists issues a HEAD for the object.
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}

	err = classifyS3Error(err)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return false, nil
	}
	return false, &interfaces.StorageError{Op: "exists", Key: key, Err: err}
}

// Delete removes the object. S3 reports success for absent keys.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		err = classifyS3Error(err)
		if errors.Is(err, interfaces.ErrContentNotFound) {
			return nil
		}
		return &interfaces.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// SupportsRedirect reports whether presigned GET URLs can be issued.
func (b *S3Backend) SupportsRedirect() bool {
	return b.redirect
}

// PresignedURL returns a presigned GET URL for key valid for ttl.
func (b *S3Backend) PresignedURL(ctx context.Context, key string, ttl time.Duration) (*interfaces.PresignedURL, error) {
	if !b.redirect {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = defaultSASExpiry
	}

	req, _ := b.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	req.SetContext(ctx)

	signed, err := req.Presign(ttl)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "presign", Key: key, Err: fmt.Errorf("failed to presign request: %w", err)}
	}

	return &interfaces.PresignedURL{
		URL:       signed,
		ExpiresIn: ttl,
		Source:    interfaces.SourceS3,
	}, nil
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

// classifyS3Error maps SDK errors onto the storage error taxonomy.
func classifyS3Error(err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusNotFound:
			return interfaces.ErrContentNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", interfaces.ErrUnauthorized, reqErr.Code())
		}
		return fmt.Errorf("%w: status %d (%s)", interfaces.ErrBackendUnavailable, reqErr.StatusCode(), reqErr.Code())
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return interfaces.ErrContentNotFound
		case request.CanceledErrorCode:
			return fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, aerr.Code())
		}
		return fmt.Errorf("%w: %s: %s", interfaces.ErrBackendUnavailable, aerr.Code(), aerr.Message())
	}

	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}
