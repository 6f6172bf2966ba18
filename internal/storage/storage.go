// Package storage turns media keys into time-limited URLs the encoder can
// read, and lists the media available in the bucket. Any S3-compatible
// provider works: Cloudflare R2, AWS S3, GCS interop, MinIO.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/metrics"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrNotFound means the key cannot name an object.
	ErrNotFound = errors.New("media not found")
	// ErrUnavailable means the provider could not be reached or refused the
	// request, including while the circuit breaker is open.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrInvalidKey means an upload key is empty, escapes its prefix, or
	// does not name a streamable file.
	ErrInvalidKey = errors.New("invalid media key")
	// ErrUploadBody means the upload source failed while being read. It is
	// the caller's fault and does not count against the provider.
	ErrUploadBody = errors.New("upload body unreadable")
)

// MediaExtensions are the file types offered by List.
var MediaExtensions = []string{".mp4", ".mkv", ".mov", ".avi", ".flv", ".webm"}

// Config selects and authenticates against a provider.
type Config struct {
	Provider        string // cloudflare | aws | gcs | minio
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	URLExpiry       time.Duration
}

// MediaFile is one listed object.
type MediaFile struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type s3API interface {
	GetObjectRequest(*s3.GetObjectInput) (*request.Request, *s3.GetObjectOutput)
	ListObjectsV2PagesWithContext(aws.Context, *s3.ListObjectsV2Input, func(*s3.ListObjectsV2Output, bool) bool, ...request.Option) error
}

type uploader interface {
	UploadWithContext(aws.Context, *s3manager.UploadInput, ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Client resolves, lists and uploads media. Calls go through a circuit breaker so an
// unreachable provider fails fast instead of stalling every start request.
type Client struct {
	api     s3API
	up      uploader
	bucket  string
	expiry  time.Duration
	breaker *gobreaker.CircuitBreaker[any]
	log     logger.Logger
}

// New builds an S3 session for cfg.
func New(cfg Config, log logger.Logger) (*Client, error) {
	region, endpoint, err := providerEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	awsCfg := &aws.Config{
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Region:      aws.String(region),
	}
	if endpoint != "" {
		awsCfg.Endpoint = aws.String(endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create storage session: %w", err)
	}

	log.Info("storage configured",
		logger.String("provider", cfg.Provider),
		logger.String("bucket", cfg.Bucket),
		logger.String("endpoint", endpoint))

	svc := s3.New(sess)
	c := newClient(svc, cfg.Bucket, cfg.URLExpiry, log)
	c.up = s3manager.NewUploaderWithClient(svc)
	return c, nil
}

func newClient(api s3API, bucket string, expiry time.Duration, log logger.Logger) *Client {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	c := &Client{api: api, bucket: bucket, expiry: expiry, log: log}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "storage",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUploadBody)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.StorageBreakerState.Set(breakerValue(to))
			log.Warn("storage circuit breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return c
}

func providerEndpoint(cfg Config) (region, endpoint string, err error) {
	region = cfg.Region
	endpoint = cfg.Endpoint
	switch strings.ToLower(cfg.Provider) {
	case "cloudflare", "r2":
		if endpoint == "" {
			return "", "", fmt.Errorf("STORAGE_ENDPOINT is required for cloudflare")
		}
		if region == "" {
			region = "auto"
		}
	case "aws", "s3":
		if region == "" || region == "auto" {
			region = "us-east-1"
		}
	case "gcs":
		if endpoint == "" {
			endpoint = "https://storage.googleapis.com"
		}
		if region == "" {
			region = "auto"
		}
	case "minio":
		if endpoint == "" {
			return "", "", fmt.Errorf("STORAGE_ENDPOINT is required for minio")
		}
		if region == "" || region == "auto" {
			region = "us-east-1"
		}
	default:
		return "", "", fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	return region, endpoint, nil
}

// Resolve returns a presigned GET URL for key. No existence check is made; a
// missing object surfaces later as an encoder failure.
func (c *Client) Resolve(ctx context.Context, key string) (string, error) {
	began := time.Now()
	key = strings.TrimLeft(strings.TrimSpace(key), "/")

	out, err := c.breaker.Execute(func() (any, error) {
		if key == "" || strings.HasSuffix(key, "/") {
			return nil, ErrNotFound
		}
		req, _ := c.api.GetObjectRequest(&s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		req.SetContext(ctx)
		url, err := req.Presign(c.expiry)
		if err != nil {
			return nil, fmt.Errorf("%w: presign %s: %v", ErrUnavailable, key, err)
		}
		return url, nil
	})

	if err != nil {
		err = breakerError(err)
		metrics.ObserveResolve(resultLabel(err), time.Since(began))
		return "", err
	}
	metrics.ObserveResolve("ok", time.Since(began))
	return out.(string), nil
}

// List returns media objects under prefix, filtered by MediaExtensions.
func (c *Client) List(ctx context.Context, prefix string) ([]MediaFile, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		files := make([]MediaFile, 0, 64)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(c.bucket),
			Prefix: aws.String(prefix),
		}
		err := c.api.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				if !IsMedia(key) {
					continue
				}
				files = append(files, MediaFile{
					Key:          key,
					Size:         aws.Int64Value(obj.Size),
					LastModified: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, c.bucket, err)
		}
		return files, nil
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.([]MediaFile), nil
}

// Upload streams body to key. Only keys accepted by CleanUploadKey are
// written; the returned file carries the number of bytes read from body.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (MediaFile, error) {
	key, err := CleanUploadKey(key)
	if err != nil {
		metrics.ObserveUpload("rejected", 0)
		return MediaFile{}, err
	}

	src := &countingReader{r: body}
	_, err = c.breaker.Execute(func() (any, error) {
		input := &s3manager.UploadInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
			Body:   src,
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		if _, err := c.up.UploadWithContext(ctx, input); err != nil {
			if src.err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUploadBody, src.err)
			}
			return nil, fmt.Errorf("%w: upload %s: %v", ErrUnavailable, key, err)
		}
		return nil, nil
	})
	if err != nil {
		err = breakerError(err)
		metrics.ObserveUpload(uploadResult(err), 0)
		return MediaFile{}, err
	}

	metrics.ObserveUpload("ok", src.n)
	c.log.Info("media uploaded", logger.String("key", key), logger.Int64("size", src.n))
	return MediaFile{Key: key, Size: src.n, LastModified: time.Now().UTC()}, nil
}

// CleanUploadKey trims key and rejects anything that is not a plain
// relative path to a media file.
func CleanUploadKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q is not a clean path", ErrInvalidKey, key)
		}
	}
	if !IsMedia(key) {
		return "", fmt.Errorf("%w: %q is not a media file (%s)", ErrInvalidKey, key, strings.Join(MediaExtensions, " "))
	}
	return key, nil
}

type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = err
	}
	return n, err
}

func uploadResult(err error) string {
	switch {
	case errors.Is(err, ErrUploadBody):
		return "body_error"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}

// IsMedia reports whether key has a streamable extension.
func IsMedia(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	for _, e := range MediaExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
