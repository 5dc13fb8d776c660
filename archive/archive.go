// Package archive uploads finished run files to an S3-compatible bucket and
// fetches them back for the history tools.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"go-tankloop/config"
	"go-tankloop/logger"
)

const defaultRegion = "us-east-1"

var ErrNoBucket = errors.New("archive bucket required")

type Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    logger.Logger
}

type options struct {
	httpClient  *http.Client
	credentials aws.CredentialsProvider
	log         logger.Logger
}

type Option func(*options)

// WithHTTPClient replaces the SDK transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithStaticCredentials bypasses the default AWS credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(o *options) {
		o.credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// New builds a store for cfg.Bucket. Credentials come from the default AWS chain
// (AWS_ACCESS_KEY_ID, shared config, instance role) unless overridden.
func New(ctx context.Context, cfg config.ArchiveConfig, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	o := options{log: logger.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if o.credentials != nil {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(o.credentials))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		so.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			so.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if o.httpClient != nil {
			so.HTTPClient = o.httpClient
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, log: o.log}, nil
}

func (s *Store) Bucket() string {
	return s.bucket
}

// Key returns the object key for name under the configured prefix.
func (s *Store) Key(name string) string {
	return path.Join(s.prefix, name)
}

// UploadFile stores the local file at key.
func (s *Store) UploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	s.log.Info("archived file", "file", localPath, "bucket", s.bucket, "key", key, "bytes", info.Size())
	return nil
}

// UploadRun copies each file to <prefix>/<runID>/<base name> and returns the
// keys written. Missing files are skipped.
func (s *Store) UploadRun(ctx context.Context, runID string, paths ...string) ([]string, error) {
	var keys []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("skipping missing run file", "file", p)
			continue
		}
		if err != nil {
			return keys, err
		}
		if !info.Mode().IsRegular() {
			continue
		}

		key := s.Key(path.Join(runID, filepath.Base(p)))
		if err := s.UploadFile(ctx, p, key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// Fetch downloads key into dst, creating or truncating it.
func (s *Store) Fetch(ctx context.Context, key, dst string) error {
	return fetch(ctx, s.client, s.bucket, key, dst)
}

func fetch(ctx context.Context, client *s3.Client, bucket, key, dst string) error {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	return f.Close()
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".log":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
