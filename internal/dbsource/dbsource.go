// Package dbsource loads a RAID-PIR database's elements from wherever an
// operator keeps them, producing the []raidpir.Element slice NewServer
// expects. It is adapted from the teacher's internal/s3 client: the same
// aws-sdk-go-v2 config/credentials wiring, retargeted from encrypted-object
// storage to flat fixed-width database snapshots.
package dbsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kenneth/raidpir"
	"github.com/kenneth/raidpir/internal/config"
)

// Loader produces a database's elements, decoded at the fixed element width
// the loader was configured with.
type Loader interface {
	Load(ctx context.Context) ([]raidpir.Element, error)
}

// New builds a Loader from a DatabaseConfig, selecting the local-file or
// S3-compatible implementation by cfg.Source.
func New(cfg config.DatabaseConfig) (Loader, error) {
	switch cfg.Source {
	case "", "local":
		return &LocalLoader{Path: cfg.Path, ElementSize: cfg.ElementSize}, nil
	case "s3":
		return NewS3Loader(cfg.S3, cfg.ElementSize)
	default:
		return nil, &raidpir.ConfigError{Reason: fmt.Sprintf("unknown database source %q", cfg.Source)}
	}
}

// LocalLoader reads a flat database snapshot from the local filesystem and
// slices it into fixed-width raidpir.Bytes elements.
type LocalLoader struct {
	Path        string
	ElementSize int
}

// Load implements Loader.
func (l *LocalLoader) Load(ctx context.Context) ([]raidpir.Element, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("dbsource: read %s: %w", l.Path, err)
	}
	return decode(data, l.ElementSize)
}

// S3Loader reads a flat database snapshot from an S3-compatible object store
// using the same AWS SDK v2 wiring the teacher's internal/s3 client uses:
// static credentials, region, and an optional base-endpoint override for
// non-AWS providers (MinIO, etc).
type S3Loader struct {
	client      *s3.Client
	bucket, key string
	elementSize int
}

// NewS3Loader constructs an S3Loader for the given S3Config.
func NewS3Loader(cfg config.S3Config, elementSize int) (*S3Loader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("dbsource: load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Loader{
		client:      s3.NewFromConfig(awsCfg, opts...),
		bucket:      cfg.Bucket,
		key:         cfg.Key,
		elementSize: elementSize,
	}, nil
}

// NewS3LoaderWithCredentials is like NewS3Loader but pins static
// credentials, mirroring the teacher's NewClient for deployments that don't
// use an ambient AWS credential chain.
func NewS3LoaderWithCredentials(cfg config.S3Config, elementSize int, accessKey, secretKey string) (*S3Loader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("dbsource: load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Loader{
		client:      s3.NewFromConfig(awsCfg, opts...),
		bucket:      cfg.Bucket,
		key:         cfg.Key,
		elementSize: elementSize,
	}, nil
}

// Load implements Loader.
func (l *S3Loader) Load(ctx context.Context) ([]raidpir.Element, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return nil, fmt.Errorf("dbsource: get object %s/%s: %w", l.bucket, l.key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("dbsource: read object body: %w", err)
	}

	return decode(buf.Bytes(), l.elementSize)
}

// decode slices a flat byte buffer into elementSize-wide raidpir.Bytes
// elements, in order.
func decode(data []byte, elementSize int) ([]raidpir.Element, error) {
	if elementSize <= 0 {
		return nil, &raidpir.ConfigError{Reason: fmt.Sprintf("element size must be positive, got %d", elementSize)}
	}
	if len(data)%elementSize != 0 {
		return nil, &raidpir.ConfigError{Reason: fmt.Sprintf("database length %d is not a multiple of element size %d", len(data), elementSize)}
	}

	n := len(data) / elementSize
	elements := make([]raidpir.Element, n)
	for i := 0; i < n; i++ {
		elements[i] = raidpir.NewBytes(data[i*elementSize : (i+1)*elementSize])
	}
	return elements, nil
}
