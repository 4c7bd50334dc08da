// Package minio resolves item payload references against S3-compatible
// object storage through minio-go.
package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
)

// DefaultMaxObjectBytes bounds a single payload when the config leaves it unset.
const DefaultMaxObjectBytes = 32 << 20

// Config is the minio section of the configuration file.
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	// DefaultBucket is used for refs that carry no bucket segment.
	DefaultBucket  string `mapstructure:"default_bucket"`
	MaxObjectBytes int64  `mapstructure:"max_object_bytes"`
}

func applyDefaults(cfg *Config) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxObjectBytes == 0 {
		cfg.MaxObjectBytes = DefaultMaxObjectBytes
	}
}

// objectAPI is the subset of *minio.Client the store uses. GetObject
// returns a plain ReadCloser so tests can serve bytes without a server.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

type clientAPI struct{ c *minio.Client }

func (a clientAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return a.c.BucketExists(ctx, bucket)
}

func (a clientAPI) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.c.StatObject(ctx, bucket, object, opts)
}

func (a clientAPI) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.c.GetObject(ctx, bucket, object, opts)
}

// NewPayloadStore connects to cfg.Endpoint. A missing default bucket is
// logged, not fatal: refs may name other buckets.
func NewPayloadStore(cfg Config, log logging.Logger) (*PayloadStore, error) {
	applyDefaults(&cfg)
	log = logging.OrNop(log)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}

	store := newPayloadStore(clientAPI{c: client}, cfg, log)
	if cfg.DefaultBucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		exists, err := store.api.BucketExists(ctx, cfg.DefaultBucket)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio").WithDetail(cfg.Endpoint)
		}
		if !exists {
			log.Warn("Default payload bucket does not exist", logging.String("bucket", cfg.DefaultBucket))
		}
	}

	log.Info("MinIO client connected", logging.String("endpoint", cfg.Endpoint), logging.Bool("ssl", cfg.UseSSL))
	return store, nil
}
