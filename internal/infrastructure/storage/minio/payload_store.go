package minio

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
)

// Payload is a fetched object.
type Payload struct {
	Bucket      string
	Object      string
	Data        []byte
	ContentType string
	ETag        string
	Metadata    map[string]string
}

// PayloadStore reads item payloads by reference.
type PayloadStore struct {
	api    objectAPI
	cfg    Config
	logger logging.Logger
}

func newPayloadStore(api objectAPI, cfg Config, log logging.Logger) *PayloadStore {
	applyDefaults(&cfg)
	return &PayloadStore{api: api, cfg: cfg, logger: logging.OrNop(log).Named("payload_store")}
}

// ParseRef splits "bucket/object/key" at the first slash. A ref with no
// slash names an object in defaultBucket.
func ParseRef(ref, defaultBucket string) (bucket, object string, err error) {
	ref = strings.TrimPrefix(ref, "/")
	if ref == "" {
		return "", "", errors.New(errors.ErrCodePayloadFetch, "empty payload ref")
	}
	bucket, object, found := strings.Cut(ref, "/")
	if !found {
		bucket, object = defaultBucket, ref
	}
	if bucket == "" || object == "" {
		return "", "", errors.New(errors.ErrCodePayloadFetch, "malformed payload ref").WithDetail(ref)
	}
	return bucket, object, nil
}

// Fetch reads the object named by ref. Objects larger than MaxObjectBytes
// fail with ErrCodePayloadTooLarge before any data is transferred.
func (s *PayloadStore) Fetch(ctx context.Context, ref string) (*Payload, error) {
	bucket, object, err := ParseRef(ref, s.cfg.DefaultBucket)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	info, err := s.api.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Wrap(err, errors.ErrCodePayloadFetch, "payload not found").WithDetail(ref)
		}
		return nil, errors.Wrap(err, errors.ErrCodePayloadFetch, "stat payload").WithDetail(ref)
	}
	if info.Size > s.cfg.MaxObjectBytes {
		return nil, errors.Newf(errors.ErrCodePayloadTooLarge, "payload is %d bytes, limit %d", info.Size, s.cfg.MaxObjectBytes).WithDetail(ref)
	}

	obj, err := s.api.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePayloadFetch, "get payload").WithDetail(ref)
	}
	defer obj.Close()

	// The object may have been replaced between stat and get.
	data, err := io.ReadAll(io.LimitReader(obj, s.cfg.MaxObjectBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePayloadFetch, "read payload").WithDetail(ref)
	}
	if int64(len(data)) > s.cfg.MaxObjectBytes {
		return nil, errors.Newf(errors.ErrCodePayloadTooLarge, "payload exceeds limit %d", s.cfg.MaxObjectBytes).WithDetail(ref)
	}

	s.logger.Debug("Payload fetched",
		logging.String("bucket", bucket),
		logging.String("object", object),
		logging.Int("bytes", len(data)),
		logging.Duration("took", time.Since(start)))

	return &Payload{
		Bucket:      bucket,
		Object:      object,
		Data:        data,
		ContentType: info.ContentType,
		ETag:        info.ETag,
		Metadata:    info.UserMetadata,
	}, nil
}

// Ping checks that the default bucket is reachable.
func (s *PayloadStore) Ping(ctx context.Context) error {
	bucket := s.cfg.DefaultBucket
	if bucket == "" {
		return nil
	}
	exists, err := s.api.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "minio unreachable")
	}
	if !exists {
		return errors.New(errors.ErrCodeServiceUnavailable, "payload bucket missing").WithDetail(bucket)
	}
	return nil
}
