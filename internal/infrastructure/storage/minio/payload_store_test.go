package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/stockscan/pkg/errors"
)

type fakeObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	// served overrides what GetObject returns, to simulate a replaced object.
	served  map[string][]byte
	statErr error
	gets    int
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	if f.statErr != nil {
		return false, f.statErr
	}
	return f.buckets[bucket], nil
}

func (f *fakeObjects) StatObject(_ context.Context, bucket, object string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	data, ok := f.objects[bucket+"/"+object]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", BucketName: bucket, Key: object}
	}
	return minio.ObjectInfo{Key: object, Size: int64(len(data)), ContentType: "image/jpeg", ETag: "etag-1"}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, bucket, object string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	f.gets++
	key := bucket + "/" + object
	if data, ok := f.served[key]; ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return io.NopCloser(bytes.NewReader(f.objects[key])), nil
}

func newFakeStore(f *fakeObjects, maxBytes int64) *PayloadStore {
	return newPayloadStore(f, Config{DefaultBucket: "shelves", MaxObjectBytes: maxBytes}, nil)
}

func TestParseRef(t *testing.T) {
	cases := []struct {
		ref, bucket, object string
	}{
		{"photos/aisle-3/img.jpg", "photos", "aisle-3/img.jpg"},
		{"/photos/img.jpg", "photos", "img.jpg"},
		{"img.jpg", "shelves", "img.jpg"},
	}
	for _, c := range cases {
		b, o, err := ParseRef(c.ref, "shelves")
		require.NoError(t, err, c.ref)
		assert.Equal(t, c.bucket, b)
		assert.Equal(t, c.object, o)
	}

	for _, bad := range []string{"", "photos/", "/"} {
		_, _, err := ParseRef(bad, "shelves")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodePayloadFetch), bad)
	}
	_, _, err := ParseRef("img.jpg", "")
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	f := &fakeObjects{objects: map[string][]byte{"photos/a.jpg": []byte("jpeg-bytes")}}
	s := newFakeStore(f, 1024)

	p, err := s.Fetch(context.Background(), "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), p.Data)
	assert.Equal(t, "photos", p.Bucket)
	assert.Equal(t, "a.jpg", p.Object)
	assert.Equal(t, "image/jpeg", p.ContentType)
}

func TestFetch_NotFound(t *testing.T) {
	s := newFakeStore(&fakeObjects{objects: map[string][]byte{}}, 1024)

	_, err := s.Fetch(context.Background(), "photos/missing.jpg")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodePayloadFetch))
	assert.Contains(t, err.Error(), "photos/missing.jpg")
}

func TestFetch_TooLargeSkipsDownload(t *testing.T) {
	f := &fakeObjects{objects: map[string][]byte{"photos/big.jpg": make([]byte, 2048)}}
	s := newFakeStore(f, 1024)

	_, err := s.Fetch(context.Background(), "photos/big.jpg")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodePayloadTooLarge))
	assert.Zero(t, f.gets)
}

func TestFetch_GrewAfterStat(t *testing.T) {
	f := &fakeObjects{
		objects: map[string][]byte{"photos/a.jpg": []byte("small")},
		served:  map[string][]byte{"photos/a.jpg": make([]byte, 4096)},
	}
	s := newFakeStore(f, 1024)

	_, err := s.Fetch(context.Background(), "photos/a.jpg")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodePayloadTooLarge))
}

func TestFetch_StatError(t *testing.T) {
	s := newFakeStore(&fakeObjects{statErr: errors.New("connection refused")}, 1024)

	_, err := s.Fetch(context.Background(), "photos/a.jpg")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodePayloadFetch))
}

func TestPing(t *testing.T) {
	assert.NoError(t, newFakeStore(&fakeObjects{buckets: map[string]bool{"shelves": true}}, 1).Ping(context.Background()))

	err := newFakeStore(&fakeObjects{buckets: map[string]bool{}}, 1).Ping(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeServiceUnavailable))

	err = newFakeStore(&fakeObjects{statErr: errors.New("down")}, 1).Ping(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeServiceUnavailable))
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, int64(DefaultMaxObjectBytes), cfg.MaxObjectBytes)
}
