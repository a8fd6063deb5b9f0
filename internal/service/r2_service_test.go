package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBucket struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryBucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Key)] = body
	m.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memoryBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestR2Service_UploadOpen(t *testing.T) {
	bucket := newMemoryBucket()
	r2 := newR2Service(bucket, "media", "https://pub.example.r2.dev/")

	require.NoError(t, r2.Upload(context.Background(), "abc.png", []byte("png-bytes"), "image/png"))
	assert.Equal(t, "image/png", bucket.types["abc.png"])
	assert.Equal(t, "https://pub.example.r2.dev/abc.png", r2.PublicURL("abc.png"))

	rc, err := r2.Open(context.Background(), "abc.png")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))

	_, err = r2.Open(context.Background(), "missing.png")
	assert.Error(t, err)
}
