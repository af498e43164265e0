package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

func newTestS3(client *mockS3Client) *S3Storage {
	return NewS3StorageWithClient(client, "bench", S3Config{Prefix: "dev0"})
}

func TestS3Storage_GetNotFound(t *testing.T) {
	client := new(mockS3Client)
	store := newTestS3(client)

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Bucket == "bench" && *in.Key == "dev0/blobfs.super"
	})).Return(nil, &types.NoSuchKey{}).Once()

	_, err := store.Get(context.Background(), "blobfs.super")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	client.AssertExpectations(t)
}

func TestS3Storage_ReadAtRange(t *testing.T) {
	client := new(mockS3Client)
	store := newTestS3(client)

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "dev0/files/a/0" && *in.Range == "bytes=10-14"
	})).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("hello")),
	}, nil).Once()

	buf := make([]byte, 5)
	n, err := store.ReadAt(context.Background(), "files/a/0", buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestS3Storage_ReadAtShort(t *testing.T) {
	client := new(mockS3Client)
	store := newTestS3(client)

	client.On("GetObject", mock.Anything, mock.Anything).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("ab")),
	}, nil).Once()

	buf := make([]byte, 5)
	n, err := store.ReadAt(context.Background(), "files/a/0", buf, 0)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestS3Storage_PutAndDelete(t *testing.T) {
	client := new(mockS3Client)
	store := newTestS3(client)

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Key == "dev0/x" && *in.ContentLength == 3
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{}).Once()

	require.NoError(t, store.Put(context.Background(), "x", []byte("abc")))
	require.NoError(t, store.Delete(context.Background(), "x"), "deleting a missing key succeeds")
	client.AssertExpectations(t)
}

func TestS3Storage_PutFailureWrapsUploadFailed(t *testing.T) {
	client := new(mockS3Client)
	store := newTestS3(client)

	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	err := store.Put(context.Background(), "x", []byte("abc"))
	assert.ErrorIs(t, err, ErrUploadFailed)
}

func TestS3Storage_Exists(t *testing.T) {
	client := new(mockS3Client)
	store := newTestS3(client)

	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "dev0/present"
	})).Return(&s3.HeadObjectOutput{}, nil).Once()
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "dev0/absent"
	})).Return(nil, &types.NotFound{}).Once()

	ok, err := store.Exists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Storage_ListStripsPrefix(t *testing.T) {
	client := new(mockS3Client)
	store := newTestS3(client)

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return *in.Prefix == "dev0/files"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("dev0/files/b/0")},
			{Key: aws.String("dev0/files/a/0")},
		},
	}, nil).Once()

	names, err := store.List(context.Background(), "files")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/a/0", "files/b/0"}, names)
}
