package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient records the inputs it receives and serves objects from a map.
type fakeClient struct {
	objects    map[string][]byte
	lastRange  string
	lastCopy   string
	headBucket error
	created    bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headBucket
}

func (f *fakeClient) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.lastRange = aws.ToString(in.Range)

	var start, end int64 = 0, int64(len(data)) - 1
	if in.Range != nil {
		if n, _ := fmt.Sscanf(*in.Range, "bytes=%d-%d", &start, &end); n == 1 {
			end = int64(len(data)) - 1
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
	}
	body := data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.lastCopy = aws.ToString(in.CopySource)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func TestGetObjectRangeHeader(t *testing.T) {
	fc := newFakeClient()
	b := newWithClient(fc, "clippy")
	ctx := context.Background()
	require.NoError(t, b.PutObject(ctx, "u1/f1.mp4", bytes.NewReader([]byte("0123456789")), 10))

	rc, n, err := b.GetObject(ctx, "u1/f1.mp4", 2, 4)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "bytes=2-5", fc.lastRange)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "2345", string(got))

	_, n, err = b.GetObject(ctx, "u1/f1.mp4", 7, 0)
	require.NoError(t, err)
	assert.Equal(t, "bytes=7-", fc.lastRange)
	assert.Equal(t, int64(3), n)

	_, _, err = b.GetObject(ctx, "u1/f1.mp4", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, fc.lastRange)
}

func TestMissingKeysMapToNotExist(t *testing.T) {
	b := newWithClient(newFakeClient(), "clippy")
	ctx := context.Background()

	_, _, err := b.GetObject(ctx, "u1/none", 0, 0)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = b.StatObject(ctx, "u1/none")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMapErrorLeavesOtherErrors(t *testing.T) {
	err := mapError(&smithy.GenericAPIError{Code: "AccessDenied"})
	assert.False(t, errors.Is(err, fs.ErrNotExist))

	err = mapError(errors.New("connection reset"))
	assert.False(t, errors.Is(err, fs.ErrNotExist))
}

func TestCopySourceIsEscaped(t *testing.T) {
	fc := newFakeClient()
	b := newWithClient(fc, "clippy")

	require.NoError(t, b.CopyObject(context.Background(), "u1/my file+1.png", "u1/new.png"))
	assert.Equal(t, "clippy/u1/my%20file+1.png", fc.lastCopy)
}

func TestEnsureBucketCreatesMissing(t *testing.T) {
	fc := newFakeClient()
	fc.headBucket = &smithy.GenericAPIError{Code: "NotFound"}
	b := newWithClient(fc, "clippy")

	require.NoError(t, b.ensureBucket(context.Background()))
	assert.True(t, fc.created)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", endpointURL("s3.example.com", true))
	assert.Equal(t, "http://already", endpointURL("http://already", true))
}
