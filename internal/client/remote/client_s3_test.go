package remote

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data    []byte
	modTime time.Time
}

// fakeS3 is a tiny in-memory bucket implementing s3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	now     time.Time
	heads   int
	maxKeys int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]fakeObject),
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modTime),
		ETag:          aws.String(`"etag"`),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(time.Second)
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, modTime: f.now}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if in.Delimiter != nil && strings.Contains(strings.TrimPrefix(k, prefix), aws.ToString(in.Delimiter)) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	limit := len(keys)
	if f.maxKeys > 0 {
		limit = f.maxKeys
	}
	end := min(start+limit, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modTime),
			ETag:         aws.String(`"etag"`),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func newTestS3Client() (*S3Client, *fakeS3) {
	api := newFakeS3()
	return NewS3Client(api, &S3Config{Bucket: "bucket"}), api
}

func TestS3Client_ContainerAndFolders(t *testing.T) {
	ctx := context.Background()
	c, api := newTestS3Client()

	container, err := c.GetOrCreateContainer(ctx, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, "vaults/vault-1/", container)
	assert.Contains(t, api.objects, "vaults/vault-1/.container")

	heads := api.heads
	_, err = c.GetOrCreateContainer(ctx, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, heads, api.heads, "container id cached")

	folder, err := c.EnsureFolderPath(ctx, "notes/daily", container)
	require.NoError(t, err)
	assert.Equal(t, "vaults/vault-1/notes/daily/", folder)
	assert.Contains(t, api.objects, "vaults/vault-1/notes/")
	assert.Contains(t, api.objects, "vaults/vault-1/notes/daily/")

	root, err := c.EnsureFolderPath(ctx, "", container)
	require.NoError(t, err)
	assert.Equal(t, container, root)

	_, err = c.GetOrCreateContainer(ctx, "bad/id")
	assert.Error(t, err)
}

func TestS3Client_UploadListDownload(t *testing.T) {
	ctx := context.Background()
	c, api := newTestS3Client()
	api.maxKeys = 2

	container, _ := c.GetOrCreateContainer(ctx, "v")
	folder, _ := c.EnsureFolderPath(ctx, "notes", container)

	info, err := c.UploadFile(ctx, "a.md", []byte("hello"), "", folder)
	require.NoError(t, err)
	assert.Equal(t, "vaults/v/notes/a.md", info.ID)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.ModifiedTime.IsZero(), "modified time from head")
	assert.Equal(t, "etag", info.Hash)

	_, err = c.UploadFile(ctx, "b.md", []byte("b"), "", container)
	require.NoError(t, err)
	_, err = c.UploadFile(ctx, "c.md", []byte("c"), "", container)
	require.NoError(t, err)

	files, err := ListAll(ctx, c, container)
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"b.md", "c.md", "notes/a.md"}, paths, "markers are not listed")

	data, err := c.DownloadFile(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = c.DownloadFile(ctx, "vaults/v/missing.md")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestS3Client_UploadKeepsCaseVariants(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestS3Client()
	container, _ := c.GetOrCreateContainer(ctx, "v")

	first, err := c.UploadFile(ctx, "Notes.md", []byte("upper"), "", container)
	require.NoError(t, err)
	second, err := c.UploadFile(ctx, "notes.md", []byte("lower"), "", container)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// uploading the same name again replaces the object in place
	again, err := c.UploadFile(ctx, "Notes.md", []byte("upper v2"), "", container)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	files, err := ListAll(ctx, c, container)
	require.NoError(t, err)
	require.Len(t, files, 2)

	data, err := c.DownloadFile(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "upper v2", string(data))
	data, err = c.DownloadFile(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "lower", string(data))
}

func TestS3Client_Authenticated(t *testing.T) {
	c, _ := newTestS3Client()
	assert.NoError(t, c.Authenticated(context.Background()))
}
