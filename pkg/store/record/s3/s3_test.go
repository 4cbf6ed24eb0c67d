package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittoshard/pkg/store/record"
	recordtesting "github.com/marmos91/dittoshard/pkg/store/record/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-process stand-in for a single S3 bucket.
type fakeClient struct {
	bucket string

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeClient(bucket string) *fakeClient {
	return &fakeClient{bucket: bucket, objects: make(map[string][]byte)}
}

func (f *fakeClient) checkBucket(name *string) error {
	if aws.ToString(name) != f.bucket {
		return &types.NoSuchBucket{Message: aws.String("no such bucket")}
	}
	return nil
}

func (f *fakeClient) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte{}, data...)))}, nil
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	for name := range f.objects {
		if strings.HasPrefix(name, aws.ToString(in.Prefix)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, name := range names {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(name)})
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	suite := &recordtesting.StoreTestSuite{
		NewStore: func(t *testing.T) record.Store {
			store, err := New(context.Background(), Config{
				Client:    newFakeClient("records"),
				Bucket:    "records",
				KeyPrefix: "shard-0/",
			})
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestS3Store_MissingBucket(t *testing.T) {
	_, err := New(context.Background(), Config{
		Client: newFakeClient("records"),
		Bucket: "other",
	})
	assert.Error(t, err)
}

func TestS3Store_ObjectLayout(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("records")
	store, err := New(ctx, Config{Client: client, Bucket: "records", KeyPrefix: "shard-1/"})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, 42, []byte("v")))
	client.objects["shard-1/not-a-key"] = []byte("ignored")
	client.objects["shard-2/7"] = []byte("other shard")

	assert.Contains(t, client.objects, "shard-1/42")

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, keys)
}
