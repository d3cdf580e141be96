package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key, data := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	if _, err := NewS3Archive(newFakeS3(), " ", "p"); err == nil {
		t.Fatalf("NewS3Archive accepted an empty bucket")
	}
}

func TestS3Archive_StoreListDelete(t *testing.T) {
	fake := newFakeS3()
	archive, err := NewS3Archive(fake, "bucket", "/torrents/")
	if err != nil {
		t.Fatalf("NewS3Archive returned error: %v", err)
	}
	archive.now = func() time.Time { return time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	loc, err := archive.Store(ctx, "42", "../[rutracker.org].t42.torrent", []byte("d4:infoe"))
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	want := "s3://bucket/torrents/42/20261017T083000Z-[rutracker.org].t42.torrent"
	if loc != want {
		t.Fatalf("location = %q, want %q", loc, want)
	}
	if _, err := archive.Store(ctx, "420", "other.torrent", []byte("x")); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	objects, err := archive.List(ctx, "42")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(objects) != 1 || objects[0].Size != 8 {
		t.Fatalf("objects = %+v, want one 8-byte object", objects)
	}

	if err := archive.DeleteRelease(ctx, "42"); err != nil {
		t.Fatalf("DeleteRelease returned error: %v", err)
	}
	if len(fake.objects) != 1 {
		t.Fatalf("remaining objects = %d, want 1 (release 420 untouched)", len(fake.objects))
	}
}
