package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Driver: DriverMemory}},
		{name: "default driver is memory", cfg: Config{}},
		{name: "unsupported driver", cfg: Config{Driver: "gcs"}, wantErr: true},
		{name: "s3 missing bucket", cfg: Config{Driver: DriverS3, S3Client: &fakeS3Client{}}, wantErr: true},
		{name: "s3 missing client", cfg: Config{Driver: DriverS3, Bucket: "origins-statements"}, wantErr: true},
		{name: "s3", cfg: Config{Driver: DriverS3, Bucket: "origins-statements", S3Client: &fakeS3Client{}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil || store == nil {
				t.Fatalf("New: store=%v err=%v", store, err)
			}
		})
	}
}

func TestMemoryStore_PutGetList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := New(Config{Driver: DriverMemory, Prefix: "mainnet/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := []byte(`{"version":"v1","seq":4}`)
	opts := PutOptions{ContentType: "application/json", Metadata: map[string]string{"seq": "4"}, IfAbsent: true}
	if err := store.Put(ctx, "/statements/0000000004-aa.json", payload, opts); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "statements/0000000004-aa.json", []byte("other"), opts); !errors.Is(err, ErrExists) {
		t.Fatalf("second IfAbsent Put: got %v want %v", err, ErrExists)
	}
	if err := store.Put(ctx, "statements/0000000002-bb.json", []byte("{}"), PutOptions{}); err != nil {
		t.Fatalf("Put #2: %v", err)
	}
	if err := store.Put(ctx, "other/x", []byte("{}"), PutOptions{}); err != nil {
		t.Fatalf("Put #3: %v", err)
	}

	obj, err := store.Get(ctx, "statements/0000000004-aa.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(obj.Data, payload) || obj.ContentType != "application/json" || obj.Metadata["seq"] != "4" {
		t.Fatalf("object: got %+v", obj)
	}
	if obj.ETag == "" {
		t.Fatalf("expected etag")
	}

	obj.Data[0] = 'X'
	obj.Metadata["seq"] = "changed"
	reload, err := store.Get(ctx, "statements/0000000004-aa.json")
	if err != nil {
		t.Fatalf("Get reload: %v", err)
	}
	if reload.Data[0] != '{' || reload.Metadata["seq"] != "4" {
		t.Fatalf("stored object was mutated through a returned copy")
	}

	keys, err := store.List(ctx, "statements/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "statements/0000000002-bb.json" || keys[1] != "statements/0000000004-aa.json" {
		t.Fatalf("List: got %#v", keys)
	}

	if _, err := store.Get(ctx, "statements/missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, key := range []string{"", "   ", "\x00bad", "\nnewline", "a/../b"} {
		key := key
		t.Run(strings.ReplaceAll(key, "\x00", "nul"), func(t *testing.T) {
			t.Parallel()
			if err := store.Put(context.Background(), key, []byte("x"), PutOptions{}); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("Put(%q): expected ErrInvalidKey, got %v", key, err)
			}
			if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("Get(%q): expected ErrInvalidKey, got %v", key, err)
			}
		})
	}
}

func TestS3Store_PutGetList(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{}
	store, err := New(Config{
		Driver:     DriverS3,
		Bucket:     "origins-statements",
		Prefix:     "mainnet",
		MaxGetSize: 4 << 10,
		S3Client:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const fullKey = "mainnet/statements/0000000004-aa.json"
	client.putFn = func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		if got := aws.ToString(in.Bucket); got != "origins-statements" {
			t.Fatalf("bucket: got %q", got)
		}
		if got := aws.ToString(in.Key); got != fullKey {
			t.Fatalf("key: got %q want %q", got, fullKey)
		}
		if got := aws.ToString(in.IfNoneMatch); got != "*" {
			t.Fatalf("IfNoneMatch: got %q want *", got)
		}
		if got := aws.ToString(in.ContentType); got != "application/json" {
			t.Fatalf("content type: got %q", got)
		}
		return &s3.PutObjectOutput{}, nil
	}
	client.getFn = func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
		if got := aws.ToString(in.Key); got != fullKey {
			t.Fatalf("get key: got %q want %q", got, fullKey)
		}
		return &s3.GetObjectOutput{
			Body:        io.NopCloser(strings.NewReader(`{"seq":4}`)),
			ContentType: aws.String("application/json"),
			ETag:        aws.String(`"abc123"`),
		}, nil
	}
	var pages int
	client.listFn = func(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
		if got := aws.ToString(in.Prefix); got != "mainnet/statements/" {
			t.Fatalf("list prefix: got %q", got)
		}
		pages++
		if in.ContinuationToken == nil {
			return &s3.ListObjectsV2Output{
				Contents:              []types.Object{{Key: aws.String("mainnet/statements/0000000004-aa.json")}},
				IsTruncated:           aws.Bool(true),
				NextContinuationToken: aws.String("next"),
			}, nil
		}
		return &s3.ListObjectsV2Output{
			Contents: []types.Object{{Key: aws.String("mainnet/statements/0000000002-bb.json")}},
		}, nil
	}

	if err := store.Put(context.Background(), "statements/0000000004-aa.json", []byte(`{"seq":4}`), PutOptions{
		ContentType: "application/json",
		IfAbsent:    true,
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	obj, err := store.Get(context.Background(), "statements/0000000004-aa.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Data) != `{"seq":4}` || obj.ETag != "abc123" || obj.Key != "statements/0000000004-aa.json" {
		t.Fatalf("object: got %+v", obj)
	}

	keys, err := store.List(context.Background(), "statements/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if pages != 2 {
		t.Fatalf("pages: got %d want 2", pages)
	}
	if len(keys) != 2 || keys[0] != "statements/0000000002-bb.json" || keys[1] != "statements/0000000004-aa.json" {
		t.Fatalf("List: got %#v", keys)
	}
}

func TestS3Store_MapsErrorCodes(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		putFn: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, fakeAPIError{code: "PreconditionFailed", msg: "exists"}
		},
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "NoSuchKey", msg: "missing"}
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "origins-statements", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Put(context.Background(), "k", []byte("x"), PutOptions{IfAbsent: true}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3Store_MaxGetSize(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("this payload is too large"))}, nil
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "origins-statements", S3Client: client, MaxGetSize: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Get(context.Background(), "statements/big.json"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

type fakeS3Client struct {
	putFn  func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFn  func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	listFn func(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func (f *fakeS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return f.putFn(ctx, in, opts...)
}

func (f *fakeS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected GetObject call")
	}
	return f.getFn(ctx, in, opts...)
}

func (f *fakeS3Client) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listFn == nil {
		return &s3.ListObjectsV2Output{}, nil
	}
	return f.listFn(ctx, in, opts...)
}

type fakeAPIError struct {
	code string
	msg  string
}

func (f fakeAPIError) ErrorCode() string             { return f.code }
func (f fakeAPIError) ErrorMessage() string          { return f.msg }
func (f fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (f fakeAPIError) Error() string                 { return f.code + ": " + f.msg }
