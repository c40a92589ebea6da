package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/rowlink/rowlink/internal/objstore"
)

type fakeClient struct {
	objects map[string][]byte
	putErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (objstore.ObjectInfo, error) {
	if f.putErr != nil {
		return objstore.ObjectInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	f.objects[key] = data
	return objstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, objstore.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeClient) Stat(ctx context.Context, bucket, key string) (objstore.ObjectInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return objstore.ObjectInfo{}, objstore.ErrObjectNotFound
	}
	return objstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeClient) Delete(ctx context.Context, bucket, key string) error {
	if _, ok := f.objects[key]; !ok {
		return objstore.ErrObjectNotFound
	}
	delete(f.objects, key)
	return nil
}

func newTestStore(t *testing.T, prefix string) (*Store, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	store, err := NewWithClient("lookup-tables", prefix, client)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	return store, client
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, "")
	body := []byte("parquet bytes")

	info, err := store.Put(context.Background(), "tables/dim.parquet", bytes.NewReader(body), int64(len(body)), objstore.PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Size != int64(len(body)) {
		t.Fatalf("Put() size = %d, want %d", info.Size, len(body))
	}

	reader, err := store.Get(context.Background(), "tables/dim.parquet")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("Get() = %q, want %q", got, body)
	}
}

func TestPrefixIsApplied(t *testing.T) {
	store, client := newTestStore(t, "/prod/")
	if _, err := store.Put(context.Background(), "/tables/dim.parquet", strings.NewReader("x"), 1, objstore.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := client.objects["prod/tables/dim.parquet"]; !ok {
		t.Fatalf("stored keys = %v, want prod/tables/dim.parquet", keysOf(client.objects))
	}
}

func TestNormalizeKeyRejectsTraversal(t *testing.T) {
	store, _ := newTestStore(t, "")
	for _, key := range []string{"", "   ", "..", "../secret", "a/../../b"} {
		if _, err := store.Stat(context.Background(), key); err == nil {
			t.Fatalf("Stat(%q) expected error", key)
		}
	}
}

func TestStatMissingObject(t *testing.T) {
	store, _ := newTestStore(t, "")
	_, err := store.Stat(context.Background(), "tables/ghost.parquet")
	if !errors.Is(err, objstore.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := store.Get(context.Background(), "tables/ghost.parquet"); !errors.Is(err, objstore.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestDeleteMissingObjectIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t, "")
	if err := store.Delete(context.Background(), "tables/ghost.parquet"); err != nil {
		t.Fatalf("Delete() of a missing object error = %v, want nil", err)
	}
}

func TestNewWithClientValidation(t *testing.T) {
	if _, err := NewWithClient("", "", newFakeClient()); err == nil {
		t.Fatal("NewWithClient() expected error for empty bucket")
	}
	if _, err := NewWithClient("bucket", "", nil); err == nil {
		t.Fatal("NewWithClient() expected error for nil client")
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{raw: "minio.internal:9000", useSSL: false, wantHost: "minio.internal:9000", wantSecure: false},
		{raw: "http://minio.internal:9000", useSSL: false, wantHost: "minio.internal:9000", wantSecure: false},
		{raw: "https://s3.example.com", useSSL: false, wantHost: "s3.example.com", wantSecure: true},
		{raw: "minio.internal:9000", useSSL: true, wantHost: "minio.internal:9000", wantSecure: true},
		{raw: "", wantErr: true},
		{raw: "https://", wantErr: true},
	}
	for _, tt := range tests {
		host, secure, err := parseEndpoint(tt.raw, tt.useSSL)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseEndpoint(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tt.raw, err)
		}
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Fatalf("parseEndpoint(%q) = (%q, %v), want (%q, %v)", tt.raw, host, secure, tt.wantHost, tt.wantSecure)
		}
	}
}

func TestMapMinioErr(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey"}
	if got := mapMinioErr(notFound); !errors.Is(got, objstore.ErrObjectNotFound) {
		t.Fatalf("mapMinioErr(NoSuchKey) = %v, want ErrObjectNotFound", got)
	}
	opaque := errors.New("connection reset")
	if got := mapMinioErr(opaque); !errors.Is(got, opaque) {
		t.Fatalf("mapMinioErr(opaque) = %v, want the original error", got)
	}
	if mapMinioErr(nil) != nil {
		t.Fatal("mapMinioErr(nil) should be nil")
	}
}

func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}
