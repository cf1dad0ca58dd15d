package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/dawnvoice/dawn/pkg/convo"
)

// ---------------------------------------------------------------------------
// mock S3 client
// ---------------------------------------------------------------------------

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
var errNotFound = &apiError{code: "NotFound", msg: "not found"}

// mockS3 is a thread-safe in-memory S3 backend for testing.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

// ---------------------------------------------------------------------------
// S3Store tests
// ---------------------------------------------------------------------------

func newTestS3(t *testing.T) (*S3Store, *mockS3) {
	t.Helper()
	mock := newMockS3()
	return NewS3(mock, "test-bucket", ""), mock
}

func TestS3WriteAndRead(t *testing.T) {
	store, _ := newTestS3(t)
	ctx := context.Background()

	const data = "archive body"
	w, err := store.Write(ctx, "c1/a.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := store.Read(ctx, "c1/a.json")
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != data {
		t.Errorf("read back %q, want %q", got, data)
	}
}

func TestS3ReadMissingWrapsNotExist(t *testing.T) {
	store, _ := newTestS3(t)
	_, err := store.Read(context.Background(), "absent.json")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestS3PrefixedKeys(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "test-bucket", "archives")
	ctx := context.Background()

	w, err := store.Write(ctx, "c1/a.json")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "x")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	mock.mu.Lock()
	_, ok := mock.objects["archives/c1/a.json"]
	mock.mu.Unlock()
	if !ok {
		t.Errorf("object stored under %v, want archives/c1/a.json", keysOf(mock))
	}
}

func TestS3WriteErrorSurfacesOnClose(t *testing.T) {
	store, mock := newTestS3(t)
	mock.putErr = errors.New("upload refused")

	w, err := store.Write(context.Background(), "c1/a.json")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "x")
	if err := w.Close(); err == nil {
		t.Error("Close should return the upload error")
	}
}

func TestS3ExistsAndDelete(t *testing.T) {
	store, _ := newTestS3(t)
	ctx := context.Background()

	if ok, _ := store.Exists(ctx, "c1/a.json"); ok {
		t.Error("Exists before write")
	}
	w, _ := store.Write(ctx, "c1/a.json")
	io.WriteString(w, "x")
	w.Close()
	if ok, _ := store.Exists(ctx, "c1/a.json"); !ok {
		t.Error("Exists after write = false")
	}
	if err := store.Delete(ctx, "c1/a.json"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "c1/a.json"); err != nil {
		t.Errorf("repeated delete: %v", err)
	}
}

func TestExportToS3RoundTrip(t *testing.T) {
	store, _ := newTestS3(t)
	ctx := context.Background()
	turns := []convo.Turn{
		{ID: "1", Timestamp: 10, Role: convo.RoleUser, Content: "hi", Origin: convo.OriginText},
		{ID: "2", Timestamp: 20, Role: convo.RoleAssistant, Content: "hello", Origin: convo.OriginRealtime},
	}

	path, err := Export(ctx, store, "c1", "u1", turns)
	if err != nil {
		t.Fatal(err)
	}
	arch, err := Load(ctx, store, path)
	if err != nil {
		t.Fatal(err)
	}
	if arch.ConversationID != "c1" || arch.UserID != "u1" {
		t.Errorf("archive identity = %s/%s", arch.ConversationID, arch.UserID)
	}
	if len(arch.Turns) != 2 || arch.Turns[1].Content != "hello" {
		t.Errorf("archive turns = %+v", arch.Turns)
	}
}

func keysOf(m *mockS3) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
