package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by tests. It is safe for concurrent
// use and mirrors the S3 store's contract, including the fixed-length
// stream check.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

// List returns all keys with the given prefix in ascending order.
func (m *MemStore) List(_ context.Context, keyPrefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, keyPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get reads the full body of a key.
func (m *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), body...), true, nil
}

// GetMeta reads the full body of a key together with its ETag.
func (m *MemStore) GetMeta(ctx context.Context, key string) (*Object, bool, error) {
	body, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &Object{Body: body, ETag: etagFor(body)}, true, nil
}

// GetStream opens a streaming read of a key.
func (m *MemStore) GetStream(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	body, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return io.NopCloser(bytes.NewReader(body)), true, nil
}

// GetStreamMeta opens a streaming read of a key together with its ETag.
func (m *MemStore) GetStreamMeta(ctx context.Context, key string) (*StreamObject, bool, error) {
	body, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &StreamObject{Body: io.NopCloser(bytes.NewReader(body)), ETag: etagFor(body)}, true, nil
}

// Put stores a full body and returns its ETag.
func (m *MemStore) Put(_ context.Context, key string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return etagFor(body), nil
}

// PutStream stores a body of an exact declared length, failing with
// ErrContentLengthMismatch when the body is shorter or longer.
func (m *MemStore) PutStream(ctx context.Context, key string, body io.Reader, contentLength int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	if int64(len(data)) != contentLength {
		return "", fmt.Errorf("put %q: got %d bytes, declared %d: %w", key, len(data), contentLength, ErrContentLengthMismatch)
	}
	return m.Put(ctx, key, data)
}

// IsRetryable always reports false; tests wrap MemStore to inject
// transient faults.
func (m *MemStore) IsRetryable(err error) bool {
	return false
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func etagFor(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}
