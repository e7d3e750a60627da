package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memRecordStore is a map backed RecordStore with injectable failures.
type memRecordStore struct {
	mu      sync.Mutex
	records map[string]json.RawMessage

	setErr    error
	getErr    error
	deleteErr error
	listErr   error
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{records: map[string]json.RawMessage{}}
}

func (m *memRecordStore) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.records[key] = data
	return nil
}

func (m *memRecordStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memRecordStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, key)
	return nil
}

func (m *memRecordStore) ListByPrefix(_ context.Context, prefix string) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	values := []json.RawMessage{}
	for k, v := range m.records {
		if strings.HasPrefix(k, prefix) {
			values = append(values, v)
		}
	}
	return values, nil
}

func (m *memRecordStore) Close() error { return nil }

func (m *memRecordStore) raw(key string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[key]
	return v, ok
}

func (m *memRecordStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// memBlobStore is an in-memory BlobStore. Every Sign call mints a distinct URL.
type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	seq   int
	signs int

	putErr    error
	removeErr error
	signErr   error
	// block, when set, holds every Sign call until it is closed.
	block chan struct{}
	delay time.Duration

	inflight    int
	maxInflight int
	removed     []string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: map[string][]byte{}}
}

func (b *memBlobStore) Put(_ context.Context, pathHint string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return "", b.putErr
	}
	b.seq++
	path := fmt.Sprintf("images/%d-%s", b.seq, pathHint)
	b.blobs[path] = data
	return path, nil
}

func (b *memBlobStore) Remove(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, path)
	if b.removeErr != nil {
		return b.removeErr
	}
	delete(b.blobs, path)
	return nil
}

func (b *memBlobStore) Sign(ctx context.Context, path string, ttl time.Duration) (string, bool, error) {
	b.mu.Lock()
	b.inflight++
	b.maxInflight = max(b.maxInflight, b.inflight)
	block, delay := b.block, b.delay
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}()

	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signErr != nil {
		return "", false, b.signErr
	}
	if _, ok := b.blobs[path]; !ok {
		return "", false, nil
	}
	b.signs++
	return fmt.Sprintf("https://blobs.test/%s?ttl=%d&sig=%d", path, int(ttl.Seconds()), b.signs), true, nil
}

func (b *memBlobStore) has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[path]
	return ok
}
