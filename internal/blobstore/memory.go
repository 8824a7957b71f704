package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// memoryStore keeps objects by stored name. It serves single-process runs and tests.
type memoryStore struct {
	ns namespace

	mu      sync.RWMutex
	objects map[string]Object
}

func newMemoryStore(ns namespace) *memoryStore {
	return &memoryStore{ns: ns, objects: make(map[string]Object)}
}

func (m *memoryStore) Put(_ context.Context, key string, payload []byte, opts PutOptions) error {
	key, name, err := m.ns.resolve(key)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)
	obj := Object{
		Key:          key,
		Data:         slices.Clone(payload),
		ContentType:  strings.TrimSpace(opts.ContentType),
		Metadata:     metadataOf(opts.Metadata),
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.objects[name]; taken && opts.IfAbsent {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	m.objects[name] = obj
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (Object, error) {
	key, name, err := m.ns.resolve(key)
	if err != nil {
		return Object{}, err
	}

	m.mu.RLock()
	obj, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	obj.Data = slices.Clone(obj.Data)
	obj.Metadata = metadataOf(obj.Metadata)
	return obj, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	want := m.ns.name(strings.TrimPrefix(prefix, "/"))

	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for name, obj := range m.objects {
		if strings.HasPrefix(name, want) {
			keys = append(keys, obj.Key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}
