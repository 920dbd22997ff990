package mem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/juju/errors"

	"github.com/warriorguo/flowgraph/store"
	"github.com/warriorguo/flowgraph/utils"
)

var (
	_ store.Store = &memStore{}
)

func NewMemStore() store.Store {
	return NewMemStoreWithErrHandler(nil)
}

// NewMemStoreWithErrHandler returns a store failing every call for which
// errHandler returns an error.
func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	if errHandler == nil {
		errHandler = func() error { return nil }
	}
	return &memStore{
		buckets:        make(map[string]map[string][]byte),
		mockErrHandler: errHandler,
	}
}

/**
 * memStore keeps entries in memory, one bucket per prefix. It is meant for
 * tests and local runs, nothing survives the process.
 */
type memStore struct {
	mu sync.RWMutex

	mockErrHandler func() error

	buckets map[string]map[string][]byte
}

func (m *memStore) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sb := strings.Builder{}
	sb.WriteString("\n----------\n")
	for _, prefix := range utils.SortedKeys(m.buckets) {
		bucket := m.buckets[prefix]
		for _, key := range utils.SortedKeys(bucket) {
			fmt.Fprintf(&sb, "%s%s: %s\n", prefix, key, string(bucket[key]))
		}
	}
	sb.WriteString("----------\n")
	return sb.String()
}

func (m *memStore) Get(_ context.Context, prefix, key string) ([]byte, error) {
	if err := m.mockErrHandler(); err != nil {
		return nil, errors.Trace(err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.buckets[prefix][key]
	if !exists {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (m *memStore) Set(_ context.Context, prefix, key string, value []byte) error {
	if err := m.mockErrHandler(); err != nil {
		return errors.Trace(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, exists := m.buckets[prefix]
	if !exists {
		bucket = make(map[string][]byte)
		m.buckets[prefix] = bucket
	}
	bucket[key] = append([]byte{}, value...)
	return nil
}

func (m *memStore) Remove(_ context.Context, prefix, key string) error {
	if err := m.mockErrHandler(); err != nil {
		return errors.Trace(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets[prefix], key)
	if len(m.buckets[prefix]) == 0 {
		delete(m.buckets, prefix)
	}
	return nil
}

// List iterates over a snapshot of the keys, the iterator may use the store.
func (m *memStore) List(_ context.Context, prefix string, iterator func(key string) bool) error {
	if err := m.mockErrHandler(); err != nil {
		return errors.Trace(err)
	}

	m.mu.RLock()
	keys := utils.SortedKeys(m.buckets[prefix])
	m.mu.RUnlock()

	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}
