package storage

import (
	"context"
	"sort"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"

	"homehub/pkg/addon"
)

// keySep joins namespace and key. It cannot appear in a namespace.
const keySep = "\x00"

// Memory is an in-memory addon.Storage.
type Memory struct {
	data cmap.ConcurrentMap[string, []byte]
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: cmap.New[[]byte]()}
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, namespace, key string) ([]byte, error) {
	if err := validate(namespace, key); err != nil {
		return nil, err
	}
	v, ok := m.data.Get(namespace + keySep + key)
	if !ok {
		return nil, addon.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put creates or replaces the value stored under key.
func (m *Memory) Put(_ context.Context, namespace, key string, value []byte) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	m.data.Set(namespace+keySep+key, append([]byte(nil), value...))
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	m.data.Remove(namespace + keySep + key)
	return nil
}

// Keys lists the keys of namespace in ascending order.
func (m *Memory) Keys(_ context.Context, namespace string) ([]string, error) {
	if err := validate(namespace, "-"); err != nil {
		return nil, err
	}
	prefix := namespace + keySep
	keys := make([]string, 0)
	for _, k := range m.data.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// HealthCheck always succeeds.
func (m *Memory) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
