package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a process-local BlobStore and CompilationLog.
type MemoryStore struct {
	mu           sync.RWMutex
	blobs        map[string]memoryBlob
	compilations map[string][]*Compilation
	now          func() time.Time
}

type memoryBlob struct {
	meta Blob
	data []byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:        make(map[string]memoryBlob),
		compilations: make(map[string][]*Compilation),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Store(_ context.Context, data []byte, partialRef string) (string, error) {
	ref, err := newReference(partialRef)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = memoryBlob{
		meta: Blob{Reference: ref, PartialReference: partialOf(ref), Size: int64(len(data)), CreatedAt: m.now()},
		data: slices.Clone(data),
	}
	return ref, nil
}

func (m *MemoryStore) Retrieve(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[ref]
	if !ok {
		return nil, storeNotFound("blob", ref)
	}
	return slices.Clone(b.data), nil
}

func (m *MemoryStore) List(_ context.Context, partialRef string) ([]Blob, error) {
	partialRef = trimRef(partialRef)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Blob
	for _, b := range m.blobs {
		if b.meta.PartialReference == partialRef {
			out = append(out, b.meta)
		}
	}
	slices.SortFunc(out, func(a, b Blob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Reference, b.Reference)
	})
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref]; !ok {
		return storeNotFound("blob", ref)
	}
	delete(m.blobs, ref)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) RecordCompilation(_ context.Context, c *Compilation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.compilations[c.WorkflowKey]
	c.Sequence = int64(len(log)) + 1
	if c.CompiledAt.IsZero() {
		c.CompiledAt = m.now()
	}
	cp := *c
	m.compilations[c.WorkflowKey] = append(log, &cp)
	return nil
}

func (m *MemoryStore) ListCompilations(_ context.Context, workflowKey string, limit int) ([]*Compilation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.compilations[workflowKey]
	out := make([]*Compilation, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp := *log[i]
		out = append(out, &cp)
	}
	return out, nil
}
