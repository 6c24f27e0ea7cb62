package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"ocm.software/open-component-model/pluginhub/internal/failure"
)

type key struct{ kind, name string }

// Memory keeps records in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[key]Record
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: map[key]Record{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, kind, name string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key{kind, name}]
	if !ok {
		return Record{}, failure.NotFound(kind, name)
	}
	return clone(rec), nil
}

func (m *Memory) List(_ context.Context, kind string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for k, rec := range m.records {
		if k.kind == kind {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Create(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{rec.Kind, rec.Name}
	if _, ok := m.records[k]; ok {
		return Record{}, failure.AlreadyExists(rec.Kind, rec.Name)
	}
	rec = clone(rec)
	rec.Version = 1
	rec.CreatedAt = m.now().UTC()
	m.records[k] = rec
	return clone(rec), nil
}

func (m *Memory) Update(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{rec.Kind, rec.Name}
	stored, ok := m.records[k]
	if !ok {
		return Record{}, failure.NotFound(rec.Kind, rec.Name)
	}
	if stored.Version != rec.Version {
		return Record{}, failure.Conflict(rec.Kind, rec.Name, rec.Version)
	}
	stored.Version++
	stored.Data = bytes.Clone(rec.Data)
	m.records[k] = stored
	return clone(stored), nil
}

func clone(rec Record) Record {
	rec.Data = bytes.Clone(rec.Data)
	return rec
}
