// Package storage opens the durable patient store (PostgreSQL or SQLite) and
// provides an in-memory store for tests.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/healthscan/healthscan/internal/model"
)

// MemoryStore keeps records in insertion order and hands out sequential ids
// starting at 1.
type MemoryStore struct {
	mu      sync.RWMutex
	records []model.PatientRecord
	nextID  int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Create appends rec, assigning its id and creation time.
func (m *MemoryStore) Create(_ context.Context, rec *model.PatientRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records = append(m.records, *rec)
	return nil
}

// ListAll returns a copy of every record in insertion order.
func (m *MemoryStore) ListAll(_ context.Context) ([]model.PatientRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PatientRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}
