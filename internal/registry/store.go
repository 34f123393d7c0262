package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ipfs/go-cid"
)

// Mutator edits a private copy of a record. Returning an error discards the copy.
type Mutator func(Record) error

// Store persists records by address. Each call is atomic: either the whole mutation
// is applied or the stored record is left exactly as it was.
type Store interface {
	// Create stores a new record, failing with ErrAlreadyExists when its address is taken.
	Create(ctx context.Context, rec Record) error
	// Get returns a copy of the record at addr.
	Get(ctx context.Context, addr cid.Cid, kind RecordKind) (Record, error)
	// Update applies fn to the record at addr. When the record is missing and fresh is
	// non-nil, fn is applied to fresh and the result is created instead.
	Update(ctx context.Context, addr cid.Cid, kind RecordKind, fresh Record, fn Mutator) (Record, error)
	// Delete removes the record at addr once check accepts it, returning the removed record.
	Delete(ctx context.Context, addr cid.Cid, kind RecordKind, check Mutator) (Record, error)
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[cid.Cid]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[cid.Cid]Record)}
}

func (m *MemoryStore) Create(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := rec.Head().Address
	if _, ok := m.records[addr]; ok {
		return ErrAlreadyExists
	}
	m.records[addr] = rec.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, addr cid.Cid, kind RecordKind) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.lookupLocked(addr, kind)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, addr cid.Cid, kind RecordKind, fresh Record, fn Mutator) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.lookupLocked(addr, kind)
	switch {
	case errors.Is(err, ErrRecordNotFound) && fresh != nil:
		if fresh.Kind() != kind {
			return nil, ErrWrongRecordKind
		}
		rec = fresh
	case err != nil:
		return nil, err
	}
	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.records[addr] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, addr cid.Cid, kind RecordKind, check Mutator) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.lookupLocked(addr, kind)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(rec.Clone()); err != nil {
			return nil, err
		}
	}
	delete(m.records, addr)
	return rec, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) lookupLocked(addr cid.Cid, kind RecordKind) (Record, error) {
	rec, ok := m.records[addr]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if rec.Kind() != kind {
		return nil, ErrWrongRecordKind
	}
	return rec, nil
}
