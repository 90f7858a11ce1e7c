package store

import (
	"sort"
	"sync"
)

// Unit buffers the records of one atomic group (a batch or a restore) in
// memory until CommitUnit writes them in a single SQL transaction. Workers
// validating different files may Add concurrently.
type Unit struct {
	ID string

	mu      sync.Mutex
	records []*Record
}

// NewUnit returns an empty unit. An empty id marks records as standalone.
func NewUnit(id string) *Unit {
	return &Unit{ID: id}
}

// Add buffers r. Safe for concurrent use.
func (u *Unit) Add(r *Record) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, r)
}

// Len returns the number of buffered records.
func (u *Unit) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.records)
}

// Records returns the buffered records ordered by file, preserving the
// insertion order of records for the same file.
func (u *Unit) Records() []*Record {
	u.mu.Lock()
	out := make([]*Record, len(u.records))
	copy(out, u.records)
	u.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}
