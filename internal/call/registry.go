package call

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("call: not found")

// Registry owns the authoritative in-memory call table and the
// recipient → call-ids index.
//
// Invariants:
//   - Table and index mutate together under one mutex; callers never observe a
//     half-updated pair.
//   - The index holds exactly the ids of a recipient's indexed records; an
//     empty list is deleted rather than kept around.
//   - Reads return copies. No pointer into the registry escapes.
//
// There is deliberately no durable backend: process memory is the
// authoritative store and restarts lose state.
type Registry struct {
	mu      sync.Mutex
	records map[string]Record
	byRcpt  map[int64][]string
	order   []string // insertion order, maintained across overwrites
}

func NewRegistry() *Registry {
	return &Registry{
		records: map[string]Record{},
		byRcpt:  map[int64][]string{},
	}
}

// Put inserts or overwrites a record and keeps the recipient index in step.
// A fresh id is appended to its recipient's list; overwrites leave the index
// untouched.
func (r *Registry) Put(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.records[rec.ID]
	r.records[rec.ID] = rec
	if !existed {
		r.byRcpt[rec.RecipientID] = append(r.byRcpt[rec.RecipientID], rec.ID)
		r.order = append(r.order, rec.ID)
	}
}

func (r *Registry) Get(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Exists reports whether an id is present. It is the uniqueness hook used by
// the identifier issuer.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

// ListAll returns every record in insertion order.
func (r *Registry) ListAll() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, id := range r.order {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// ListByRecipient returns the recipient's indexed records in index order.
// An empty index is ErrNotFound, matching lookup-by-id semantics.
func (r *Registry) ListByRecipient(recipientID int64) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byRcpt[recipientID]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FirstForRecipient returns the first id in the recipient's index, the pick
// used by cancel-by-recipient and the id-less toggle path. Deterministic but
// otherwise arbitrary when more than one id is indexed.
func (r *Registry) FirstForRecipient(recipientID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byRcpt[recipientID]
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

// Remove deletes a record and drops its id from the recipient index.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	delete(r.records, id)
	r.dropFromIndexLocked(rec.RecipientID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Unindex removes an id from its recipient's index while keeping the record
// itself. Cancellation uses this: the record is retained until cleanup purges
// it, but it no longer counts as one of the recipient's calls.
func (r *Registry) Unindex(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	r.dropFromIndexLocked(rec.RecipientID, id)
}

func (r *Registry) dropFromIndexLocked(recipientID int64, id string) {
	ids := r.byRcpt[recipientID]
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(r.byRcpt, recipientID)
		return
	}
	r.byRcpt[recipientID] = kept
}

// Update applies fn to the record under the registry lock and stores the
// result. It is the serialization point for read-modify-write transitions
// that must not race timer fires (respond vs timeout, toggle vs recurring
// fire).
func (r *Registry) Update(id string, fn func(*Record)) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	fn(&rec)
	r.records[id] = rec
	return rec, nil
}
