// Package store contains the grow-only record set.
//
// Records are keyed by their key field. Once a record with a given key is
// admitted it is never updated or removed, so any later record with the same
// key is discarded (first admission wins).
package store

import (
	"sort"

	"github.com/andydunstall/setdb/pkg/record"
)

// Store is a grow-only set of records.
//
// Store is not thread safe. It is owned by a single replication engine which
// serialises all access.
type Store struct {
	records map[string]record.Record

	indexBy   string
	validator record.Validator
}

func New(indexBy string, validator record.Validator) *Store {
	if indexBy == "" {
		indexBy = record.DefaultIndexBy
	}
	if validator == nil {
		validator = record.AcceptAll
	}
	return &Store{
		records:   make(map[string]record.Record),
		indexBy:   indexBy,
		validator: validator,
	}
}

// IndexBy returns the key field.
func (s *Store) IndexBy() string {
	return s.indexBy
}

// Admit adds a copy of the given record to the store.
//
// Returns false if the record has no key, a record with the same key already
// exists, or the record is rejected by the validator.
func (s *Store) Admit(r record.Record) bool {
	key, ok := record.Key(r, s.indexBy)
	if !ok {
		return false
	}
	if _, ok := s.records[key]; ok {
		return false
	}
	if !s.validator(r.Clone()) {
		return false
	}

	s.records[key] = r.Clone()
	return true
}

// MergeBatch admits each of the candidate records that pass the validator.
//
// Candidates are admitted in order, so if multiple candidates share a key the
// first wins. Returns true if any record was added.
func (s *Store) MergeBatch(candidates []record.Record) bool {
	valid := make([]record.Record, 0, len(candidates))
	for _, r := range candidates {
		if r == nil {
			continue
		}
		if s.validator(r.Clone()) {
			valid = append(valid, r)
		}
	}

	added := false
	for _, r := range valid {
		if s.admitValidated(r) {
			added = true
		}
	}
	return added
}

// Get returns a copy of the record with the given key.
func (s *Store) Get(key string) (record.Record, bool) {
	r, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Query returns copies of the records matching the given predicate, in
// ascending key order.
func (s *Store) Query(pred func(r record.Record) bool) []record.Record {
	var matches []record.Record
	for _, key := range s.sortedKeys() {
		r := s.records[key].Clone()
		if pred == nil || pred(r) {
			matches = append(matches, r)
		}
	}
	return matches
}

// Snapshot returns copies of all records in ascending key order.
//
// The order must match across peers so the encoded snapshot is
// deterministic.
func (s *Store) Snapshot() []record.Record {
	keys := s.sortedKeys()
	records := make([]record.Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, s.records[key].Clone())
	}
	return records
}

// Len returns the number of records in the store.
func (s *Store) Len() int {
	return len(s.records)
}

func (s *Store) admitValidated(r record.Record) bool {
	key, ok := record.Key(r, s.indexBy)
	if !ok {
		return false
	}
	if _, ok := s.records[key]; ok {
		return false
	}
	s.records[key] = r.Clone()
	return true
}

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return record.Compare(keys[i], keys[j]) < 0
	})
	return keys
}
