// Package memstore is an in-memory perf.Store for tests and ephemeral runs.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/mcr-lab/mcr/pkg/mcr/perf"
)

// Store is an in-memory implementation of perf.Store.
type Store struct {
	mu      sync.RWMutex
	records []perf.Record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Close implements perf.Store.
func (s *Store) Close() error { return nil }

// Append adds one record. The stored copy gets a CreatedAt if missing.
func (s *Store) Append(_ context.Context, r perf.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Metrics = copyMetrics(r.Metrics)
	s.records = append(s.records, r)
	return nil
}

// Query returns all records matching f, in append order.
func (s *Store) Query(_ context.Context, f perf.Filter) ([]perf.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []perf.Record
	for _, r := range s.records {
		if f.Matches(r) {
			r.Metrics = copyMetrics(r.Metrics)
			out = append(out, r)
		}
	}
	return out, nil
}

func copyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
