// Package perf defines the append-only performance record emitted after
// every strategy run and the store interface the router reads aggregates
// from. Records are never mutated after write; concurrent appends across
// requests need no ordering between them.
package perf

import (
	"context"
	"time"
)

// InputClass labels what kind of request a record describes.
type InputClass string

const (
	ClassQuery  InputClass = "query"
	ClassAssert InputClass = "assert"
)

// Well-known metric names. A structural/exact match is worth more to the
// router than a partial-structure match; other metrics count at unit weight.
const (
	MetricExactMatch   = "exact_match"
	MetricPartialMatch = "partial_match"
	MetricConverged    = "converged"
)

// Record is the persisted outcome of one strategy execution.
type Record struct {
	StrategyHash string
	// ExampleID identifies the request or curriculum example this run served.
	ExampleID  string
	InputClass InputClass
	// Metrics maps metric names to values; booleans are stored as 0/1.
	Metrics    map[string]float64
	LatencyMs  int64
	CostTokens int64
	// ModelID is empty for model-agnostic records.
	ModelID   string
	CreatedAt time.Time
}

// Filter selects records. Zero values match everything. A non-empty ModelID
// also matches model-agnostic records (empty ModelID), because history from
// an unspecified model is still routing evidence.
type Filter struct {
	ModelID      string
	InputClass   InputClass
	StrategyHash string
}

// Matches reports whether r passes f.
func (f Filter) Matches(r Record) bool {
	if f.ModelID != "" && r.ModelID != "" && r.ModelID != f.ModelID {
		return false
	}
	if f.InputClass != "" && r.InputClass != f.InputClass {
		return false
	}
	if f.StrategyHash != "" && r.StrategyHash != f.StrategyHash {
		return false
	}
	return true
}

// Store is the append-only performance history.
type Store interface {
	Append(ctx context.Context, r Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}
