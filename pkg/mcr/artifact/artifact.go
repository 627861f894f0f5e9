// Package artifact defines the typed, immutable data units that flow between
// strategy steps. A step never mutates an input artifact; it produces a new
// one. Artifacts live only for the duration of one graph run.
package artifact

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Type is the closed enumeration of artifact content shapes.
type Type string

const (
	// Text is natural-language text.
	Text Type = "text"
	// Intermediate is a structured intermediate representation.
	Intermediate Type = "intermediate"
	// Clause is a single formal clause.
	Clause Type = "clause"
	// ClauseSet is a formal clause set / knowledge base.
	ClauseSet Type = "clause_set"
	// Query is a formal query string.
	Query Type = "query"
	// QueryResult is a formal query result (JSON-encoded bindings).
	QueryResult Type = "query_result"
	// Critique is a critique/comparison result.
	Critique Type = "critique"
	// Untyped carries content with no declared shape.
	Untyped Type = "untyped"
)

// Valid reports whether t is a member of the enumeration.
func (t Type) Valid() bool {
	switch t {
	case Text, Intermediate, Clause, ClauseSet, Query, QueryResult, Critique, Untyped:
		return true
	}
	return false
}

// Artifact is one typed data unit. Treat as a value; copy before changing
// metadata.
type Artifact struct {
	ID       string
	Type     Type
	Content  string
	Metadata map[string]string
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// New creates an artifact with a fresh ULID.
func New(t Type, content string) Artifact {
	return Artifact{ID: newID(), Type: t, Content: content}
}

// WithMeta returns a copy of a with one metadata entry added. The receiver is
// left untouched.
func (a Artifact) WithMeta(key, value string) Artifact {
	meta := make(map[string]string, len(a.Metadata)+1)
	for k, v := range a.Metadata {
		meta[k] = v
	}
	meta[key] = value
	a.Metadata = meta
	return a
}

// Meta returns the metadata value for key, or "" when absent.
func (a Artifact) Meta(key string) string {
	return a.Metadata[key]
}
