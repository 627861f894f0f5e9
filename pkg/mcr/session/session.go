// Package session models one reasoning session: an ordered list of formal
// facts, the lexicon derived from them, and per-fact embeddings used for
// similarity-guided repair. The store serializes concurrent mutation of the
// same session id; this package performs no locking of its own.
package session

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mcr-lab/mcr/pkg/mcr/lexicon"
)

// Session is the mutable per-conversation knowledge state.
type Session struct {
	ID         string               `json:"sessionId"`
	Facts      []string             `json:"facts"`
	Embeddings map[string][]float64 `json:"embeddings,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	ModifiedAt time.Time            `json:"modifiedAt"`
}

// New creates an empty session with a fresh ULID.
func New() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Embeddings: make(map[string][]float64),
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// KnowledgeBase returns the facts as one newline-separated program.
func (s *Session) KnowledgeBase() string {
	return strings.Join(s.Facts, "\n")
}

// SetKnowledgeBase replaces the fact list from a newline-separated program.
// Blank lines are dropped; comment lines are kept (they are valid program
// text). Embeddings for removed facts are discarded.
func (s *Session) SetKnowledgeBase(kb string) {
	var facts []string
	for _, line := range strings.Split(kb, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		facts = append(facts, line)
	}
	s.Facts = facts

	kept := make(map[string][]float64)
	for _, f := range facts {
		if vec, ok := s.Embeddings[f]; ok {
			kept[f] = vec
		}
	}
	s.Embeddings = kept
}

// AddFacts appends the clauses that are not already present, preserving
// order, and returns the ones actually added. Callers must have validated
// the clauses first.
func (s *Session) AddFacts(clauses []string) []string {
	existing := make(map[string]bool, len(s.Facts))
	for _, f := range s.Facts {
		existing[f] = true
	}

	var added []string
	for _, c := range clauses {
		c = strings.TrimSpace(c)
		if c == "" || existing[c] {
			continue
		}
		existing[c] = true
		s.Facts = append(s.Facts, c)
		added = append(added, c)
	}
	return added
}

// Lexicon derives the predicate/atom vocabulary from the current facts.
func (s *Session) Lexicon() *lexicon.Lexicon {
	return lexicon.FromClauses(s.Facts)
}

// SetEmbedding records the vector for a fact's text.
func (s *Session) SetEmbedding(fact string, vec []float64) {
	if s.Embeddings == nil {
		s.Embeddings = make(map[string][]float64)
	}
	s.Embeddings[fact] = vec
}

// NearestFact returns the stored fact most similar to vec, walking facts in
// insertion order so ties resolve deterministically to the earliest fact.
// ok is false when no fact has an embedding.
func (s *Session) NearestFact(vec []float64, sim func(a, b []float64) float64) (fact string, score float64, ok bool) {
	best := -2.0
	for _, f := range s.Facts {
		stored, has := s.Embeddings[f]
		if !has {
			continue
		}
		if v := sim(vec, stored); v > best {
			best, fact, ok = v, f, true
		}
	}
	return fact, best, ok
}

// Store persists sessions by id.
type Store interface {
	// Get returns the session or an error wrapping internalerr.ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	List(ctx context.Context) ([]string, error)
}
