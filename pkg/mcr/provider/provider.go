// Package provider declares the backend capability interfaces the pipeline
// consumes. Implementations are swappable: an OpenAI-compatible HTTP client,
// an embedded Prolog interpreter, or in-package fakes for tests.
package provider

import "context"

// Generator produces text from a prompt. No structural contract on the
// output beyond "text"; callers post-process.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CostReporter is implemented by generators that meter token usage. The
// counter is cumulative over the generator's lifetime; callers diff
// before/after readings to cost a single run.
type CostReporter interface {
	TotalTokens() int64
}

// Binding maps variable names to term text for one solution.
type Binding map[string]string

// Result is the outcome of one reasoner query. A syntactically valid query
// with no solutions yields an empty Solutions slice and no error.
type Result struct {
	Solutions []Binding
	// Proof optionally carries human-readable derivation steps.
	Proof []string
}

// Empty reports whether the query produced no solutions.
func (r Result) Empty() bool { return len(r.Solutions) == 0 }

// Reasoner executes formal queries against plain-text knowledge bases and
// validates knowledge-base syntax.
type Reasoner interface {
	// Query runs query against kb. Both are formal-language strings.
	Query(ctx context.Context, kb, query string) (Result, error)

	// Validate checks kb syntax. A nil return means valid; an invalid kb
	// returns an error wrapping internalerr.ErrValidation.
	Validate(ctx context.Context, kb string) error
}

// Embedder encodes text into vectors and scores vector pairs.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float64, error)

	// Similarity returns cosine similarity in [-1, 1].
	Similarity(a, b []float64) float64
}
