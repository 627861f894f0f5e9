// Package prologengine adapts an embedded ISO Prolog interpreter to the
// reasoner provider interface. Each call builds a fresh interpreter so
// knowledge bases never leak between sessions.
package prologengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ichiban/prolog"

	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
	"github.com/mcr-lab/mcr/pkg/mcr/provider"
)

// Engine implements provider.Reasoner on ichiban/prolog.
type Engine struct {
	// Timeout bounds a single query. Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration
	// MaxSolutions caps how many bindings a query may return. Zero means
	// unlimited, which can loop forever on recursive programs.
	MaxSolutions int
}

// New returns an Engine with a 10 second query timeout and a 100 solution
// cap.
func New() *Engine {
	return &Engine{Timeout: 10 * time.Second, MaxSolutions: 100}
}

// interp builds a fresh interpreter loaded with kb. Unknown predicates fail
// instead of raising existence errors, matching how an empty knowledge base
// should answer "no" rather than crash.
func (e *Engine) interp(kb string) (*prolog.Interpreter, error) {
	p := prolog.New(nil, nil)
	if err := p.Exec(`:- set_prolog_flag(unknown, fail).`); err != nil {
		return nil, err
	}
	if strings.TrimSpace(kb) != "" {
		if err := p.Exec(kb); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Validate checks that kb parses and loads cleanly. A load failure wraps
// internalerr.ErrValidation with the interpreter's message.
func (e *Engine) Validate(ctx context.Context, kb string) error {
	if strings.TrimSpace(kb) == "" {
		return nil
	}
	if _, err := e.interp(kb); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrValidation, err)
	}
	return nil
}

// Query loads kb into a fresh interpreter and runs query, collecting every
// variable binding up to the solution cap.
func (e *Engine) Query(ctx context.Context, kb, query string) (provider.Result, error) {
	p, err := e.interp(kb)
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: %v", internalerr.ErrValidation, err)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	goal := strings.TrimSpace(query)
	if !strings.HasSuffix(goal, ".") {
		goal += "."
	}

	sols, err := p.QueryContext(ctx, goal)
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: %v", internalerr.ErrBackend, err)
	}
	defer sols.Close()

	res := provider.Result{}
	for sols.Next() {
		terms := map[string]prolog.TermString{}
		if err := sols.Scan(terms); err != nil {
			return provider.Result{}, fmt.Errorf("%w: %v", internalerr.ErrBackend, err)
		}
		binding := provider.Binding{}
		for name, term := range terms {
			binding[name] = string(term)
		}
		// Ground queries bind nothing; record the success itself.
		if len(binding) == 0 {
			binding["true"] = "true"
		}
		res.Solutions = append(res.Solutions, binding)
		res.Proof = append(res.Proof, goal)
		if e.MaxSolutions > 0 && len(res.Solutions) >= e.MaxSolutions {
			break
		}
	}
	if err := sols.Err(); err != nil {
		return provider.Result{}, fmt.Errorf("%w: %v", internalerr.ErrBackend, err)
	}
	return res, nil
}
