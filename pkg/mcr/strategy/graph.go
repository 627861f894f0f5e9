// Package strategy defines declarative translation strategy graphs and the
// executor that interprets them. A graph is a directed set of typed steps
// with one entry point; the executor follows single outgoing edges (branch
// selection is an external concern) and threads artifacts through handlers.
package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/mcr-lab/mcr/pkg/mcr/artifact"
	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
)

// Kind enumerates step action kinds.
type Kind string

const (
	KindGenerative    Kind = "generative"
	KindTransform     Kind = "transform"
	KindReasonerQuery Kind = "reasoner_query"
	KindCompare       Kind = "compare"
)

// Valid reports whether k is a member of the enumeration.
func (k Kind) Valid() bool {
	switch k {
	case KindGenerative, KindTransform, KindReasonerQuery, KindCompare:
		return true
	}
	return false
}

// GenerativeAction assembles a prompt and calls the generative backend.
type GenerativeAction struct {
	// Template is the prompt template name.
	Template string
	// Input keys the artifact whose content fills the template's text slot.
	Input string
	// Output is the produced artifact's type.
	Output artifact.Type
}

// TransformAction applies a named deterministic function.
type TransformAction struct {
	Func   string
	Input  string
	Params map[string]string
}

// ReasonerQueryAction executes a formal query against a knowledge base.
type ReasonerQueryAction struct {
	// QueryFrom keys the artifact carrying the query.
	QueryFrom string
	// KBFrom keys the artifact carrying the knowledge base.
	KBFrom string
	// SessionID optionally names the owning session for logging.
	SessionID string
}

// CompareAction evaluates two artifacts against each other, producing a
// critique artifact. The core only computes the critique; an external
// collaborator decides what to do with it.
type CompareAction struct {
	Method string
	A, B   string
}

// Action is a tagged union over step kinds. Exactly one branch is set,
// matching Kind; Graph.Validate rejects mismatches.
type Action struct {
	Kind       Kind
	Generative *GenerativeAction
	Transform  *TransformAction
	Reasoner   *ReasonerQueryAction
	Compare    *CompareAction
}

// Step is one node in a strategy graph.
type Step struct {
	ID     string
	Name   string
	Action Action
}

// Edge connects two steps.
type Edge struct {
	From, To string
}

// Graph is one declarative translation strategy.
type Graph struct {
	ID     string
	Name   string
	Steps  map[string]Step
	Edges  []Edge
	Entry  string
	Output artifact.Type
}

// Validate checks structural invariants: the entry step exists, every edge
// references known steps, each step has at most one outgoing edge (branching
// is resolved externally), action unions are coherent, and the subgraph
// reachable from the entry is acyclic. All violations wrap ErrInvalidConfig.
func (g Graph) Validate() error {
	if len(g.Steps) == 0 {
		return fmt.Errorf("graph %q has no steps: %w", g.ID, internalerr.ErrInvalidConfig)
	}
	if _, ok := g.Steps[g.Entry]; !ok {
		return fmt.Errorf("graph %q entry step %q missing: %w", g.ID, g.Entry, internalerr.ErrInvalidConfig)
	}
	if !g.Output.Valid() {
		return fmt.Errorf("graph %q output type %q invalid: %w", g.ID, g.Output, internalerr.ErrInvalidConfig)
	}

	out := make(map[string]string, len(g.Edges))
	for _, e := range g.Edges {
		if _, ok := g.Steps[e.From]; !ok {
			return fmt.Errorf("graph %q edge from unknown step %q: %w", g.ID, e.From, internalerr.ErrInvalidConfig)
		}
		if _, ok := g.Steps[e.To]; !ok {
			return fmt.Errorf("graph %q edge to unknown step %q: %w", g.ID, e.To, internalerr.ErrInvalidConfig)
		}
		if prev, dup := out[e.From]; dup {
			return fmt.Errorf("graph %q step %q has multiple outgoing edges (%q, %q): %w",
				g.ID, e.From, prev, e.To, internalerr.ErrInvalidConfig)
		}
		out[e.From] = e.To
	}

	for id, step := range g.Steps {
		if err := step.Action.check(); err != nil {
			return fmt.Errorf("graph %q step %q: %w", g.ID, id, err)
		}
	}

	// Walk from the entry; revisiting a step is a cycle.
	seen := map[string]bool{}
	for cur, ok := g.Entry, true; ok; cur, ok = out[cur] {
		if seen[cur] {
			return fmt.Errorf("graph %q has a cycle through %q: %w", g.ID, cur, internalerr.ErrInvalidConfig)
		}
		seen[cur] = true
	}
	return nil
}

func (a Action) check() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("action kind %q: %w", a.Kind, internalerr.ErrUnknownStepKind)
	}
	ok := false
	switch a.Kind {
	case KindGenerative:
		ok = a.Generative != nil
	case KindTransform:
		ok = a.Transform != nil
	case KindReasonerQuery:
		ok = a.Reasoner != nil
	case KindCompare:
		ok = a.Compare != nil
	}
	if !ok {
		return fmt.Errorf("action kind %q missing parameters: %w", a.Kind, internalerr.ErrInvalidConfig)
	}
	return nil
}

// next returns the single outgoing edge target of stepID, if any.
func (g Graph) next(stepID string) (string, bool) {
	for _, e := range g.Edges {
		if e.From == stepID {
			return e.To, true
		}
	}
	return "", false
}

// Hash returns a deterministic identity for the graph's declarative
// definition. Performance records are keyed by it, so two structurally
// identical graphs share history. Step order and edge order do not affect
// the hash; every field is length-prefixed to avoid ambiguity.
func (g Graph) Hash() string {
	h := sha256.New()
	write := func(s string) {
		var n [4]byte
		l := len(s)
		n[0], n[1], n[2], n[3] = byte(l>>24), byte(l>>16), byte(l>>8), byte(l)
		h.Write(n[:])
		h.Write([]byte(s))
	}

	write(g.Name)
	write(string(g.Output))
	write(g.Entry)

	ids := make([]string, 0, len(g.Steps))
	for id := range g.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := g.Steps[id]
		write(s.ID)
		write(string(s.Action.Kind))
		switch s.Action.Kind {
		case KindGenerative:
			write(s.Action.Generative.Template)
			write(s.Action.Generative.Input)
			write(string(s.Action.Generative.Output))
		case KindTransform:
			write(s.Action.Transform.Func)
			write(s.Action.Transform.Input)
			keys := make([]string, 0, len(s.Action.Transform.Params))
			for k := range s.Action.Transform.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				write(k)
				write(s.Action.Transform.Params[k])
			}
		case KindReasonerQuery:
			write(s.Action.Reasoner.QueryFrom)
			write(s.Action.Reasoner.KBFrom)
		case KindCompare:
			write(s.Action.Compare.Method)
			write(s.Action.Compare.A)
			write(s.Action.Compare.B)
		}
	}

	edges := make([]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, e.From+"->"+e.To)
	}
	sort.Strings(edges)
	for _, e := range edges {
		write(e)
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}
