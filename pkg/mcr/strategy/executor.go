package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mcr-lab/mcr/pkg/mcr/artifact"
	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
	"github.com/mcr-lab/mcr/pkg/mcr/lexicon"
	"github.com/mcr-lab/mcr/pkg/mcr/prompts"
	"github.com/mcr-lab/mcr/pkg/mcr/provider"
)

// TranslateAuto is a pseudo template name: the generative handler picks the
// facts or rules template based on an upstream intent critique in scope.
const TranslateAuto = "auto_clauses"

// TransformFunc is a named deterministic artifact transformation.
type TransformFunc func(in artifact.Artifact, params map[string]string) (artifact.Artifact, error)

// CompareFunc evaluates two artifacts and produces a critique artifact.
type CompareFunc func(a, b artifact.Artifact) (artifact.Artifact, error)

// Executor interprets one strategy graph per call. It is stateless between
// calls; all per-run state lives in the scope map.
type Executor struct {
	gen        provider.Generator
	reasoner   provider.Reasoner
	lib        *prompts.Library
	transforms map[string]TransformFunc
	compares   map[string]CompareFunc
	log        *zap.Logger
}

// NewExecutor creates an executor with the built-in transform and compare
// functions registered. logger may be nil.
func NewExecutor(gen provider.Generator, reasoner provider.Reasoner, lib *prompts.Library, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		gen:        gen,
		reasoner:   reasoner,
		lib:        lib,
		transforms: make(map[string]TransformFunc),
		compares:   make(map[string]CompareFunc),
		log:        logger,
	}
	e.RegisterTransform("extract_clauses", extractClauses)
	e.RegisterTransform("extract_query", extractQuery)
	e.RegisterCompare("exact", compareExact)
	e.RegisterCompare("schema_overlap", compareSchemaOverlap)
	return e
}

// RegisterTransform adds or replaces a named transform.
func (e *Executor) RegisterTransform(name string, fn TransformFunc) {
	e.transforms[name] = fn
}

// RegisterCompare adds or replaces a named comparison method.
func (e *Executor) RegisterCompare(name string, fn CompareFunc) {
	e.compares[name] = fn
}

// Execute runs g from its entry step until a step with no outgoing edge,
// threading artifacts by step id. initial seeds the scope (the entry step's
// inputs). The terminal step's artifact is the result; a type mismatch with
// g.Output is ErrInvalidOutputShape. Handler errors propagate unchanged.
func (e *Executor) Execute(ctx context.Context, g Graph, initial map[string]artifact.Artifact) (artifact.Artifact, error) {
	if err := g.Validate(); err != nil {
		return artifact.Artifact{}, err
	}

	scope := make(map[string]artifact.Artifact, len(initial)+len(g.Steps))
	for k, v := range initial {
		scope[k] = v
	}

	var last artifact.Artifact
	for cur := g.Entry; ; {
		step := g.Steps[cur]
		out, err := e.runStep(ctx, step, scope)
		if err != nil {
			return artifact.Artifact{}, fmt.Errorf("step %q: %w", step.ID, err)
		}
		scope[step.ID] = out
		last = out

		next, ok := g.next(cur)
		if !ok {
			break
		}
		cur = next
	}

	if last.Type != g.Output {
		return artifact.Artifact{}, fmt.Errorf("graph %q produced %q, declared %q: %w",
			g.ID, last.Type, g.Output, internalerr.ErrInvalidOutputShape)
	}
	return last, nil
}

func (e *Executor) runStep(ctx context.Context, step Step, scope map[string]artifact.Artifact) (artifact.Artifact, error) {
	switch step.Action.Kind {
	case KindGenerative:
		return e.runGenerative(ctx, *step.Action.Generative, scope)
	case KindTransform:
		return e.runTransform(*step.Action.Transform, scope)
	case KindReasonerQuery:
		return e.runReasonerQuery(ctx, *step.Action.Reasoner, scope)
	case KindCompare:
		return e.runCompare(*step.Action.Compare, scope)
	}
	return artifact.Artifact{}, fmt.Errorf("kind %q: %w", step.Action.Kind, internalerr.ErrUnknownStepKind)
}

func resolve(scope map[string]artifact.Artifact, key string) (artifact.Artifact, error) {
	a, ok := scope[key]
	if !ok {
		return artifact.Artifact{}, fmt.Errorf("input artifact %q not in scope: %w", key, internalerr.ErrInvalidConfig)
	}
	return a, nil
}

func (e *Executor) runGenerative(ctx context.Context, act GenerativeAction, scope map[string]artifact.Artifact) (artifact.Artifact, error) {
	in, err := resolve(scope, act.Input)
	if err != nil {
		return artifact.Artifact{}, err
	}

	template := act.Template
	if template == TranslateAuto {
		template = prompts.NLToFacts
		if critique, ok := findCritique(scope); ok &&
			strings.Contains(strings.ToUpper(critique.Content), "RULE") {
			template = prompts.NLToRules
		}
	}

	data := prompts.Data{Text: in.Content, Query: in.Content}
	if schema, ok := scope["schema"]; ok && schema.Content != "" {
		data.Schema = strings.Split(schema.Content, ",")
	}

	variants, err := e.lib.Render(template, data)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("%v: %w", err, internalerr.ErrInvalidConfig)
	}

	// Try variants in order until the backend returns usable text.
	for i, prompt := range variants {
		text, err := e.gen.Generate(ctx, prompt)
		if err != nil {
			return artifact.Artifact{}, fmt.Errorf("generate (%s variant %d): %v: %w",
				template, i+1, err, internalerr.ErrBackend)
		}
		if strings.TrimSpace(text) != "" {
			e.log.Debug("generative step succeeded",
				zap.String("template", template), zap.Int("variant", i+1))
			return artifact.New(act.Output, strings.TrimSpace(text)), nil
		}
	}
	return artifact.Artifact{}, fmt.Errorf("generate (%s): no usable text after %d variants: %w",
		template, len(variants), internalerr.ErrBackend)
}

func findCritique(scope map[string]artifact.Artifact) (artifact.Artifact, bool) {
	for _, a := range scope {
		if a.Type == artifact.Critique {
			return a, true
		}
	}
	return artifact.Artifact{}, false
}

func (e *Executor) runTransform(act TransformAction, scope map[string]artifact.Artifact) (artifact.Artifact, error) {
	fn, ok := e.transforms[act.Func]
	if !ok {
		return artifact.Artifact{}, fmt.Errorf("transform %q not registered: %w", act.Func, internalerr.ErrInvalidConfig)
	}
	in, err := resolve(scope, act.Input)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return fn(in, act.Params)
}

func (e *Executor) runReasonerQuery(ctx context.Context, act ReasonerQueryAction, scope map[string]artifact.Artifact) (artifact.Artifact, error) {
	query, err := resolve(scope, act.QueryFrom)
	if err != nil {
		return artifact.Artifact{}, err
	}
	kb, err := resolve(scope, act.KBFrom)
	if err != nil {
		return artifact.Artifact{}, err
	}

	res, err := e.reasoner.Query(ctx, kb.Content, query.Content)
	if err != nil {
		return artifact.Artifact{}, err
	}
	encoded, err := json.Marshal(res)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return artifact.New(artifact.QueryResult, string(encoded)), nil
}

func (e *Executor) runCompare(act CompareAction, scope map[string]artifact.Artifact) (artifact.Artifact, error) {
	fn, ok := e.compares[act.Method]
	if !ok {
		return artifact.Artifact{}, fmt.Errorf("compare method %q not registered: %w", act.Method, internalerr.ErrInvalidConfig)
	}
	a, err := resolve(scope, act.A)
	if err != nil {
		return artifact.Artifact{}, err
	}
	b, err := resolve(scope, act.B)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return fn(a, b)
}

// Built-in transforms.

func extractClauses(in artifact.Artifact, _ map[string]string) (artifact.Artifact, error) {
	clauses := lexicon.ExtractClauses(in.Content)
	if len(clauses) == 0 {
		return artifact.Artifact{}, fmt.Errorf("no clauses in generated text: %w", internalerr.ErrValidation)
	}
	return artifact.New(artifact.ClauseSet, strings.Join(clauses, "\n")), nil
}

func extractQuery(in artifact.Artifact, _ map[string]string) (artifact.Artifact, error) {
	q := lexicon.ExtractQuery(in.Content)
	if q == "" {
		return artifact.Artifact{}, fmt.Errorf("no query goal in generated text: %w", internalerr.ErrValidation)
	}
	return artifact.New(artifact.Query, q), nil
}

// Built-in comparisons.

func compareExact(a, b artifact.Artifact) (artifact.Artifact, error) {
	score := "0"
	if strings.TrimSpace(a.Content) == strings.TrimSpace(b.Content) {
		score = "1"
	}
	out := artifact.New(artifact.Critique, score)
	return out.WithMeta("score", score), nil
}

// compareSchemaOverlap scores how much of a's predicate vocabulary already
// exists in b's schema entries. High overlap means the translation reused
// existing structure instead of inventing predicates.
func compareSchemaOverlap(a, b artifact.Artifact) (artifact.Artifact, error) {
	lex := lexicon.FromKB(a.Content)
	preds := lex.Predicates()
	known := make(map[string]bool)
	for _, entry := range strings.Split(b.Content, ",") {
		known[strings.TrimSpace(entry)] = true
	}

	matched := 0
	for _, p := range preds {
		if known[p] {
			matched++
		}
	}
	score := 1.0
	if len(preds) > 0 {
		score = float64(matched) / float64(len(preds))
	}

	out := artifact.New(artifact.Critique, fmt.Sprintf(`{"matched":%d,"total":%d,"score":%.3f}`,
		matched, len(preds), score))
	return out.WithMeta("score", fmt.Sprintf("%.3f", score)), nil
}
