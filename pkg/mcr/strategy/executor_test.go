package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mcr-lab/mcr/pkg/mcr/artifact"
	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
	"github.com/mcr-lab/mcr/pkg/mcr/prompts"
	"github.com/mcr-lab/mcr/pkg/mcr/provider"
)

type fakeGen struct {
	reply string
	calls int
	err   error
}

func (f *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeReasoner struct {
	result provider.Result
	err    error
}

func (f *fakeReasoner) Query(ctx context.Context, kb, query string) (provider.Result, error) {
	return f.result, f.err
}

func (f *fakeReasoner) Validate(ctx context.Context, kb string) error { return nil }

func newTestExecutor(gen provider.Generator) *Executor {
	return NewExecutor(gen, &fakeReasoner{}, prompts.NewLibrary(), nil)
}

func initialScope(text, schema string) map[string]artifact.Artifact {
	return map[string]artifact.Artifact{
		"text":   artifact.New(artifact.Text, text),
		"schema": artifact.New(artifact.Text, schema),
	}
}

func TestExecuteDirectTranslate(t *testing.T) {
	gen := &fakeGen{reply: "father(john,pete).\nfather(john,anne)."}
	exec := newTestExecutor(gen)

	out, err := exec.Execute(context.Background(), Catalog()[GraphDirect],
		initialScope("John is the father of Pete and Anne.", ""))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Type != artifact.ClauseSet {
		t.Errorf("output type = %q, want %q", out.Type, artifact.ClauseSet)
	}
	clauses := strings.Split(out.Content, "\n")
	if len(clauses) != 2 {
		t.Errorf("got %d clauses, want 2: %q", len(clauses), out.Content)
	}
}

func TestExecuteQuestionToQuery(t *testing.T) {
	gen := &fakeGen{reply: "parent(john,Who)."}
	exec := newTestExecutor(gen)

	out, err := exec.Execute(context.Background(), Catalog()[GraphQuery],
		initialScope("Who are John's children?", "father/2, parent/2"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Type != artifact.Query {
		t.Errorf("output type = %q, want %q", out.Type, artifact.Query)
	}
	if out.Content != "parent(john,Who)" {
		t.Errorf("query = %q, want trailing period stripped", out.Content)
	}
}

func TestExecuteMarkdownStripped(t *testing.T) {
	gen := &fakeGen{reply: "```prolog\nbird(tweety).\n```"}
	exec := newTestExecutor(gen)

	out, err := exec.Execute(context.Background(), Catalog()[GraphDirect],
		initialScope("Tweety is a bird.", ""))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "bird(tweety)." {
		t.Errorf("content = %q, want fences removed", out.Content)
	}
}

func TestExecuteNoClausesIsValidationError(t *testing.T) {
	gen := &fakeGen{reply: "I cannot translate that, sorry."}
	exec := newTestExecutor(gen)

	_, err := exec.Execute(context.Background(), Catalog()[GraphDirect],
		initialScope("gibberish", ""))
	if !errors.Is(err, internalerr.ErrValidation) {
		t.Errorf("got %v, want ErrValidation", err)
	}
}

func TestExecuteBackendError(t *testing.T) {
	gen := &fakeGen{err: errors.New("connection refused")}
	exec := newTestExecutor(gen)

	_, err := exec.Execute(context.Background(), Catalog()[GraphDirect],
		initialScope("Tweety is a bird.", ""))
	if !errors.Is(err, internalerr.ErrBackend) {
		t.Errorf("got %v, want ErrBackend", err)
	}
}

func TestExecuteUnknownStepKind(t *testing.T) {
	g := validGraph()
	step := g.Steps["extract"]
	step.Action = Action{Kind: "teleport"}
	g.Steps["extract"] = step

	exec := newTestExecutor(&fakeGen{reply: "a(b)."})
	_, err := exec.Execute(context.Background(), g, initialScope("x", ""))
	if !errors.Is(err, internalerr.ErrUnknownStepKind) {
		t.Errorf("got %v, want ErrUnknownStepKind", err)
	}
}

func TestExecuteDeclaredOutputMismatch(t *testing.T) {
	g := validGraph()
	g.Output = artifact.Query
	exec := newTestExecutor(&fakeGen{reply: "a(b)."})

	_, err := exec.Execute(context.Background(), g, initialScope("x", ""))
	if !errors.Is(err, internalerr.ErrInvalidOutputShape) {
		t.Errorf("got %v, want ErrInvalidOutputShape", err)
	}
}

func TestExecuteMissingInputArtifact(t *testing.T) {
	exec := newTestExecutor(&fakeGen{reply: "a(b)."})
	_, err := exec.Execute(context.Background(), Catalog()[GraphDirect],
		map[string]artifact.Artifact{})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestAutoTemplatePicksRulesFromCritique(t *testing.T) {
	var seen []string
	gen := genFunc(func(ctx context.Context, prompt string) (string, error) {
		seen = append(seen, prompt)
		if len(seen) == 1 {
			return "RULE", nil
		}
		return "parent(X,Y) :- father(X,Y).", nil
	})
	exec := newTestExecutor(gen)

	out, err := exec.Execute(context.Background(), Catalog()[GraphClassify],
		initialScope("A parent is a father.", ""))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Content, ":-") {
		t.Errorf("expected a rule, got %q", out.Content)
	}
	if len(seen) < 2 {
		t.Fatalf("expected classifier and translation calls, got %d", len(seen))
	}
	// The second prompt should be the rules template, not the facts one.
	if !strings.Contains(seen[1], "Prolog rule") {
		t.Errorf("second prompt does not look like the rules template: %q", seen[1])
	}
}

type genFunc func(ctx context.Context, prompt string) (string, error)

func (f genFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestReasonerQueryStep(t *testing.T) {
	reasoner := &fakeReasoner{result: provider.Result{
		Solutions: []provider.Binding{{"Who": "pete"}},
	}}
	exec := NewExecutor(&fakeGen{}, reasoner, prompts.NewLibrary(), nil)

	g := Graph{
		ID:   "ask",
		Name: "ask",
		Steps: map[string]Step{
			"run": {
				ID: "run",
				Action: Action{Kind: KindReasonerQuery, Reasoner: &ReasonerQueryAction{
					QueryFrom: "query",
					KBFrom:    "kb",
				}},
			},
		},
		Entry:  "run",
		Output: artifact.QueryResult,
	}

	out, err := exec.Execute(context.Background(), g, map[string]artifact.Artifact{
		"query": artifact.New(artifact.Query, "parent(john, Who)."),
		"kb":    artifact.New(artifact.ClauseSet, "father(john, pete)."),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Type != artifact.QueryResult {
		t.Errorf("output type = %q, want %q", out.Type, artifact.QueryResult)
	}
	if !strings.Contains(out.Content, `"Who":"pete"`) {
		t.Errorf("result not JSON-encoded in artifact: %q", out.Content)
	}
}

func TestRegisterTransformOverride(t *testing.T) {
	exec := newTestExecutor(&fakeGen{reply: "ignored"})
	exec.RegisterTransform("extract_clauses", func(in artifact.Artifact, _ map[string]string) (artifact.Artifact, error) {
		return artifact.New(artifact.ClauseSet, "fixed(clause)."), nil
	})

	out, err := exec.Execute(context.Background(), Catalog()[GraphDirect],
		initialScope("anything", ""))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "fixed(clause)." {
		t.Errorf("override not used, got %q", out.Content)
	}
}
