package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
	"github.com/mcr-lab/mcr/pkg/mcr/provider"
	"github.com/mcr-lab/mcr/pkg/mcr/session"
)

type fakeReasoner struct {
	// invalid marks outputs that fail validation; empty means everything
	// validates.
	invalid map[string]bool
	failAll bool
}

func (f *fakeReasoner) Query(ctx context.Context, kb, query string) (provider.Result, error) {
	return provider.Result{}, nil
}

func (f *fakeReasoner) Validate(ctx context.Context, kb string) error {
	if f.failAll || f.invalid[kb] {
		return fmt.Errorf("%w: syntax error near %q", internalerr.ErrValidation, kb)
	}
	return nil
}

// fakeGen records every repair prompt it receives and answers from a script,
// repeating the last reply once the script runs out.
type fakeGen struct {
	prompts []string
	replies []string
	err     error
}

func (g *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", nil
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Encode(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (fakeEmbedder) Similarity(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func TestFirstAttemptValid(t *testing.T) {
	gen := &fakeGen{}
	loop := New(gen, &fakeReasoner{}, nil, nil)

	calls := 0
	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		calls++
		return "cat(tom).", nil
	}

	res, err := loop.Run(context.Background(), op, "Tom is a cat.", session.New(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged || res.Iterations != 1 {
		t.Errorf("got converged=%v iterations=%d, want true/1", res.Converged, res.Iterations)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
	if len(gen.prompts) != 0 {
		t.Errorf("generator called %d times for a valid first attempt", len(gen.prompts))
	}
	if len(res.History) != 0 {
		t.Errorf("history = %v, want empty", res.History)
	}
	if res.Output != "cat(tom)." {
		t.Errorf("output = %q", res.Output)
	}
}

func TestAlwaysInvalidBoundedRetries(t *testing.T) {
	gen := &fakeGen{replies: []string{"still not valid prolog"}}
	loop := New(gen, &fakeReasoner{failAll: true}, nil, nil)

	calls := 0
	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		calls++
		return "not valid prolog", nil
	}

	res, err := loop.Run(context.Background(), op, "gibberish", session.New(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Converged {
		t.Error("converged on always-invalid output")
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1 (repairs go to the generator)", calls)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("generator called %d times, want 1 repair", len(gen.prompts))
	}
	if len(res.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(res.History))
	}
	for i, attempt := range res.History {
		if attempt.Err == "" {
			t.Errorf("history[%d] has empty error", i)
		}
		if attempt.Iteration != i+1 {
			t.Errorf("history[%d].Iteration = %d, want %d", i, attempt.Iteration, i+1)
		}
	}
	if res.History[1].Output != "still not valid prolog" {
		t.Errorf("history[1].Output = %q, want the generator's repair candidate", res.History[1].Output)
	}
}

func TestZeroMaxIterationsStillRunsOnce(t *testing.T) {
	loop := New(&fakeGen{}, &fakeReasoner{}, nil, nil)

	calls := 0
	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		calls++
		return "ok(clause).", nil
	}

	res, err := loop.Run(context.Background(), op, "x", session.New(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || res.Iterations != 1 || !res.Converged {
		t.Errorf("got calls=%d iterations=%d converged=%v, want one converged pass",
			calls, res.Iterations, res.Converged)
	}
}

func TestRepairCandidateComesFromGenerator(t *testing.T) {
	reasoner := &fakeReasoner{invalid: map[string]bool{"father(John, Pete)": true}}
	gen := &fakeGen{replies: []string{"father(john, pete)."}}
	loop := New(gen, reasoner, nil, nil)

	calls := 0
	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		calls++
		return "father(John, Pete)", nil
	}

	res, err := loop.Run(context.Background(), op, "John is Pete's father.", session.New(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged || res.Iterations != 2 {
		t.Fatalf("got converged=%v iterations=%d, want repaired on second pass", res.Converged, res.Iterations)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
	if res.Output != "father(john, pete)." {
		t.Errorf("output = %q, want the generator's repaired clause", res.Output)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator saw %d prompts, want 1", len(gen.prompts))
	}
	// The repair prompt carries the original input, the failed candidate and
	// the validation error.
	repair := gen.prompts[0]
	for _, want := range []string{"John is Pete's father.", "father(John, Pete)", "syntax error"} {
		if !strings.Contains(repair, want) {
			t.Errorf("repair prompt missing %q:\n%s", want, repair)
		}
	}
}

func TestRepairPromptIncludesNearestFact(t *testing.T) {
	reasoner := &fakeReasoner{failAll: true}
	gen := &fakeGen{replies: []string{"bad again"}}
	loop := New(gen, reasoner, fakeEmbedder{}, nil)

	sess := session.New()
	sess.AddFacts([]string{"father(john, anne)."})
	sess.SetEmbedding("father(john, anne).", []float64{1, 0})

	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		return "bad output", nil
	}

	if _, err := loop.Run(context.Background(), op, "x", sess, 2); err != nil {
		t.Fatal(err)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator saw %d prompts, want 1", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "father(john, anne).") {
		t.Errorf("repair prompt missing nearest fact:\n%s", gen.prompts[0])
	}
}

func TestRepairGenerationErrorStopsEarly(t *testing.T) {
	gen := &fakeGen{err: errors.New("backend down")}
	loop := New(gen, &fakeReasoner{failAll: true}, nil, nil)

	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		return "bad", nil
	}

	res, err := loop.Run(context.Background(), op, "x", session.New(), 5)
	if err != nil {
		t.Fatalf("repair-path failure should degrade, not error: %v", err)
	}
	if res.Converged {
		t.Error("converged despite failures")
	}
	if res.Iterations != 1 || res.Output != "bad" {
		t.Errorf("got iterations=%d output=%q, want the last candidate kept", res.Iterations, res.Output)
	}
}

func TestOperationErrorSurfaces(t *testing.T) {
	loop := New(&fakeGen{}, &fakeReasoner{}, nil, nil)

	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		return "", errors.New("backend down")
	}

	if _, err := loop.Run(context.Background(), op, "x", session.New(), 3); err == nil {
		t.Error("expected the translation failure to surface as an error")
	}
}

func TestRunWithCustomValidator(t *testing.T) {
	// The reasoner rejects everything as a program; a goal validator that
	// executes the candidate accepts it on the first pass.
	loop := New(&fakeGen{}, &fakeReasoner{failAll: true}, nil, nil)

	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		return "father(john, Who)", nil
	}
	goalValid := func(ctx context.Context, candidate string) error {
		if strings.Contains(candidate, "(") {
			return nil
		}
		return internalerr.ErrValidation
	}

	res, err := loop.RunWith(context.Background(), op, goalValid, "Who?", session.New(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged || res.Iterations != 1 {
		t.Errorf("got converged=%v iterations=%d, want goal accepted first pass", res.Converged, res.Iterations)
	}
}
