// Package refine runs a bounded generate/validate/repair loop around a
// translation operation. Each failed attempt is validated, diagnosed against
// the session's nearest known fact, and fed back into a repair prompt.
package refine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mcr-lab/mcr/pkg/mcr/prompts"
	"github.com/mcr-lab/mcr/pkg/mcr/provider"
	"github.com/mcr-lab/mcr/pkg/mcr/session"
)

// Operation produces a candidate formal translation of input. The loop calls
// it once; repaired candidates come straight from the generative backend.
type Operation func(ctx context.Context, input string, sess *session.Session) (string, error)

// Validator checks one candidate translation. A nil return accepts it.
type Validator func(ctx context.Context, candidate string) error

// Attempt records one failed iteration.
type Attempt struct {
	Iteration int
	Output    string
	Err       string
}

// Result is the outcome of a refinement run.
type Result struct {
	Output     string
	Iterations int
	Converged  bool
	History    []Attempt
}

// Loop drives bounded refinement. Embedder may be nil; repair prompts then
// omit the similar-fact hint.
type Loop struct {
	Gen      provider.Generator
	Reasoner provider.Reasoner
	Embedder provider.Embedder
	Lib      *prompts.Library
	Log      *zap.Logger
}

// New returns a Loop. A nil logger is replaced with a no-op logger and a nil
// library with the built-in prompt set.
func New(gen provider.Generator, reasoner provider.Reasoner, embedder provider.Embedder, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		Gen:      gen,
		Reasoner: reasoner,
		Embedder: embedder,
		Lib:      prompts.NewLibrary(),
		Log:      log,
	}
}

// Run executes op once and refines its output up to maxIterations times,
// validating each candidate as a knowledge-base program with the reasoner.
// A maxIterations of zero or less still runs one pass. The returned result
// carries the best available output even when the loop never converges; a
// repair-path backend failure degrades the result instead of erroring.
func (l *Loop) Run(ctx context.Context, op Operation, input string, sess *session.Session, maxIterations int) (Result, error) {
	return l.RunWith(ctx, op, l.validate, input, sess, maxIterations)
}

// RunWith is Run with a caller-supplied validator, for candidates that are
// not programs. Query goals validate by execution rather than consult.
func (l *Loop) RunWith(ctx context.Context, op Operation, validate Validator, input string, sess *session.Session, maxIterations int) (Result, error) {
	attempts := maxIterations
	if attempts <= 0 {
		attempts = 1
	}
	if validate == nil {
		validate = l.validate
	}

	res := Result{}
	var repaired string
	for i := 1; i <= attempts; i++ {
		res.Iterations = i

		output := repaired
		if i == 1 {
			out, err := op(ctx, input, sess)
			if err != nil {
				return res, fmt.Errorf("refine iteration %d: %w", i, err)
			}
			output = out
		}
		res.Output = output

		verr := validate(ctx, output)
		if verr == nil {
			res.Converged = true
			l.Log.Debug("refinement converged", zap.Int("iteration", i))
			return res, nil
		}

		res.History = append(res.History, Attempt{
			Iteration: i,
			Output:    output,
			Err:       verr.Error(),
		})
		l.Log.Debug("refinement attempt invalid",
			zap.Int("iteration", i), zap.String("error", verr.Error()))

		if i == attempts {
			break
		}

		prompt, err := l.repairPrompt(ctx, input, output, verr, sess, i)
		if err != nil || strings.TrimSpace(prompt) == "" {
			l.Log.Warn("repair prompt unavailable, stopping early",
				zap.Int("iteration", i), zap.Error(err))
			return res, nil
		}
		repaired, err = l.generateRepair(ctx, prompt)
		if err != nil || repaired == "" {
			l.Log.Warn("repair generation failed, stopping early",
				zap.Int("iteration", i), zap.Error(err))
			return res, nil
		}
	}
	return res, nil
}

// generateRepair asks the generative backend for a corrected candidate.
func (l *Loop) generateRepair(ctx context.Context, prompt string) (string, error) {
	if l.Gen == nil {
		return "", nil
	}
	out, err := l.Gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// validate checks the candidate on its own so one bad clause cannot hide
// behind an otherwise valid knowledge base.
func (l *Loop) validate(ctx context.Context, candidate string) error {
	if l.Reasoner == nil {
		return nil
	}
	return l.Reasoner.Validate(ctx, candidate)
}

// repairPrompt renders the repair template, adding a nearest-fact hint when
// an embedder is available.
func (l *Loop) repairPrompt(ctx context.Context, input, failed string, verr error, sess *session.Session, iteration int) (string, error) {
	d := prompts.Data{
		Input:           input,
		FailedOutput:    failed,
		ValidationError: verr.Error(),
		Iteration:       iteration,
	}

	if l.Embedder != nil && sess != nil {
		if vec, err := l.Embedder.Encode(ctx, failed); err == nil {
			if fact, score, ok := sess.NearestFact(vec, l.Embedder.Similarity); ok {
				d.SimilarFact = fact
				d.SimilarScore = score
			}
		} else {
			l.Log.Debug("embedding failed output for repair hint", zap.Error(err))
		}
	}

	rendered, err := l.Lib.Render(prompts.Repair, d)
	if err != nil {
		return "", err
	}
	if len(rendered) == 0 {
		return "", nil
	}
	return rendered[0], nil
}
