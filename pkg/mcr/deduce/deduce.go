// Package deduce implements confidence-weighted deduction. Both entry points
// share one policy: score candidate proofs by embedding similarity against a
// threshold, keep what clears it, and otherwise fall back to an unfiltered
// deterministic pass with probability fixed at 1.0.
package deduce

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mcr-lab/mcr/pkg/mcr/lexicon"
	"github.com/mcr-lab/mcr/pkg/mcr/prompts"
	"github.com/mcr-lab/mcr/pkg/mcr/provider"
)

// Config holds the deduction policy knobs.
type Config struct {
	// DefaultConfidence is the probability assigned when no embedding
	// backend is available. It is deliberately nonzero so a missing
	// backend degrades gracefully instead of rejecting everything.
	DefaultConfidence float64
	// Hypotheses is how many candidate formal queries to request from the
	// generative backend.
	Hypotheses int
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{DefaultConfidence: 0.9, Hypotheses: 3}
}

// Proof is one solution binding with the probability of the hypothesis that
// produced it. Fallback proofs carry probability exactly 1.0.
type Proof struct {
	Query       string
	Result      provider.Binding
	Probability float64
}

// Deducer runs guided deduction and probabilistic clause selection.
type Deducer struct {
	gen      provider.Generator
	reasoner provider.Reasoner
	embedder provider.Embedder
	lib      *prompts.Library
	cfg      Config
	log      *zap.Logger
}

// New returns a Deducer. The embedder may be nil; probabilities then default
// to cfg.DefaultConfidence and the degradation is logged.
func New(gen provider.Generator, reasoner provider.Reasoner, embedder provider.Embedder, cfg Config, log *zap.Logger) *Deducer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Hypotheses <= 0 {
		cfg.Hypotheses = DefaultConfig().Hypotheses
	}
	return &Deducer{
		gen:      gen,
		reasoner: reasoner,
		embedder: embedder,
		lib:      prompts.NewLibrary(),
		cfg:      cfg,
		log:      log,
	}
}

// Guided asks the generative backend for candidate formal queries answering
// question, executes each against kb, and keeps solutions whose probability
// clears threshold. When nothing clears it, originalQuery is executed
// unfiltered and its solutions are returned with probability 1.0.
func (d *Deducer) Guided(ctx context.Context, question, kb, originalQuery string, threshold float64) ([]Proof, error) {
	var proofs []Proof

	var questionVec []float64
	if d.embedder != nil {
		vec, err := d.embedder.Encode(ctx, question)
		if err != nil {
			d.log.Warn("embedding question failed, using default confidence", zap.Error(err))
		} else {
			questionVec = vec
		}
	} else {
		d.log.Info("no embedding backend, hypotheses scored at default confidence",
			zap.Float64("default_confidence", d.cfg.DefaultConfidence))
	}

	for _, hq := range d.hypotheses(ctx, question) {
		res, err := d.reasoner.Query(ctx, kb, hq)
		if err != nil {
			d.log.Debug("hypothesis query failed", zap.String("query", hq), zap.Error(err))
			continue
		}
		if res.Empty() {
			continue
		}

		p := d.cfg.DefaultConfidence
		if questionVec != nil {
			if vec, err := d.embedder.Encode(ctx, renderResult(res)); err == nil {
				p = d.embedder.Similarity(questionVec, vec)
			}
		}
		if p < threshold {
			d.log.Debug("hypothesis below threshold",
				zap.String("query", hq), zap.Float64("probability", p))
			continue
		}
		for _, sol := range res.Solutions {
			proofs = append(proofs, Proof{Query: hq, Result: sol, Probability: p})
		}
	}

	if len(proofs) > 0 {
		return proofs, nil
	}

	// Deterministic fallback so the caller always gets a best-effort answer.
	res, err := d.reasoner.Query(ctx, kb, originalQuery)
	if err != nil {
		return nil, fmt.Errorf("fallback query: %w", err)
	}
	for _, sol := range res.Solutions {
		proofs = append(proofs, Proof{Query: originalQuery, Result: sol, Probability: 1.0})
	}
	return proofs, nil
}

// ProbabilisticSelect weights each clause by its similarity to query, builds
// a reduced knowledge base from the clauses at or above threshold, and
// executes query against that base. Useful when the full base is too large
// or noisy to reason over.
func (d *Deducer) ProbabilisticSelect(ctx context.Context, clauses []string, query string, threshold float64) (provider.Result, error) {
	var queryVec []float64
	if d.embedder != nil {
		vec, err := d.embedder.Encode(ctx, query)
		if err != nil {
			d.log.Warn("embedding query failed, selecting at default confidence", zap.Error(err))
		} else {
			queryVec = vec
		}
	} else {
		d.log.Info("no embedding backend, clauses weighted at default confidence",
			zap.Float64("default_confidence", d.cfg.DefaultConfidence))
	}

	var kept []string
	for _, c := range clauses {
		w := d.cfg.DefaultConfidence
		if queryVec != nil {
			if vec, err := d.embedder.Encode(ctx, c); err == nil {
				w = d.embedder.Similarity(queryVec, vec)
			}
		}
		if w >= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		// Nothing cleared the bar; reason over the full base instead.
		kept = clauses
	}

	return d.reasoner.Query(ctx, strings.Join(kept, "\n"), query)
}

// hypotheses asks the generative backend for candidate formal queries. A nil
// or failing backend yields no hypotheses, which routes Guided straight to
// its fallback.
func (d *Deducer) hypotheses(ctx context.Context, question string) []string {
	if d.gen == nil {
		return nil
	}
	rendered, err := d.lib.Render(prompts.NLToHypotheses, prompts.Data{
		Query: question,
		Count: d.cfg.Hypotheses,
	})
	if err != nil || len(rendered) == 0 {
		return nil
	}
	text, err := d.gen.Generate(ctx, rendered[0])
	if err != nil {
		d.log.Warn("hypothesis generation failed", zap.Error(err))
		return nil
	}
	out := lexicon.ExtractClauses(text)
	if len(out) > d.cfg.Hypotheses {
		out = out[:d.cfg.Hypotheses]
	}
	return out
}

// renderResult flattens solution bindings into stable text for embedding.
func renderResult(res provider.Result) string {
	var parts []string
	for _, sol := range res.Solutions {
		keys := make([]string, 0, len(sol))
		for k := range sol {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+" = "+sol[k])
		}
	}
	return strings.Join(parts, ", ")
}
