// Package router picks a translation strategy for an input based on
// accumulated performance history. Inputs are first classified as queries or
// assertions, then the history for that class is scored per strategy and the
// best-scoring strategy hash is recommended.
package router

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mcr-lab/mcr/pkg/mcr/perf"
)

// questionWords mark an input as a query when they open the sentence or
// appear as a standalone word.
var questionWords = []string{
	"who", "what", "where", "when", "why", "how",
	"are", "does", "do", "can", "could", "would", "should",
}

// Classify decides whether text is a question or an assertion. A trailing
// question mark always wins; otherwise the presence of a question word
// decides.
func Classify(text string) perf.InputClass {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return perf.ClassQuery
	}
	lower := strings.ToLower(trimmed)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	})
	for _, f := range fields {
		for _, w := range questionWords {
			if f == w {
				return perf.ClassQuery
			}
		}
	}
	return perf.ClassAssert
}

// Config holds the scoring weights. Success dominates latency, which
// dominates cost.
type Config struct {
	SuccessWeight      float64
	LatencyWeight      float64
	CostWeight         float64
	ExactMatchWeight   float64
	PartialMatchWeight float64
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		SuccessWeight:      100,
		LatencyWeight:      10,
		CostWeight:         1,
		ExactMatchWeight:   2,
		PartialMatchWeight: 1,
	}
}

// Router recommends strategies from performance history.
type Router struct {
	store perf.Store
	cfg   Config
	log   *zap.Logger
}

// New returns a Router reading from store. A nil logger is replaced with a
// no-op logger.
func New(store perf.Store, cfg Config, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{store: store, cfg: cfg, log: log}
}

type group struct {
	hash         string
	totalScore   float64
	count        int
	successCount int
	totalLatency float64
	totalCost    float64
}

func (g group) meanScore() float64   { return g.totalScore / float64(g.count) }
func (g group) meanLatency() float64 { return g.totalLatency / float64(g.count) }
func (g group) meanCost() float64    { return g.totalCost / float64(g.count) }

// Route classifies text and returns the strategy hash with the best mean
// composite score for that class and model. The second return is false when
// no history exists for the class; that is not an error.
func (r *Router) Route(ctx context.Context, text, modelID string) (string, bool, error) {
	class := Classify(text)
	records, err := r.store.Query(ctx, perf.Filter{ModelID: modelID, InputClass: class})
	if err != nil {
		return "", false, err
	}
	if len(records) == 0 {
		r.log.Debug("no performance history for class", zap.String("class", string(class)))
		return "", false, nil
	}

	groups := map[string]*group{}
	for _, rec := range records {
		g := groups[rec.StrategyHash]
		if g == nil {
			g = &group{hash: rec.StrategyHash}
			groups[rec.StrategyHash] = g
		}
		score, success := r.score(rec)
		g.totalScore += score
		g.count++
		if success {
			g.successCount++
		}
		g.totalLatency += float64(rec.LatencyMs)
		g.totalCost += float64(rec.CostTokens)
	}

	hashes := make([]string, 0, len(groups))
	for h := range groups {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	best := groups[hashes[0]]
	for _, h := range hashes[1:] {
		if better(groups[h], best) {
			best = groups[h]
		}
	}

	r.log.Debug("routed input",
		zap.String("class", string(class)),
		zap.String("strategy", best.hash),
		zap.Float64("score", best.meanScore()))
	return best.hash, true, nil
}

// score computes the composite score for one record and reports whether the
// record counts as a success. Exact and partial match contributions sum, so
// a record carrying both outscores either alone.
func (r *Router) score(rec perf.Record) (float64, bool) {
	successScore := 0.0
	success := false
	if rec.Metrics[perf.MetricExactMatch] > 0 {
		successScore += r.cfg.ExactMatchWeight
		success = true
	}
	if rec.Metrics[perf.MetricPartialMatch] > 0 {
		successScore += r.cfg.PartialMatchWeight
		success = true
	}

	latencyScore := 1.0
	if rec.LatencyMs > 0 {
		latencyScore = 1000.0 / (float64(rec.LatencyMs) + 1)
	}

	costScore := 1.0
	if rec.CostTokens > 0 {
		costScore = 1000.0 / (float64(rec.CostTokens) + 1)
	}

	composite := successScore*r.cfg.SuccessWeight +
		latencyScore*r.cfg.LatencyWeight +
		costScore*r.cfg.CostWeight
	return composite, success
}

// better reports whether a outranks b: higher mean score, then more
// successes, then lower mean latency, then lower mean cost.
func better(a, b *group) bool {
	if a.meanScore() != b.meanScore() {
		return a.meanScore() > b.meanScore()
	}
	if a.successCount != b.successCount {
		return a.successCount > b.successCount
	}
	if a.meanLatency() != b.meanLatency() {
		return a.meanLatency() < b.meanLatency()
	}
	return a.meanCost() < b.meanCost()
}
