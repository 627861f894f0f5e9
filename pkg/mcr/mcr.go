// Package mcr wires the translation pipeline together: session state, the
// strategy catalog, routing, bounded refinement and confidence-weighted
// deduction behind one facade.
package mcr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcr-lab/mcr/pkg/mcr/artifact"
	"github.com/mcr-lab/mcr/pkg/mcr/deduce"
	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
	"github.com/mcr-lab/mcr/pkg/mcr/lexicon"
	"github.com/mcr-lab/mcr/pkg/mcr/perf"
	"github.com/mcr-lab/mcr/pkg/mcr/prompts"
	"github.com/mcr-lab/mcr/pkg/mcr/provider"
	"github.com/mcr-lab/mcr/pkg/mcr/refine"
	"github.com/mcr-lab/mcr/pkg/mcr/router"
	"github.com/mcr-lab/mcr/pkg/mcr/session"
	"github.com/mcr-lab/mcr/pkg/mcr/strategy"
)

// Options configures a Service. Gen, Reasoner and Sessions are required;
// Embedder and Perf are optional and their absence degrades gracefully.
type Options struct {
	Gen      provider.Generator
	Reasoner provider.Reasoner
	Embedder provider.Embedder
	Sessions session.Store
	Perf     perf.Store

	RouterConfig  router.Config
	Deduction     deduce.Config
	Threshold     float64
	MaxIterations int
	ModelID       string
	Log           *zap.Logger
}

// Service is the pipeline facade.
type Service struct {
	opts     Options
	exec     *strategy.Executor
	loop     *refine.Loop
	deducer  *deduce.Deducer
	router   *router.Router
	lib      *prompts.Library
	catalog  map[string]strategy.Graph
	byHash   map[string]string
	log      *zap.Logger
}

// New builds a Service from options.
func New(opts Options) (*Service, error) {
	if opts.Gen == nil || opts.Reasoner == nil || opts.Sessions == nil {
		return nil, fmt.Errorf("%w: generator, reasoner and session store are required", internalerr.ErrInvalidConfig)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 3
	}
	if opts.RouterConfig == (router.Config{}) {
		opts.RouterConfig = router.DefaultConfig()
	}
	if opts.Deduction == (deduce.Config{}) {
		opts.Deduction = deduce.DefaultConfig()
	}

	lib := prompts.NewLibrary()
	s := &Service{
		opts:    opts,
		exec:    strategy.NewExecutor(opts.Gen, opts.Reasoner, lib, log),
		loop:    refine.New(opts.Gen, opts.Reasoner, opts.Embedder, log),
		deducer: deduce.New(opts.Gen, opts.Reasoner, opts.Embedder, opts.Deduction, log),
		lib:     lib,
		catalog: strategy.Catalog(),
		byHash:  map[string]string{},
		log:     log,
	}
	if opts.Perf != nil {
		s.router = router.New(opts.Perf, opts.RouterConfig, log)
	}
	for id, g := range s.catalog {
		s.byHash[g.Hash()] = id
	}
	return s, nil
}

// CreateSession makes and persists an empty session.
func (s *Service) CreateSession(ctx context.Context) (*session.Session, error) {
	sess := session.New()
	if err := s.opts.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.opts.Sessions.Get(ctx, id)
}

// ListSessions returns all session ids.
func (s *Service) ListSessions(ctx context.Context) ([]string, error) {
	return s.opts.Sessions.List(ctx)
}

// SetKnowledgeBase replaces a session's knowledge base after validating it.
func (s *Service) SetKnowledgeBase(ctx context.Context, id, kb string) (*session.Session, error) {
	sess, err := s.opts.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.opts.Reasoner.Validate(ctx, kb); err != nil {
		return nil, err
	}
	sess.SetKnowledgeBase(kb)
	if err := s.opts.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AssertResult reports one assertion pipeline run.
type AssertResult struct {
	SessionID     string   `json:"sessionId"`
	Strategy      string   `json:"strategy"`
	Translated    []string `json:"translated"`
	Added         []string `json:"added"`
	Converged     bool     `json:"converged"`
	Iterations    int      `json:"iterations"`
	KnowledgeBase string   `json:"knowledgeBase"`
}

// Assert translates text into formal clauses inside the refinement loop and
// merges them into the session's knowledge base.
func (s *Service) Assert(ctx context.Context, sessionID, text string) (AssertResult, error) {
	sess, err := s.opts.Sessions.Get(ctx, sessionID)
	if err != nil {
		return AssertResult{}, err
	}

	g := s.pick(ctx, text, strategy.DefaultAssert)
	start := time.Now()
	tokens := s.usage()

	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		out, err := s.runGraph(ctx, g, input, sess)
		if err != nil {
			return "", err
		}
		return out.Content, nil
	}

	res, err := s.loop.Run(ctx, op, text, sess, s.opts.MaxIterations)
	if err != nil {
		s.record(ctx, g, perf.ClassAssert, false, time.Since(start), s.usage()-tokens)
		return AssertResult{}, err
	}

	clauses := lexicon.ExtractClauses(res.Output)
	if len(clauses) == 0 {
		s.record(ctx, g, perf.ClassAssert, false, time.Since(start), s.usage()-tokens)
		return AssertResult{}, fmt.Errorf("%w: no clauses extracted from %q", internalerr.ErrValidation, res.Output)
	}

	added := sess.AddFacts(clauses)
	s.embedFacts(ctx, sess, added)
	if err := s.opts.Sessions.Save(ctx, sess); err != nil {
		return AssertResult{}, err
	}
	s.record(ctx, g, perf.ClassAssert, res.Converged, time.Since(start), s.usage()-tokens)

	return AssertResult{
		SessionID:     sess.ID,
		Strategy:      g.ID,
		Translated:    clauses,
		Added:         added,
		Converged:     res.Converged,
		Iterations:    res.Iterations,
		KnowledgeBase: sess.KnowledgeBase(),
	}, nil
}

// AskResult reports one question pipeline run.
type AskResult struct {
	SessionID  string         `json:"sessionId"`
	Strategy   string         `json:"strategy"`
	Query      string         `json:"query"`
	Proofs     []deduce.Proof `json:"proofs"`
	Answer     string         `json:"answer"`
	Converged  bool           `json:"converged"`
	Iterations int            `json:"iterations"`
}

// Ask translates a question into a formal query, runs confidence-weighted
// deduction over the session's knowledge base, and renders the result back
// into natural language.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (AskResult, error) {
	sess, err := s.opts.Sessions.Get(ctx, sessionID)
	if err != nil {
		return AskResult{}, err
	}

	g := s.pick(ctx, question, strategy.DefaultQuery)
	start := time.Now()
	tokens := s.usage()

	op := func(ctx context.Context, input string, sess *session.Session) (string, error) {
		out, err := s.runGraph(ctx, g, input, sess)
		if err != nil {
			return "", err
		}
		return out.Content, nil
	}

	res, err := s.loop.RunWith(ctx, op, s.validQuery, question, sess, s.opts.MaxIterations)
	if err != nil {
		s.record(ctx, g, perf.ClassQuery, false, time.Since(start), s.usage()-tokens)
		return AskResult{}, err
	}
	query := strings.TrimSpace(res.Output)
	if query == "" {
		s.record(ctx, g, perf.ClassQuery, false, time.Since(start), s.usage()-tokens)
		return AskResult{}, fmt.Errorf("%w: empty query translation", internalerr.ErrValidation)
	}

	proofs, err := s.deducer.Guided(ctx, question, sess.KnowledgeBase(), query, s.opts.Threshold)
	if err != nil {
		s.record(ctx, g, perf.ClassQuery, false, time.Since(start), s.usage()-tokens)
		return AskResult{}, err
	}

	answer, err := s.answer(ctx, question, query, proofs)
	if err != nil {
		s.log.Warn("answer rendering failed", zap.Error(err))
		answer = ""
	}
	s.record(ctx, g, perf.ClassQuery, len(proofs) > 0, time.Since(start), s.usage()-tokens)

	return AskResult{
		SessionID:  sess.ID,
		Strategy:   g.ID,
		Query:      query,
		Proofs:     proofs,
		Answer:     answer,
		Converged:  res.Converged,
		Iterations: res.Iterations,
	}, nil
}

// RunStrategy executes one catalog graph directly against a session's state.
func (s *Service) RunStrategy(ctx context.Context, graphID, sessionID, text string) (artifact.Artifact, error) {
	g, ok := s.catalog[graphID]
	if !ok {
		return artifact.Artifact{}, fmt.Errorf("%w: unknown strategy %q", internalerr.ErrNotFound, graphID)
	}
	sess, err := s.opts.Sessions.Get(ctx, sessionID)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return s.runGraph(ctx, g, text, sess)
}

// RecordPerformance appends one performance record. A missing perf store is
// a no-op, not an error.
func (s *Service) RecordPerformance(ctx context.Context, rec perf.Record) error {
	if s.opts.Perf == nil {
		return nil
	}
	return s.opts.Perf.Append(ctx, rec)
}

// Route exposes the strategy router. The second return is false when history
// offers no recommendation.
func (s *Service) Route(ctx context.Context, text string) (string, bool, error) {
	if s.router == nil {
		return "", false, nil
	}
	hash, ok, err := s.router.Route(ctx, text, s.opts.ModelID)
	if err != nil || !ok {
		return "", false, err
	}
	id, known := s.byHash[hash]
	if !known {
		// History for a strategy no longer in the catalog.
		return "", false, nil
	}
	return id, true, nil
}

// pick routes text to a catalog graph, falling back to defaultID when the
// router has nothing to say.
func (s *Service) pick(ctx context.Context, text string, defaultID string) strategy.Graph {
	if id, ok, err := s.Route(ctx, text); err == nil && ok {
		if g, found := s.catalog[id]; found {
			return g
		}
	} else if err != nil {
		s.log.Warn("routing failed, using default strategy", zap.Error(err))
	}
	return s.catalog[defaultID]
}

// validQuery checks a candidate goal by executing it against an empty
// knowledge base: a malformed goal errors, an unprovable one succeeds with
// no solutions. Consulting a bare goal as a program would reject it.
func (s *Service) validQuery(ctx context.Context, candidate string) error {
	_, err := s.opts.Reasoner.Query(ctx, "", candidate)
	return err
}

// usage reads cumulative token usage when the generator meters it.
func (s *Service) usage() int64 {
	if c, ok := s.opts.Gen.(provider.CostReporter); ok {
		return c.TotalTokens()
	}
	return 0
}

// runGraph executes g with the standard initial scope: the input text and
// the session's current predicate schema.
func (s *Service) runGraph(ctx context.Context, g strategy.Graph, text string, sess *session.Session) (artifact.Artifact, error) {
	schema := strings.Join(sess.Lexicon().Schema(), ", ")
	initial := map[string]artifact.Artifact{
		"text":   artifact.New(artifact.Text, text),
		"schema": artifact.New(artifact.Text, schema),
	}
	return s.exec.Execute(ctx, g, initial)
}

// embedFacts stores embeddings for freshly added facts when an embedder is
// available.
func (s *Service) embedFacts(ctx context.Context, sess *session.Session, facts []string) {
	if s.opts.Embedder == nil {
		return
	}
	for _, f := range facts {
		vec, err := s.opts.Embedder.Encode(ctx, f)
		if err != nil {
			s.log.Debug("embedding fact failed", zap.String("fact", f), zap.Error(err))
			continue
		}
		sess.SetEmbedding(f, vec)
	}
}

// answer renders proofs back into natural language.
func (s *Service) answer(ctx context.Context, question, query string, proofs []deduce.Proof) (string, error) {
	if len(proofs) == 0 {
		return "No results found.", nil
	}
	var parts []string
	for _, p := range proofs {
		for k, v := range p.Result {
			parts = append(parts, fmt.Sprintf("%s = %s", k, v))
		}
	}
	rendered, err := s.lib.Render(prompts.ResultToNL, prompts.Data{
		Text:   question,
		Query:  query,
		Result: strings.Join(parts, "; "),
	})
	if err != nil || len(rendered) == 0 {
		return "", err
	}
	return s.opts.Gen.Generate(ctx, rendered[0])
}

// record appends a performance record for one completed run.
func (s *Service) record(ctx context.Context, g strategy.Graph, class perf.InputClass, success bool, elapsed time.Duration, cost int64) {
	if s.opts.Perf == nil {
		return
	}
	metric := 0.0
	if success {
		metric = 1.0
	}
	rec := perf.Record{
		StrategyHash: g.Hash(),
		InputClass:   class,
		ModelID:      s.opts.ModelID,
		Metrics: map[string]float64{
			perf.MetricExactMatch: metric,
			perf.MetricConverged:  metric,
		},
		LatencyMs:  elapsed.Milliseconds(),
		CostTokens: cost,
	}
	if err := s.opts.Perf.Append(ctx, rec); err != nil {
		s.log.Warn("appending performance record failed", zap.Error(err))
	}
}
