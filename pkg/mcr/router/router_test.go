package router

import (
	"context"
	"testing"

	"github.com/mcr-lab/mcr/pkg/mcr/perf"
	"github.com/mcr-lab/mcr/pkg/mcr/perf/memstore"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want perf.InputClass
	}{
		{"Who are John's children?", perf.ClassQuery},
		{"who is the murderer", perf.ClassQuery},
		{"Does Tom like fish", perf.ClassQuery},
		{"Tell me WHERE the book is", perf.ClassQuery},
		{"Socrates is a man.", perf.ClassAssert},
		{"The table holds the book", perf.ClassAssert},
		{"It is raining?", perf.ClassQuery},
		{"whosoever said that", perf.ClassAssert}, // not a standalone keyword
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func appendRecord(t *testing.T, s perf.Store, hash string, class perf.InputClass, exact float64, latency, cost int64) {
	t.Helper()
	err := s.Append(context.Background(), perf.Record{
		StrategyHash: hash,
		InputClass:   class,
		Metrics:      map[string]float64{perf.MetricExactMatch: exact},
		LatencyMs:    latency,
		CostTokens:   cost,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRouteNoHistory(t *testing.T) {
	r := New(memstore.New(), DefaultConfig(), nil)
	hash, ok, err := r.Route(context.Background(), "Who is there?", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if ok || hash != "" {
		t.Errorf("expected no recommendation, got (%q, %v)", hash, ok)
	}
}

func TestRoutePrefersFasterStrategy(t *testing.T) {
	store := memstore.New()
	// Two fast successful runs for A, one very slow successful run for B.
	appendRecord(t, store, "A", perf.ClassQuery, 1, 100, 50)
	appendRecord(t, store, "A", perf.ClassQuery, 1, 100, 50)
	appendRecord(t, store, "B", perf.ClassQuery, 1, 10000, 50)

	r := New(store, DefaultConfig(), nil)
	hash, ok, err := r.Route(context.Background(), "Who are John's children?", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || hash != "A" {
		t.Errorf("Route = (%q, %v), want A", hash, ok)
	}
}

func TestRouteIdempotent(t *testing.T) {
	store := memstore.New()
	appendRecord(t, store, "A", perf.ClassQuery, 1, 100, 10)
	appendRecord(t, store, "B", perf.ClassQuery, 0, 50, 10)

	r := New(store, DefaultConfig(), nil)
	first, ok1, err := r.Route(context.Background(), "What is this?", "m1")
	if err != nil {
		t.Fatal(err)
	}
	second, ok2, err := r.Route(context.Background(), "What is this?", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if first != second || ok1 != ok2 {
		t.Errorf("routing not idempotent: (%q,%v) vs (%q,%v)", first, ok1, second, ok2)
	}
}

func TestRouteTieBreakBySuccessCount(t *testing.T) {
	store := memstore.New()
	// Identical per-record scores, but A has two successes to B's one.
	appendRecord(t, store, "A", perf.ClassQuery, 1, 100, 100)
	appendRecord(t, store, "A", perf.ClassQuery, 1, 100, 100)
	appendRecord(t, store, "B", perf.ClassQuery, 1, 100, 100)

	r := New(store, DefaultConfig(), nil)
	hash, ok, err := r.Route(context.Background(), "Who wins?", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || hash != "A" {
		t.Errorf("tie-break picked %q, want A (higher success count)", hash)
	}
}

func TestRouteClassSeparation(t *testing.T) {
	store := memstore.New()
	appendRecord(t, store, "assert-strat", perf.ClassAssert, 1, 10, 10)
	appendRecord(t, store, "query-strat", perf.ClassQuery, 1, 10, 10)

	r := New(store, DefaultConfig(), nil)

	hash, ok, _ := r.Route(context.Background(), "Socrates is a man.", "")
	if !ok || hash != "assert-strat" {
		t.Errorf("assertion routed to %q", hash)
	}
	hash, ok, _ = r.Route(context.Background(), "Is Socrates mortal?", "")
	if !ok || hash != "query-strat" {
		t.Errorf("question routed to %q", hash)
	}
}

func TestMatchScoresSum(t *testing.T) {
	store := memstore.New()
	// Identical latency and cost; A carries both match metrics, B only exact.
	err := store.Append(context.Background(), perf.Record{
		StrategyHash: "A",
		InputClass:   perf.ClassQuery,
		Metrics: map[string]float64{
			perf.MetricExactMatch:   1,
			perf.MetricPartialMatch: 1,
		},
		LatencyMs:  100,
		CostTokens: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	appendRecord(t, store, "B", perf.ClassQuery, 1, 100, 10)

	r := New(store, DefaultConfig(), nil)
	hash, ok, err := r.Route(context.Background(), "Who?", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || hash != "A" {
		t.Errorf("Route = %q, want A (exact and partial contributions sum)", hash)
	}
}

func TestSuccessDominatesLatency(t *testing.T) {
	store := memstore.New()
	// A succeeded slowly; B failed instantly. Success must dominate.
	appendRecord(t, store, "A", perf.ClassQuery, 1, 5000, 10)
	appendRecord(t, store, "B", perf.ClassQuery, 0, 1, 10)

	r := New(store, DefaultConfig(), nil)
	hash, ok, err := r.Route(context.Background(), "Who?", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || hash != "A" {
		t.Errorf("Route = %q, want the successful strategy A", hash)
	}
}
