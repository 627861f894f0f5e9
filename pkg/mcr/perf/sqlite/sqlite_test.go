package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mcr-lab/mcr/pkg/mcr/perf"
)

func openTestStore(t *testing.T) perf.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "perf.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := perf.Record{
		StrategyHash: "abc123",
		ExampleID:    "ex-1",
		InputClass:   perf.ClassAssert,
		ModelID:      "m1",
		Metrics:      map[string]float64{"exact_match": 1, "converged": 1},
		LatencyMs:    42,
		CostTokens:   128,
	}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}

	out, err := s.Query(ctx, perf.Filter{StrategyHash: "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1", len(out))
	}
	got := out[0]
	if got.ExampleID != "ex-1" || got.InputClass != perf.ClassAssert || got.ModelID != "m1" {
		t.Errorf("record fields not round-tripped: %+v", got)
	}
	if got.Metrics["exact_match"] != 1 || got.Metrics["converged"] != 1 {
		t.Errorf("metrics not round-tripped: %v", got.Metrics)
	}
	if got.LatencyMs != 42 || got.CostTokens != 128 {
		t.Errorf("latency/cost not round-tripped: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on append")
	}
}

func TestQueryModelAgnostic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.Append(ctx, perf.Record{StrategyHash: "a", InputClass: perf.ClassQuery, ModelID: "m1"})
	s.Append(ctx, perf.Record{StrategyHash: "b", InputClass: perf.ClassQuery, ModelID: "m2"})
	s.Append(ctx, perf.Record{StrategyHash: "c", InputClass: perf.ClassQuery})

	// Filtering by model includes model-agnostic rows.
	out, err := s.Query(ctx, perf.Filter{ModelID: "m1", InputClass: perf.ClassQuery})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2 (m1 plus model-agnostic)", len(out))
	}
}

func TestQueryOrderedOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i, hash := range []string{"one", "two", "three"} {
		s.Append(ctx, perf.Record{StrategyHash: hash, InputClass: perf.ClassAssert, LatencyMs: int64(i)})
	}
	out, err := s.Query(ctx, perf.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[0].StrategyHash != "one" || out[2].StrategyHash != "three" {
		t.Errorf("records out of insert order: %+v", out)
	}
}
