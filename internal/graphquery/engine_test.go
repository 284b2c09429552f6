package graphquery

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
}

func TestHydrateFromEdgesAndQueryDirect(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	edges := []DependencyEdge{
		{FromID: "a", ToID: "b", DepType: "imports"},
		{FromID: "b", ToID: "c", DepType: "imports"},
	}
	if err := engine.HydrateFromEdges(edges); err != nil {
		t.Fatalf("HydrateFromEdges() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := engine.Query(ctx, "depends_on(X, Y, Type)")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Bindings) != 2 {
		t.Fatalf("Query() got %d bindings, want 2", len(result.Bindings))
	}
}

func TestQueryTransitiveReachability(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	edges := []DependencyEdge{
		{FromID: "a", ToID: "b", DepType: "imports"},
		{FromID: "b", ToID: "c", DepType: "imports"},
		{FromID: "c", ToID: "d", DepType: "imports"},
	}
	if err := engine.HydrateFromEdges(edges); err != nil {
		t.Fatalf("HydrateFromEdges() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := engine.Query(ctx, "reachable(X, Y)")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	// a->b, a->c, a->d, b->c, b->d, c->d = 6 reachable pairs.
	if len(result.Bindings) != 6 {
		t.Fatalf("Query() got %d reachable bindings, want 6", len(result.Bindings))
	}
}

func TestGetFacts(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	edges := []DependencyEdge{{FromID: "a", ToID: "b", DepType: "calls"}}
	if err := engine.HydrateFromEdges(edges); err != nil {
		t.Fatalf("HydrateFromEdges() error = %v", err)
	}

	facts, err := engine.GetFacts("depends_on")
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("GetFacts() got %d facts, want 1", len(facts))
	}
}

func TestQueryUnknownPredicate(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := engine.Query(ctx, "not_a_real_predicate(X)"); err == nil {
		t.Fatal("Query() expected error for unknown predicate, got nil")
	}
}

func TestClearRemovesFacts(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if err := engine.HydrateFromEdges([]DependencyEdge{{FromID: "a", ToID: "b", DepType: "imports"}}); err != nil {
		t.Fatalf("HydrateFromEdges() error = %v", err)
	}
	engine.Clear()

	facts, err := engine.GetFacts("depends_on")
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("GetFacts() after Clear() got %d facts, want 0", len(facts))
	}
}
