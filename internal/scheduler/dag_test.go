package scheduler

import "testing"

func TestDAGRejectsDirectCycle(t *testing.T) {
	g := NewDAG()
	if err := g.AddEdge("a", "a"); err != ErrWouldCycle {
		t.Fatalf("expected ErrWouldCycle for a self-edge, got %v", err)
	}
}

func TestDAGRejectsIndirectCycle(t *testing.T) {
	g := NewDAG()
	if err := g.AddEdge("b", "a"); err != nil {
		t.Fatalf("b->a: %v", err)
	}
	if err := g.AddEdge("c", "b"); err != nil {
		t.Fatalf("c->b: %v", err)
	}
	if err := g.AddEdge("a", "c"); err != ErrWouldCycle {
		t.Fatalf("expected a->c to close the cycle, got %v", err)
	}
}

func TestDAGSatisfiedRequiresAllDeps(t *testing.T) {
	g := NewDAG()
	_ = g.AddEdge("task", "dep1")
	_ = g.AddEdge("task", "dep2")

	complete := map[string]bool{"dep1": true}
	isComplete := func(id string) bool { return complete[id] }

	if g.Satisfied("task", isComplete) {
		t.Fatal("expected task to not be satisfied with only one dependency done")
	}
	complete["dep2"] = true
	if !g.Satisfied("task", isComplete) {
		t.Fatal("expected task to be satisfied once both dependencies are done")
	}
}

func TestDAGDependentsAndRemoveTask(t *testing.T) {
	g := NewDAG()
	_ = g.AddEdge("child", "parent")

	deps := g.Dependents("parent")
	if len(deps) != 1 || deps[0] != "child" {
		t.Fatalf("expected [child], got %v", deps)
	}

	g.RemoveTask("parent")
	if len(g.Dependents("parent")) != 0 {
		t.Fatal("expected no dependents after removing parent")
	}
	// child's edge to parent should be gone too, so it is trivially satisfied
	if !g.Satisfied("child", func(string) bool { return false }) {
		t.Fatal("expected child to have no remaining dependency edges")
	}
}
