package domain

import "testing"

func TestComputeNodeIDIsDeterministic(t *testing.T) {
	a := ComputeNodeID("/sessions/a.jsonl", "e1", "e9")
	b := ComputeNodeID("/sessions/a.jsonl", "e1", "e9")
	if a != b {
		t.Fatalf("expected identical ids for identical inputs, got %q vs %q", a, b)
	}
}

func TestComputeNodeIDDistinguishesTriples(t *testing.T) {
	base := ComputeNodeID("/sessions/a.jsonl", "e1", "e9")
	variants := []string{
		ComputeNodeID("/sessions/b.jsonl", "e1", "e9"),
		ComputeNodeID("/sessions/a.jsonl", "e2", "e9"),
		ComputeNodeID("/sessions/a.jsonl", "e1", "e8"),
	}
	for _, v := range variants {
		if v == base {
			t.Fatalf("expected distinct ids for distinct (file,start,end) triples")
		}
	}
}

func TestNewJobIDLength(t *testing.T) {
	id, err := NewJobID()
	if err != nil {
		t.Fatalf("NewJobID returned error: %v", err)
	}
	if len(id) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%q)", len(id), id)
	}
}

func TestJobTypePriorityOrdering(t *testing.T) {
	order := []JobType{JobUserTriggered, JobFork, JobInitial, JobReanalysis, JobConnection}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() >= order[i].Priority() {
			t.Fatalf("expected strictly increasing priority numbers: %s (%d) >= %s (%d)",
				order[i-1], order[i-1].Priority(), order[i], order[i].Priority())
		}
	}
}
