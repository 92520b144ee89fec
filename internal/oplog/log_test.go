package oplog

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func stroke(id string) Operation {
	return Operation{
		ID:       id,
		Type:     TypeStroke,
		AuthorID: "author-" + id,
		Payload:  StrokePayload{Points: []Point{{X: 1, Y: 2}}, Color: "#000", Width: 2},
	}
}

func ids(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func TestAppendPreservesOrder(t *testing.T) {
	log := New()

	for _, id := range []string{"op-1", "op-2", "op-3"} {
		if err := log.Append(stroke(id)); err != nil {
			t.Fatalf("Failed to append %s: %v", id, err)
		}
	}

	if diff := cmp.Diff([]string{"op-1", "op-2", "op-3"}, ids(log.Snapshot())); diff != "" {
		t.Errorf("Snapshot order mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendDuplicateIsNoOp(t *testing.T) {
	log := New()
	if err := log.Append(stroke("a")); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	before := log.Snapshot()

	dup := stroke("a")
	dup.AuthorID = "someone-else"
	err := log.Append(dup)
	if !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("Expected ErrDuplicateOperation, got %v", err)
	}

	if diff := cmp.Diff(before, log.Snapshot()); diff != "" {
		t.Errorf("Log changed after duplicate append (-want +got):\n%s", diff)
	}
}

func TestAppendRequiresID(t *testing.T) {
	log := New()
	if err := log.Append(Operation{Type: TypeStroke}); !errors.Is(err, ErrMissingID) {
		t.Errorf("Expected ErrMissingID, got %v", err)
	}
	if log.Len() != 0 {
		t.Errorf("Expected empty log, got %d", log.Len())
	}
}

func TestFindMostRecentVisibleUserOperation(t *testing.T) {
	tests := []struct {
		name   string
		ops    []Operation
		wantID string
		wantOK bool
	}{
		{
			name:   "empty log",
			wantOK: false,
		},
		{
			name:   "only clears",
			ops:    []Operation{{ID: "c1", Type: TypeClear}, {ID: "c2", Type: TypeClear}},
			wantOK: false,
		},
		{
			name:   "skips trailing clear",
			ops:    []Operation{stroke("s1"), {ID: "c1", Type: TypeClear}},
			wantID: "s1",
			wantOK: true,
		},
		{
			name:   "skips hidden",
			ops:    []Operation{stroke("s1"), {ID: "s2", Type: TypeRect, Hidden: true}},
			wantID: "s1",
			wantOK: true,
		},
		{
			name:   "all hidden",
			ops:    []Operation{{ID: "s1", Type: TypeText, Hidden: true}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New()
			log.ReplaceAll(tt.ops)

			op, ok := log.FindMostRecentVisibleUserOperation()
			if ok != tt.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && op.ID != tt.wantID {
				t.Errorf("Expected %s, got %s", tt.wantID, op.ID)
			}
		})
	}
}

func TestUndoUndoRedoSequence(t *testing.T) {
	log := New()
	log.Append(stroke("A"))
	log.Append(stroke("B"))

	target, ok := log.FindMostRecentVisibleUserOperation()
	if !ok || target.ID != "B" {
		t.Fatalf("Expected first undo target B, got %+v", target)
	}
	log.SetHidden(target.ID, true)

	target, ok = log.FindMostRecentVisibleUserOperation()
	if !ok || target.ID != "A" {
		t.Fatalf("Expected second undo target A, got %+v", target)
	}
	log.SetHidden(target.ID, true)

	a, _ := log.Get("A")
	b, _ := log.Get("B")
	if !a.Hidden || !b.Hidden {
		t.Fatalf("Expected both hidden, got A=%v B=%v", a.Hidden, b.Hidden)
	}

	// Redo scans from the tail, so the later entry B is restored first even
	// though A was hidden last.
	target, ok = log.FindMostRecentHiddenOperation()
	if !ok || target.ID != "B" {
		t.Fatalf("Expected redo target B, got %+v", target)
	}
}

func TestSetHiddenUnknownID(t *testing.T) {
	log := New()
	log.Append(stroke("a"))

	if log.SetHidden("missing", true) {
		t.Error("SetHidden should report false for unknown id")
	}
	op, _ := log.Get("a")
	if op.Hidden {
		t.Error("Unrelated operation should stay visible")
	}
}

func TestReplaceAllPreservesHidden(t *testing.T) {
	log := New()
	log.Append(stroke("old"))

	persisted := []Operation{stroke("x"), stroke("y")}
	persisted[1].Hidden = true
	log.ReplaceAll(persisted)

	got := log.Snapshot()
	if diff := cmp.Diff(persisted, got); diff != "" {
		t.Errorf("ReplaceAll mismatch (-want +got):\n%s", diff)
	}
	if _, ok := log.Get("old"); ok {
		t.Error("Old entries should be gone after ReplaceAll")
	}
	if err := log.Append(stroke("x")); !errors.Is(err, ErrDuplicateOperation) {
		t.Errorf("Index should be rebuilt, expected duplicate error, got %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	log := New()
	log.Append(stroke("a"))

	snap := log.Snapshot()
	snap[0].Hidden = true

	op, _ := log.Get("a")
	if op.Hidden {
		t.Error("Mutating a snapshot must not affect the log")
	}
}

func TestConcurrentAppend(t *testing.T) {
	log := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Append(stroke(string(rune('a'+i%26)) + "-" + string(rune('A'+i/26))))
		}(i)
	}
	wg.Wait()

	if log.Len() != 100 {
		t.Errorf("Expected 100 operations, got %d", log.Len())
	}
}
