package bepu

import "testing"

func TestBatchSetChooseDisjointBodiesShareBatch(t *testing.T) {
	bs := newBatchSet(16)
	idx := bs.choose([]BodyHandle{1, 2})
	if idx != 0 {
		t.Fatalf("first constraint chose batch %d, want 0", idx)
	}
	batch := bs.batchAt(idx)
	batch.addBodies([]BodyHandle{1, 2})

	idx2 := bs.choose([]BodyHandle{3, 4})
	if idx2 != 0 {
		t.Fatalf("disjoint constraint chose batch %d, want 0 (shares no bodies)", idx2)
	}
}

func TestBatchSetChooseConflictingBodiesGetNewBatch(t *testing.T) {
	bs := newBatchSet(16)
	b0 := bs.batchAt(bs.choose([]BodyHandle{1, 2}))
	b0.addBodies([]BodyHandle{1, 2})

	idx := bs.choose([]BodyHandle{2, 3})
	if idx != 1 {
		t.Fatalf("constraint sharing body 2 chose batch %d, want 1 (new batch)", idx)
	}
}

// TestBatchOverflowGoesToFallback exercises the concrete "batch overflow"
// scenario: a single body referenced by more non-disjoint constraints than
// fallbackThreshold allows must spill into the fallback batch rather than
// growing an unbounded number of synchronized batches.
func TestBatchOverflowGoesToFallback(t *testing.T) {
	const threshold = 3
	bs := newBatchSet(threshold)
	hub := BodyHandle(100)

	for i := 0; i < threshold; i++ {
		other := BodyHandle(200 + i)
		idx := bs.choose([]BodyHandle{hub, other})
		batch := bs.batchAt(idx)
		batch.addBodies([]BodyHandle{hub, other})
	}
	if bs.nonFallbackCount() != threshold {
		t.Fatalf("nonFallbackCount = %d, want %d after filling every batch", bs.nonFallbackCount(), threshold)
	}

	overflow := BodyHandle(300)
	idx := bs.choose([]BodyHandle{hub, overflow})
	if idx != -1 {
		t.Fatalf("overflowing constraint chose batch %d, want -1 (fallback)", idx)
	}
	if bs.nonFallbackCount() != threshold {
		t.Fatalf("choosing fallback grew nonFallbackCount to %d", bs.nonFallbackCount())
	}
}

func TestConstraintBatchRefCountingClearsOnLastRemove(t *testing.T) {
	b := newConstraintBatch(false)
	h := BodyHandle(1)
	b.addBodies([]BodyHandle{h})
	b.addBodies([]BodyHandle{h})
	if !b.referenced.Contains(int(h)) {
		t.Fatalf("referenced set missing body after addBodies")
	}
	b.removeBodies([]BodyHandle{h})
	if !b.referenced.Contains(int(h)) {
		t.Fatalf("referenced bit cleared after only one of two removals")
	}
	b.removeBodies([]BodyHandle{h})
	if b.referenced.Contains(int(h)) {
		t.Fatalf("referenced bit still set after ref count reached zero")
	}
}

func TestFallbackBatchAcceptsAnything(t *testing.T) {
	b := newConstraintBatch(true)
	if !b.acceptsDisjoint([]BodyHandle{1, 1, 1}) {
		t.Fatalf("fallback batch rejected a constraint")
	}
}
