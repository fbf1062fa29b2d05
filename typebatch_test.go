package bepu

import "testing"

func newTestGearMotorBatch(initialCapacity int) *TypeBatch[*GearMotorPrestep, *GearMotorImpulse] {
	bundles := bundleCount(initialCapacity)
	return newTypeBatch(int32(0), 2, initialCapacity, newGearMotorPrestep(bundles), newGearMotorImpulse(bundles), Kernel[*GearMotorPrestep, *GearMotorImpulse]{})
}

func TestTypeBatchAllocateAssignsDenseIndices(t *testing.T) {
	tb := newTestGearMotorBatch(4)
	i0 := tb.Allocate(ConstraintHandle(10), []int32{1, 2})
	i1 := tb.Allocate(ConstraintHandle(11), []int32{3, 4})
	if i0 != 0 || i1 != 1 {
		t.Fatalf("Allocate returned (%d, %d), want (0, 1)", i0, i1)
	}
	if tb.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", tb.Count())
	}
	if tb.IndexToHandle(i0) != 10 || tb.IndexToHandle(i1) != 11 {
		t.Fatalf("IndexToHandle mismatch after allocate")
	}
}

func TestTypeBatchAllocateClearsImpulse(t *testing.T) {
	tb := newTestGearMotorBatch(4)
	i := tb.Allocate(ConstraintHandle(1), []int32{0, 1})
	tb.impulse.Value.set(int(i), 42)
	tb.Remove(i)
	j := tb.Allocate(ConstraintHandle(2), []int32{0, 1})
	if got := tb.impulse.Value.get(int(j)); got != 0 {
		t.Fatalf("newly allocated slot has nonzero impulse: %v", got)
	}
}

// TestTypeBatchRemoveDuringSwapFixesUpMovedHandle exercises the concrete
// "remove during swap" scenario: removing a non-last slot must move the
// last constraint into the freed slot and report its handle so the caller
// can repoint its central table entry.
func TestTypeBatchRemoveDuringSwapFixesUpMovedHandle(t *testing.T) {
	tb := newTestGearMotorBatch(4)
	tb.Allocate(ConstraintHandle(100), []int32{1, 2})
	tb.Allocate(ConstraintHandle(101), []int32{3, 4})
	last := tb.Allocate(ConstraintHandle(102), []int32{5, 6})
	tb.impulse.Value.set(int(last), 77)

	moved := tb.Remove(0)
	if moved != ConstraintHandle(102) {
		t.Fatalf("Remove(0) reported moved handle %d, want 102", moved)
	}
	if tb.Count() != 2 {
		t.Fatalf("Count() after remove = %d, want 2", tb.Count())
	}
	if tb.IndexToHandle(0) != 102 {
		t.Fatalf("IndexToHandle(0) after remove = %d, want 102", tb.IndexToHandle(0))
	}
	if got := tb.impulse.Value.get(0); got != 77 {
		t.Fatalf("moved constraint's impulse did not follow it: got %v, want 77", got)
	}
	bodies := tb.BodyIndicesAt(0)
	if bodies[0] != 5 || bodies[1] != 6 {
		t.Fatalf("moved constraint's body indices did not follow it: got %v", bodies)
	}
}

func TestTypeBatchRemoveLastSlotReportsNoMove(t *testing.T) {
	tb := newTestGearMotorBatch(4)
	tb.Allocate(ConstraintHandle(1), []int32{0, 1})
	last := tb.Allocate(ConstraintHandle(2), []int32{2, 3})
	moved := tb.Remove(last)
	if moved != ConstraintHandle(invalidHandle) {
		t.Fatalf("Remove of the last slot reported a moved handle: %d", moved)
	}
	if tb.Count() != 1 {
		t.Fatalf("Count() after removing last slot = %d, want 1", tb.Count())
	}
}

func TestTypeBatchGrowsGeometrically(t *testing.T) {
	tb := newTestGearMotorBatch(1)
	initialCapacity := tb.capacity
	for i := 0; i < LaneWidth*4; i++ {
		tb.Allocate(ConstraintHandle(i), []int32{0, 1})
	}
	if tb.capacity <= initialCapacity {
		t.Fatalf("capacity did not grow: still %d after allocating %d", tb.capacity, LaneWidth*4)
	}
	if tb.Count() != int32(LaneWidth*4) {
		t.Fatalf("Count() = %d, want %d", tb.Count(), LaneWidth*4)
	}
}

func TestTypeBatchBundleBodyIndicesAndValidLanes(t *testing.T) {
	tb := newTestGearMotorBatch(LaneWidth * 2)
	n := LaneWidth + 1
	for i := 0; i < n; i++ {
		tb.Allocate(ConstraintHandle(i), []int32{int32(i), int32(i + 1)})
	}
	if got := tb.validLanesInBundle(0); got != LaneWidth {
		t.Fatalf("validLanesInBundle(0) = %d, want %d (full bundle)", got, LaneWidth)
	}
	if got := tb.validLanesInBundle(1); got != 1 {
		t.Fatalf("validLanesInBundle(1) = %d, want 1 (partial tail)", got)
	}
	indices := tb.bundleBodyIndices(0, 0)
	for lane := 0; lane < LaneWidth; lane++ {
		if indices[lane] != int32(lane) {
			t.Fatalf("bundleBodyIndices(0,0)[%d] = %d, want %d", lane, indices[lane], lane)
		}
	}
}

func TestTransferIntoCopiesDataAndRemovesSource(t *testing.T) {
	src := newTestGearMotorBatch(4)
	dst := newTestGearMotorBatch(4)

	src.Allocate(ConstraintHandle(1), []int32{0, 1})
	i := src.Allocate(ConstraintHandle(2), []int32{2, 3})
	src.impulse.Value.set(int(i), 55)

	newIndex, moved := transferInto(src, i, dst)
	if moved != ConstraintHandle(invalidHandle) {
		t.Fatalf("transferInto moved a handle unexpectedly: %d", moved)
	}
	if dst.IndexToHandle(newIndex) != ConstraintHandle(2) {
		t.Fatalf("transferred constraint has wrong handle in dst")
	}
	if got := dst.impulse.Value.get(int(newIndex)); got != 55 {
		t.Fatalf("transferInto did not copy accumulated impulse: got %v, want 55", got)
	}
	if src.Count() != 1 {
		t.Fatalf("transferInto left src.Count() = %d, want 1", src.Count())
	}
}
