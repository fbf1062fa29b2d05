package bepu

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestSleepIslandMovesBodyToSleepingSet(t *testing.T) {
	s := newTestSolver()
	h := s.AddBody(dynamicBody(mgl64.Vec3{0, 0, 0}))

	_, idx, _ := s.Bodies.HandleToLocation(h)
	s.sleepIsland([]int32{idx})

	set, _, ok := s.Bodies.HandleToLocation(h)
	if !ok || set != setSleeping {
		t.Fatalf("HandleToLocation after sleepIsland = (%v, %v), want setSleeping", set, ok)
	}
	if s.Bodies.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() after sleeping the only body = %d, want 0", s.Bodies.ActiveCount())
	}
}

func TestWakeBodyRestoresActiveSetAndDescription(t *testing.T) {
	s := newTestSolver()
	h := s.AddBody(dynamicBody(mgl64.Vec3{2, 3, 4}))
	before, _ := s.GetDescription(h)

	_, idx, _ := s.Bodies.HandleToLocation(h)
	s.sleepIsland([]int32{idx})
	s.WakeBody(h)

	set, _, ok := s.Bodies.HandleToLocation(h)
	if !ok || set != setActive {
		t.Fatalf("HandleToLocation after WakeBody = (%v, %v), want setActive", set, ok)
	}
	after, _ := s.GetDescription(h)
	if after.Position != before.Position {
		t.Fatalf("woken body's position changed: before=%v after=%v", before.Position, after.Position)
	}
}

func TestWakeBodyOnAlreadyActiveBodyIsNoop(t *testing.T) {
	s := newTestSolver()
	h := s.AddBody(dynamicBody(mgl64.Vec3{0, 0, 0}))
	s.WakeBody(h)
	set, _, ok := s.Bodies.HandleToLocation(h)
	if !ok || set != setActive {
		t.Fatalf("WakeBody on an active body changed its set to %v", set)
	}
}

// TestSleepWakeRoundTripsConstraint sleeps an island containing a jointed
// pair, then wakes it, and checks the constraint resolves back to an
// active slot referencing the same two bodies by index — spec §4.8's
// handle<->index rewrite at the sleep/wake boundary.
func TestSleepWakeRoundTripsConstraint(t *testing.T) {
	s := newTestSolver()
	a := s.AddBody(dynamicBody(mgl64.Vec3{0, 0, 0}))
	b := s.AddBody(dynamicBody(mgl64.Vec3{1, 0, 0}))
	h := s.AddWeldJoint(a, b, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 0, 0})

	_, idxA, _ := s.Bodies.HandleToLocation(a)
	_, idxB, _ := s.Bodies.HandleToLocation(b)
	s.sleepIsland([]int32{idxA, idxB})

	loc, ok := s.constraintHandles.get(int32(h))
	if !ok || loc.set != setSleeping {
		t.Fatalf("constraint location after sleepIsland = (%+v, %v), want set=setSleeping", loc, ok)
	}

	s.WakeBody(a)

	loc, ok = s.constraintHandles.get(int32(h))
	if !ok || loc.set != setActive {
		t.Fatalf("constraint location after WakeBody = (%+v, %v), want set=setActive", loc, ok)
	}
	batch := s.batchByLocation(loc)
	proc := batch.processors[loc.typeID]
	bodyIndices := proc.BodyIndicesAt(loc.indexInBatch)

	_, newIdxA, _ := s.Bodies.HandleToLocation(a)
	_, newIdxB, _ := s.Bodies.HandleToLocation(b)
	if bodyIndices[0] != newIdxA || bodyIndices[1] != newIdxB {
		t.Fatalf("woken constraint body indices = %v, want [%d %d]", bodyIndices, newIdxA, newIdxB)
	}
}

// TestUpdateSleepHandlesMultipleDisjointIslandsInOnePass exercises the
// case where ≥2 disjoint islands cross the sleep threshold in the same
// updateSleep call: sleepCandidates snapshots indices once, but each
// sleepIsland call swap-removes from Bodies.active and shrinks it, so a
// later candidate's pre-mutation index can go out of range or land on a
// different body. updateSleep must re-resolve each candidate's current
// index before using it, so every body ends up asleep under its own
// handle regardless of processing order.
func TestUpdateSleepHandlesMultipleDisjointIslandsInOnePass(t *testing.T) {
	s := newTestSolver()
	handles := make([]BodyHandle, 5)
	positions := make([]mgl64.Vec3, 5)
	for i := range handles {
		pos := mgl64.Vec3{float64(i) * 10, 0, 0}
		positions[i] = pos
		handles[i] = s.AddBody(dynamicBody(pos))
		_, idx, _ := s.Bodies.HandleToLocation(handles[i])
		s.Bodies.active[idx].sleepTime = timeToSleep
	}

	s.updateSleep(1.0 / 60.0)

	if got := s.Bodies.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() after updateSleep = %d, want 0 (every disjoint island should have slept)", got)
	}
	for i, h := range handles {
		set, _, ok := s.Bodies.HandleToLocation(h)
		if !ok || set != setSleeping {
			t.Fatalf("body %d: HandleToLocation = (%v, %v), want setSleeping", i, set, ok)
		}
	}

	for i, h := range handles {
		s.WakeBody(h)
		desc, ok := s.GetDescription(h)
		if !ok {
			t.Fatalf("body %d: GetDescription failed after waking", i)
		}
		if desc.Position != positions[i] {
			t.Fatalf("body %d: position after sleep/wake = %v, want %v (sleepIsland must have captured the right body, not one shifted by an earlier swap-remove)", i, desc.Position, positions[i])
		}
	}
}

func TestCanSleepIslandVetoedByAwakeMember(t *testing.T) {
	s := newTestSolver()
	a := s.AddBody(dynamicBody(mgl64.Vec3{0, 0, 0}))
	b := s.AddBody(dynamicBody(mgl64.Vec3{1, 0, 0}))

	_, idxA, _ := s.Bodies.HandleToLocation(a)
	_, idxB, _ := s.Bodies.HandleToLocation(b)
	s.Bodies.active[idxA].sleepTime = timeToSleep + 1
	s.Bodies.active[idxB].sleepTime = 0

	if canSleepIsland([]int32{idxA, idxB}, s.Bodies) {
		t.Fatalf("canSleepIsland approved an island with one awake member")
	}
}
