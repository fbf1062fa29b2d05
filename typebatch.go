package bepu

import "log/slog"

// TypeBatch is the generic AOSOA column store for one constraint type
// within one constraint batch (spec §3/§4.3). P and Imp are hand-written
// per-type bundle structs (see joint_weld.go etc.) satisfying
// BundleColumns; the body-reference columns and the handle<->index
// bookkeeping are generic across every type, ported from the common shape
// of the teacher's per-joint M_indexA/M_indexB/M_bodyA/M_bodyB fields
// (DynamicsB2Joint.go) collapsed into dense arrays.
type TypeBatch[P BundleColumns, Imp BundleColumns] struct {
	typeID    int32
	bodyCount int

	count    int32
	capacity int32 // in constraints, always a multiple of LaneWidth

	// bodyIndexOf[slot][i] is the active-set index of the slot'th body
	// referenced by constraint i. Sleeping constraints are removed from the
	// type batch; their body handles live in the island's constraintSnapshot.
	bodyIndexOf [][]int32

	indexToHandle []ConstraintHandle

	prestep P
	impulse Imp

	kernel Kernel[P, Imp]
}

// Prestep is an alias of BundleColumns; nothing in the package refers to
// it.
type Prestep = BundleColumns

func newTypeBatch[P BundleColumns, Imp BundleColumns](typeID int32, bodyCount, initialCapacity int, prestep P, impulse Imp, kernel Kernel[P, Imp]) *TypeBatch[P, Imp] {
	capacity := int32(growCapacity(0, initialCapacity, LaneWidth))
	capacityBundles := bundleCount(int(capacity))
	prestep.growColumns(capacityBundles)
	impulse.growColumns(capacityBundles)

	bodyIndexOf := make([][]int32, bodyCount)
	for i := range bodyIndexOf {
		bodyIndexOf[i] = make([]int32, capacity)
	}

	return &TypeBatch[P, Imp]{
		typeID:        typeID,
		bodyCount:     bodyCount,
		capacity:      capacity,
		bodyIndexOf:   bodyIndexOf,
		indexToHandle: make([]ConstraintHandle, 0, capacity),
		prestep:       prestep,
		impulse:       impulse,
		kernel:        kernel,
	}
}

func (tb *TypeBatch[P, Imp]) TypeID() int32    { return tb.typeID }
func (tb *TypeBatch[P, Imp]) BodyCount() int   { return tb.bodyCount }
func (tb *TypeBatch[P, Imp]) Count() int32     { return tb.count }
func (tb *TypeBatch[P, Imp]) BundleCount() int { return bundleCount(int(tb.count)) }

func (tb *TypeBatch[P, Imp]) IndexToHandle(i int32) ConstraintHandle {
	return tb.indexToHandle[i]
}

func (tb *TypeBatch[P, Imp]) grow(needed int32) {
	if needed <= tb.capacity {
		return
	}
	newCapacity := int32(growCapacity(int(tb.capacity), int(needed), LaneWidth))
	newCapacityBundles := bundleCount(int(newCapacity))
	tb.prestep.growColumns(newCapacityBundles)
	tb.impulse.growColumns(newCapacityBundles)
	for slot := range tb.bodyIndexOf {
		next := make([]int32, newCapacity)
		copy(next, tb.bodyIndexOf[slot])
		tb.bodyIndexOf[slot] = next
	}
	slog.Debug("type_batch_grow", "type_id", tb.typeID, "old_capacity", tb.capacity, "new_capacity", newCapacity)
	tb.capacity = newCapacity
}

// Allocate appends one constraint (spec §4.3's allocate): grows storage
// geometrically if full, clears accumulated impulse, and writes body
// indices into the bundle/lane. Prestep description fields are written
// separately by the caller via the type's own description setter, which
// also uses the scalarBundle "write first lane" primitive.
func (tb *TypeBatch[P, Imp]) Allocate(handle ConstraintHandle, bodyIndices []int32) int32 {
	assertf(len(bodyIndices) == tb.bodyCount, "Allocate: expected %d body indices, got %d", tb.bodyCount, len(bodyIndices))
	index := tb.count
	tb.grow(index + 1)
	tb.count++
	tb.indexToHandle = append(tb.indexToHandle, handle)
	for slot, bodyIndex := range bodyIndices {
		tb.bodyIndexOf[slot][index] = bodyIndex
	}
	tb.impulse.clearLane(int(index))
	return index
}

// Remove swap-removes index, returning the handle of the constraint that
// was relocated into the freed slot (or invalidHandle if index was the
// last slot), so the caller can update the central handle table (spec
// §4.3's remove contract, ported from the teacher's dense-array removal
// idiom in DynamicsB2Island.go/DynamicsB2ContactManager.go, generalized to
// AOSOA columns).
func (tb *TypeBatch[P, Imp]) Remove(index int32) ConstraintHandle {
	last := tb.count - 1
	moved := ConstraintHandle(invalidHandle)
	if index != last {
		tb.prestep.moveLane(int(index), int(last))
		tb.impulse.moveLane(int(index), int(last))
		for slot := range tb.bodyIndexOf {
			tb.bodyIndexOf[slot][index] = tb.bodyIndexOf[slot][last]
		}
		tb.indexToHandle[index] = tb.indexToHandle[last]
		moved = tb.indexToHandle[index]
	}
	tb.indexToHandle = tb.indexToHandle[:last]
	tb.prestep.clearLane(int(last))
	tb.impulse.clearLane(int(last))
	tb.count = last
	return moved
}

// transferInto copies constraint srcIndex's prestep and accumulated
// impulse lanes into a newly allocated slot of target (same concrete
// type), then swap-removes the source slot — spec §4.3's
// transferConstraint. Projections are never copied because none exist in
// the sub-stepping path (Open Question #1).
func transferInto[P BundleColumns, Imp BundleColumns](src *TypeBatch[P, Imp], srcIndex int32, target *TypeBatch[P, Imp]) (newIndex int32, movedHandle ConstraintHandle) {
	handle := src.indexToHandle[srcIndex]
	bodyIndices := make([]int32, src.bodyCount)
	for slot := range src.bodyIndexOf {
		bodyIndices[slot] = src.bodyIndexOf[slot][srcIndex]
	}
	newIndex = target.Allocate(handle, bodyIndices)
	target.prestep.copyLaneFrom(src.prestep, int(srcIndex), int(newIndex))
	target.impulse.copyLaneFrom(src.impulse, int(srcIndex), int(newIndex))
	movedHandle = src.Remove(srcIndex)
	return
}

func (tb *TypeBatch[P, Imp]) EnumerateConnectedBodies(index int32, callback func(bodyIndexInConstraint int, bodyIndex int32)) {
	for slot := range tb.bodyIndexOf {
		callback(slot, tb.bodyIndexOf[slot][index])
	}
}

func (tb *TypeBatch[P, Imp]) SetBodyIndices(index int32, bodyIndices []int32) {
	assertf(len(bodyIndices) == tb.bodyCount, "SetBodyIndices: expected %d body indices", tb.bodyCount)
	for slot, v := range bodyIndices {
		tb.bodyIndexOf[slot][index] = v
	}
}

func (tb *TypeBatch[P, Imp]) BodyIndicesAt(index int32) []int32 {
	out := make([]int32, tb.bodyCount)
	for slot := range tb.bodyIndexOf {
		out[slot] = tb.bodyIndexOf[slot][index]
	}
	return out
}

func (tb *TypeBatch[P, Imp]) bundleBodyIndices(slot, bundleIndex int) [8]int32 {
	var out [8]int32
	start := bundleIndex * LaneWidth
	col := tb.bodyIndexOf[slot]
	for lane := 0; lane < LaneWidth && start+lane < len(col); lane++ {
		out[lane] = col[start+lane]
	}
	return out
}

// validLanesInBundle returns how many lanes of bundleIndex hold a real
// constraint, i.e. LaneWidth except possibly on the last bundle (spec §3's
// padded partial bundle).
func (tb *TypeBatch[P, Imp]) validLanesInBundle(bundleIndex int) int {
	start := bundleIndex * LaneWidth
	remaining := int(tb.count) - start
	if remaining >= LaneWidth {
		return LaneWidth
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (tb *TypeBatch[P, Imp]) WarmStart(bodies *BodyStore, h, invH float64, startBundle, endBundle int) {
	tb.kernel.WarmStart(tb, bodies, h, invH, startBundle, endBundle)
}

func (tb *TypeBatch[P, Imp]) WarmStartIntegrating(bodies *BodyStore, h, invH float64, startBundle, endBundle int, mask func(bundleIndex, bodySlot int) laneMask, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int) {
	tb.kernel.WarmStartIntegrating(tb, bodies, h, invH, startBundle, endBundle, mask, integrator, angularMode, workerIndex)
}

func (tb *TypeBatch[P, Imp]) Solve(bodies *BodyStore, iterationCount int, h, invH float64, startBundle, endBundle int) {
	tb.kernel.Solve(tb, bodies, iterationCount, h, invH, startBundle, endBundle)
}
