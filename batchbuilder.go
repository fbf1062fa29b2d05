package bepu

// constraintBatch is a set of type batches collectively satisfying the
// disjoint-body invariant (the fallback batch is the one exception, spec
// §3's "Constraint batch"). Grounded on DynamicsB2Island.go's per-frame
// AddBody/AddContact/Add bookkeeping, generalized from one implicit
// island to the explicit greedy multi-batch assignment of spec §4.4.
type constraintBatch struct {
	processors map[int32]TypeProcessor
	// referenced tracks which body handles this batch touches; nil for
	// the fallback batch, which has no disjointness invariant to track.
	referenced *indexSet
	refCount   map[BodyHandle]int32

	isFallback bool
}

func newConstraintBatch(isFallback bool) *constraintBatch {
	b := &constraintBatch{processors: make(map[int32]TypeProcessor), isFallback: isFallback}
	if !isFallback {
		b.referenced = newIndexSet()
		b.refCount = make(map[BodyHandle]int32)
	}
	return b
}

func (b *constraintBatch) processor(registry *TypeRegistry, typeID int32, initialCapacity int) TypeProcessor {
	if p, ok := b.processors[typeID]; ok {
		return p
	}
	p := registry.newProcessor(typeID, initialCapacity)
	b.processors[typeID] = p
	return p
}

// addBodies records that this batch now references handles, bumping ref
// counts (spec §4.4's "Batch Referenced Handles invariant").
func (b *constraintBatch) addBodies(handles []BodyHandle) {
	if b.isFallback {
		return
	}
	for _, h := range handles {
		b.refCount[h]++
		b.referenced.Set(int(h))
	}
}

// removeBodies decrements ref counts, clearing bits that reach zero.
func (b *constraintBatch) removeBodies(handles []BodyHandle) {
	if b.isFallback {
		return
	}
	for _, h := range handles {
		b.refCount[h]--
		if b.refCount[h] <= 0 {
			delete(b.refCount, h)
			b.referenced.Clear(int(h))
		}
	}
}

func (b *constraintBatch) acceptsDisjoint(handles []BodyHandle) bool {
	if b.isFallback {
		return true
	}
	for _, h := range handles {
		if b.referenced.Contains(int(h)) {
			return false
		}
	}
	return true
}

// batchSet owns every non-fallback constraintBatch plus the fallback
// batch, and implements the greedy assignment of spec §4.4: "to insert a
// constraint, scan batches in order and place it in the first batch whose
// referenced-body set is disjoint from the new constraint's bodies...
// Otherwise, place it in the fallback batch."
type batchSet struct {
	batches          []*constraintBatch
	fallback         *constraintBatch
	fallbackThreshold int
}

func newBatchSet(fallbackThreshold int) *batchSet {
	return &batchSet{fallback: newConstraintBatch(true), fallbackThreshold: fallbackThreshold}
}

// choose picks the batch index (or -1 for fallback) a new constraint
// referencing handles should join, without mutating any batch.
func (bs *batchSet) choose(handles []BodyHandle) int {
	for i, b := range bs.batches {
		if b.acceptsDisjoint(handles) {
			return i
		}
	}
	if len(bs.batches) < bs.fallbackThreshold {
		return len(bs.batches)
	}
	return -1
}

// batchAt returns the batch at index, creating and appending a new
// non-fallback batch if index equals the current batch count.
func (bs *batchSet) batchAt(index int) *constraintBatch {
	if index < 0 {
		return bs.fallback
	}
	if index == len(bs.batches) {
		bs.batches = append(bs.batches, newConstraintBatch(false))
	}
	return bs.batches[index]
}

func (bs *batchSet) all() []*constraintBatch {
	out := make([]*constraintBatch, 0, len(bs.batches)+1)
	out = append(out, bs.batches...)
	out = append(out, bs.fallback)
	return out
}

func (bs *batchSet) nonFallbackCount() int { return len(bs.batches) }
