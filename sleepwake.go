package bepu

import (
	"log/slog"
	"sort"
)

// constraintSnapshot is a sleeping island's frozen record of one
// constraint: its type, its handle, and the body handles it references
// (active constraints store body indices; sleeping constraints store body
// handles, spec §4.8's "Crucial layout difference"). Prestep and impulse
// data stay resident in the constraint's original type batch — sleeping
// only changes what its body-reference columns hold and which set the
// batch bookkeeping considers it part of.
type constraintSnapshot struct {
	typeID      int32
	handle      ConstraintHandle
	bodyHandles []BodyHandle
}

// sleepCandidates walks every active body and updates its sleep timer per
// spec §4.8's rule (ported from DynamicsB2Island.go's minSleepTime scan):
// a body with velocity above tolerance resets to zero; otherwise its timer
// accumulates. Returns the set of active indices whose timer has crossed
// timeToSleep and which allow sleeping.
func sleepCandidates(bodies *BodyStore, dt float64) []int32 {
	linTolSqr := linearSleepTolerance * linearSleepTolerance
	angTolSqr := angularSleepTolerance * angularSleepTolerance

	var candidates []int32
	for i := range bodies.active {
		rec := &bodies.active[i]
		if rec.desc.Type != BodyDynamic || !rec.desc.AllowSleep {
			rec.sleepTime = 0
			continue
		}
		linSq := rec.desc.LinearVelocity.Dot(rec.desc.LinearVelocity)
		angSq := rec.desc.AngularVelocity.Dot(rec.desc.AngularVelocity)
		if linSq > linTolSqr || angSq > angTolSqr {
			rec.sleepTime = 0
			continue
		}
		rec.sleepTime += dt
		if rec.sleepTime >= timeToSleep {
			candidates = append(candidates, int32(i))
		}
	}
	return candidates
}

// islandOf computes the connected component of active indices reachable
// from seed by traversing shared constraints, using union of every
// non-fallback and fallback processor's EnumerateConnectedBodies. This is
// a plain adjacency walk rather than a persistent union-find, mirroring
// the teacher's per-step island rebuild (DynamicsB2World.go's Solve builds
// islands fresh every step rather than maintaining them incrementally).
func islandOf(seed int32, bs *batchSet, bodies *BodyStore) []int32 {
	visited := map[int32]bool{seed: true}
	queue := []int32{seed}
	adjacency := buildBodyAdjacency(bs)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	out := make([]int32, 0, len(visited))
	for idx := range visited {
		out = append(out, idx)
	}
	return out
}

func buildBodyAdjacency(bs *batchSet) map[int32][]int32 {
	adjacency := make(map[int32][]int32)
	addEdges := func(proc TypeProcessor) {
		n := proc.Count()
		for i := int32(0); i < n; i++ {
			var members []int32
			proc.EnumerateConnectedBodies(i, func(_ int, bodyIndex int32) {
				members = append(members, bodyIndex)
			})
			for a := range members {
				for b := range members {
					if a != b {
						adjacency[members[a]] = append(adjacency[members[a]], members[b])
					}
				}
			}
		}
	}
	for _, batch := range bs.all() {
		for _, proc := range batch.processors {
			addEdges(proc)
		}
	}
	return adjacency
}

// canSleepIsland reports whether every member of an island subset is
// itself a sleep candidate; box2d only sleeps a whole island when its
// minimum sleep time crosses the threshold (DynamicsB2Island.go), so a
// single awake member vetoes the entire island.
func canSleepIsland(members []int32, bodies *BodyStore) bool {
	for _, idx := range members {
		rec := &bodies.active[idx]
		if rec.desc.Type == BodyDynamic && rec.sleepTime < timeToSleep {
			return false
		}
	}
	return true
}

// sleepIsland moves the active bodies in members, and every constraint
// touching any of them, out of active storage into a new sleepingIsland.
// Sleeping constraints have their body-reference columns rewritten from
// index to handle (spec §4.8); accumulated impulses are not preserved
// across the transition (DESIGN.md notes this as a deliberate
// simplification — box2d itself has no persistent islands to preserve
// them from either, since DynamicsB2World.go rebuilds islands every step).
func (s *Solver) sleepIsland(members []int32) {
	memberSet := make(map[int32]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	touched := make(map[ConstraintHandle]bool)
	for _, batch := range s.Batches.all() {
		for _, proc := range batch.processors {
			n := proc.Count()
			for i := int32(0); i < n; i++ {
				var hit bool
				proc.EnumerateConnectedBodies(i, func(_ int, bi int32) {
					if memberSet[bi] {
						hit = true
					}
				})
				if hit {
					touched[proc.IndexToHandle(i)] = true
				}
			}
		}
	}

	island := sleepingIsland{}
	for _, oldIdx := range members {
		rec := s.Bodies.active[oldIdx]
		island.bodies = append(island.bodies, rec)
		island.indexToHandle = append(island.indexToHandle, rec.handle)
	}

	for handle := range touched {
		loc, ok := s.constraintHandles.get(int32(handle))
		if !ok || loc.set != setActive {
			continue
		}
		batch := s.batchByLocation(loc)
		proc := batch.processors[loc.typeID]
		bodyIndices := proc.BodyIndicesAt(loc.indexInBatch)
		bodyHandles := make([]BodyHandle, len(bodyIndices))
		for i, bi := range bodyIndices {
			bodyHandles[i] = s.Bodies.indexToHandle[bi]
		}
		island.constraints = append(island.constraints, constraintSnapshot{typeID: loc.typeID, handle: handle, bodyHandles: bodyHandles})

		movedHandle := proc.Remove(loc.indexInBatch)
		if movedHandle != ConstraintHandle(invalidHandle) {
			movedLoc, _ := s.constraintHandles.get(int32(movedHandle))
			movedLoc.indexInBatch = loc.indexInBatch
			s.constraintHandles.set(int32(movedHandle), movedLoc)
		}
		batch.removeBodies(bodyHandles)
		s.constraintHandles.set(int32(handle), constraintLocation{set: setSleeping, typeID: loc.typeID})
	}

	descending := append([]int32(nil), members...)
	sort.Slice(descending, func(i, j int) bool { return descending[i] > descending[j] })
	for _, oldIdx := range descending {
		last := int32(len(s.Bodies.active)) - 1
		if oldIdx != last {
			movedHandle := s.Bodies.indexToHandle[last]
			s.Bodies.active[oldIdx] = s.Bodies.active[last]
			s.Bodies.indexToHandle[oldIdx] = movedHandle
			s.Bodies.handles.set(int32(movedHandle), bodyLocation{set: setActive, index: oldIdx})
		}
		s.Bodies.active = s.Bodies.active[:last]
		s.Bodies.indexToHandle = s.Bodies.indexToHandle[:last]
	}

	islandIndex := int32(len(s.Bodies.islands))
	s.Bodies.islands = append(s.Bodies.islands, island)
	for i, h := range island.indexToHandle {
		s.Bodies.handles.set(int32(h), bodyLocation{set: setSleeping, index: int32(i), island: islandIndex})
	}
	slog.Info("island_sleep", "island_index", islandIndex, "body_count", len(members), "constraint_count", len(touched))
}

// WakeBody wakes the sleeping island containing h, if any, restoring its
// bodies to the active set and its constraints to fresh batch slots (spec
// §4.8's handle-to-index reverse conversion).
func (s *Solver) WakeBody(h BodyHandle) {
	loc, ok := s.Bodies.handles.get(int32(h))
	if !ok || loc.set != setSleeping {
		return
	}
	s.wakeIsland(loc.island)
}

func (s *Solver) wakeIsland(islandIndex int32) {
	island := s.Bodies.islands[islandIndex]
	if island.freed {
		return
	}

	newIndexOf := make(map[BodyHandle]int32, len(island.bodies))
	for _, rec := range island.bodies {
		newIndex := int32(len(s.Bodies.active))
		s.Bodies.active = append(s.Bodies.active, rec)
		s.Bodies.indexToHandle = append(s.Bodies.indexToHandle, rec.handle)
		newIndexOf[rec.handle] = newIndex
		s.Bodies.handles.set(int32(rec.handle), bodyLocation{set: setActive, index: newIndex})
	}

	for _, snap := range island.constraints {
		bodyIndices := make([]int32, len(snap.bodyHandles))
		for i, bh := range snap.bodyHandles {
			bodyIndices[i] = newIndexOf[bh]
		}
		batchIndex := s.Batches.choose(snap.bodyHandles)
		batch := s.Batches.batchAt(batchIndex)
		proc := batch.processor(s.Registry, snap.typeID, s.Config.MinimumCapacityPerTypeBatch)
		index := proc.Allocate(snap.handle, bodyIndices)
		s.constraintHandles.set(int32(snap.handle), constraintLocation{set: setActive, batch: int32(batchIndex), typeID: snap.typeID, indexInBatch: index})
		batch.addBodies(snap.bodyHandles)
	}

	bodyCount, constraintCount := len(newIndexOf), len(island.constraints)
	island.freed = true
	island.bodies = nil
	island.constraints = nil
	s.Bodies.islands[islandIndex] = island
	slog.Info("island_wake", "island_index", islandIndex, "body_count", bodyCount, "constraint_count", constraintCount)
}
