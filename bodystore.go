package bepu

import "github.com/go-gl/mathgl/mgl64"

// GatherFilter selects which parts of body state gatherState actually
// populates. Spec §4.2: "purely an instruction-count optimization;
// correctness must not depend on filters" — every filter below still
// returns a fully valid bundle, just with some fields left at their zero
// value when the caller has declared it will not read them.
type GatherFilter uint8

const (
	GatherAll GatherFilter = iota
	GatherLinearOnly
	GatherAngularOnly
)

// bodyStateBundle is the gathered, per-field-contiguous result of
// gatherState: W bodies' worth of each field, laid out so every field is a
// plain []float64 of length LaneWidth — directly consumable by the
// bundle-wide hwy helpers in simdops.go. This is the AOS (bodyRecord) to
// AOSOA (bundle) transition spec §4.2 describes.
type bodyStateBundle struct {
	PosX, PosY, PosZ       []float64
	OriW, OriX, OriY, OriZ []float64
	VelX, VelY, VelZ       []float64
	AngX, AngY, AngZ       []float64
	InvMass                []float64
	// InvInertia is the world inverse inertia tensor, row-major, one slice
	// per of the 9 entries; populated only for GatherAll/GatherAngularOnly.
	InvInertia [9][]float64
}

func newBodyStateBundle() *bodyStateBundle {
	b := &bodyStateBundle{}
	alloc := func() []float64 { return make([]float64, LaneWidth) }
	b.PosX, b.PosY, b.PosZ = alloc(), alloc(), alloc()
	b.OriW, b.OriX, b.OriY, b.OriZ = alloc(), alloc(), alloc(), alloc()
	b.VelX, b.VelY, b.VelZ = alloc(), alloc(), alloc()
	b.AngX, b.AngY, b.AngZ = alloc(), alloc(), alloc()
	b.InvMass = alloc()
	for i := range b.InvInertia {
		b.InvInertia[i] = alloc()
	}
	return b
}

// BodyStore owns pose/velocity/inertia storage for every body, the stable
// handle<->index map, and the active/sleeping set split (spec §4.2).
// Ported from DynamicsB2Body.go (per-body fields) + DynamicsB2World.go
// (the body list), replacing the teacher's intrusive linked list with a
// dense active array plus a side table of sleeping islands.
type BodyStore struct {
	handles *handleTable[bodyLocation]

	active       []bodyRecord
	indexToHandle []BodyHandle

	islands []sleepingIsland

	// jacobiActive, when true, makes scatterVelocities accumulate into
	// jacobiSum (scaled per body by jacobiInvScale) instead of overwriting active body velocity
	// directly — the fallback batch's Jacobi-averaging requirement (spec
	// §4.5): each fallback constraint computes its velocity delta
	// independently, and deltas are averaged before being applied.
	jacobiActive   bool
	jacobiSum      map[int32][6]float64
	jacobiInvScale map[int32]float64
}

// sleepingIsland is a self-contained snapshot of a body subset, moved out
// of the active set once at rest (spec §4.8). Constraints referencing
// these bodies store handles, not indices, while sleeping.
type sleepingIsland struct {
	bodies        []bodyRecord
	indexToHandle []BodyHandle
	constraints   []constraintSnapshot
	freed         bool
}

func NewBodyStore(initialCapacity int) *BodyStore {
	return &BodyStore{
		handles:       newHandleTable[bodyLocation](initialCapacity),
		active:        make([]bodyRecord, 0, initialCapacity),
		indexToHandle: make([]BodyHandle, 0, initialCapacity),
	}
}

// AddBody allocates a new active body and returns its stable handle.
func (s *BodyStore) AddBody(desc BodyDescription) BodyHandle {
	index := int32(len(s.active))
	h := BodyHandle(s.handles.allocate(bodyLocation{set: setActive, index: index}))
	rec := newBodyRecord(h, desc)
	s.active = append(s.active, rec)
	s.indexToHandle = append(s.indexToHandle, h)
	return h
}

// RemoveBody swap-removes an active body, updating the reverse map for
// whichever body was moved into the freed slot (spec §4.2's
// allocate/remove contract). The caller is responsible for having already
// removed every constraint that referenced this body (spec §4.4's removal
// path does this via enumerateConnectedBodies).
func (s *BodyStore) RemoveBody(h BodyHandle) {
	loc, ok := s.handles.get(int32(h))
	assertf(ok && loc.set == setActive, "RemoveBody: handle %d is not an active body", h)

	last := int32(len(s.active)) - 1
	if loc.index != last {
		movedHandle := s.indexToHandle[last]
		s.active[loc.index] = s.active[last]
		s.indexToHandle[loc.index] = movedHandle
		movedLoc, _ := s.handles.get(int32(movedHandle))
		movedLoc.index = loc.index
		s.handles.set(int32(movedHandle), movedLoc)
	}
	s.active = s.active[:last]
	s.indexToHandle = s.indexToHandle[:last]
	s.handles.free(int32(h))
}

// HandleToLocation exposes a body's current (set, index) for callers that
// need to translate a handle into a storage slot (e.g. constraint
// allocation, sleep/wake).
func (s *BodyStore) HandleToLocation(h BodyHandle) (bodySet, int32, bool) {
	loc, ok := s.handles.get(int32(h))
	if !ok {
		return 0, 0, false
	}
	return loc.set, loc.index, true
}

func (s *BodyStore) activeRecord(index int32) *bodyRecord {
	return &s.active[index]
}

// Description returns the current description of an active body.
func (s *BodyStore) Description(h BodyHandle) (BodyDescription, bool) {
	set, idx, ok := s.HandleToLocation(h)
	if !ok || set != setActive {
		return BodyDescription{}, false
	}
	return s.active[idx].desc, true
}

// SetDescription overwrites an active body's description (spec §6).
func (s *BodyStore) SetDescription(h BodyHandle, desc BodyDescription) {
	set, idx, ok := s.HandleToLocation(h)
	assertf(ok && set == setActive, "SetDescription: handle %d is not an active body", h)
	s.active[idx].desc = desc
	s.active[idx].worldInverseInertia = worldInverseInertia(desc.LocalInverseInertia, desc.Orientation)
}

// gatherState gathers W active-body indices into a bundle, applying
// filter to skip fields the caller declared it won't read (spec §4.2).
func (s *BodyStore) gatherState(out *bodyStateBundle, indices [8]int32, validLanes int, filter GatherFilter) {
	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		rec := &s.active[indices[lane]]
		if filter != GatherAngularOnly {
			out.PosX[lane], out.PosY[lane], out.PosZ[lane] = rec.desc.Position[0], rec.desc.Position[1], rec.desc.Position[2]
			out.VelX[lane], out.VelY[lane], out.VelZ[lane] = rec.desc.LinearVelocity[0], rec.desc.LinearVelocity[1], rec.desc.LinearVelocity[2]
			out.InvMass[lane] = rec.desc.InverseMass
			if s.jacobiActive {
				if scale, ok := s.jacobiInvScale[indices[lane]]; ok {
					out.InvMass[lane] *= scale
				}
			}
		}
		if filter != GatherLinearOnly {
			out.OriW[lane], out.OriX[lane], out.OriY[lane], out.OriZ[lane] = rec.desc.Orientation.W, rec.desc.Orientation.V[0], rec.desc.Orientation.V[1], rec.desc.Orientation.V[2]
			out.AngX[lane], out.AngY[lane], out.AngZ[lane] = rec.desc.AngularVelocity[0], rec.desc.AngularVelocity[1], rec.desc.AngularVelocity[2]
			m := rec.worldInverseInertia
			scale := 1.0
			if s.jacobiActive {
				if sc, ok := s.jacobiInvScale[indices[lane]]; ok {
					scale = sc
				}
			}
			for r := 0; r < 3; r++ {
				for c := 0; c < 3; c++ {
					out.InvInertia[r*3+c][lane] = m.At(r, c) * scale
				}
			}
		}
	}
	for lane := validLanes; lane < LaneWidth; lane++ {
		// Inactive lanes of a partial bundle: zeroed so kernels producing
		// side effects from them (a bug) show up as zero impulses rather
		// than garbage, though correctness relies on masking, not this.
		out.InvMass[lane] = 0
	}
}

// scatterVelocities writes back linear/angular velocity for the lanes in
// mask (spec §4.2's per-lane mask scatter).
func (s *BodyStore) scatterVelocities(indices [8]int32, validLanes int, vx, vy, vz, wx, wy, wz []float64, mask laneMask) {
	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		if !mask[lane] {
			continue
		}
		idx := indices[lane]
		rec := &s.active[idx]
		if s.jacobiActive {
			base := rec.desc.LinearVelocity
			baseW := rec.desc.AngularVelocity
			delta := [6]float64{vx[lane] - base[0], vy[lane] - base[1], vz[lane] - base[2], wx[lane] - baseW[0], wy[lane] - baseW[1], wz[lane] - baseW[2]}
			sum := s.jacobiSum[idx]
			for i := 0; i < 6; i++ {
				sum[i] += delta[i]
			}
			s.jacobiSum[idx] = sum
			continue
		}
		rec.desc.LinearVelocity = mgl64.Vec3{vx[lane], vy[lane], vz[lane]}
		rec.desc.AngularVelocity = mgl64.Vec3{wx[lane], wy[lane], wz[lane]}
	}
}

// beginJacobi arms Jacobi-accumulation mode for the fallback batch's solve
// iteration: scatterVelocities accumulates deltas from the unmodified base
// state read by gatherState instead of overwriting it, and invMassScale
// gives each referenced body's 1/k inverse-mass/inertia scale (spec §4.5).
func (s *BodyStore) beginJacobi(invMassScale map[int32]float64) {
	s.jacobiActive = true
	s.jacobiInvScale = invMassScale
	s.jacobiSum = make(map[int32][6]float64, len(invMassScale))
}

// endJacobi applies the accumulated, already-1/k-scaled velocity deltas to
// every body touched this iteration, then disarms Jacobi mode.
func (s *BodyStore) endJacobi() {
	for idx, sum := range s.jacobiSum {
		rec := &s.active[idx]
		rec.desc.LinearVelocity[0] += sum[0]
		rec.desc.LinearVelocity[1] += sum[1]
		rec.desc.LinearVelocity[2] += sum[2]
		rec.desc.AngularVelocity[0] += sum[3]
		rec.desc.AngularVelocity[1] += sum[4]
		rec.desc.AngularVelocity[2] += sum[5]
	}
	s.jacobiActive = false
	s.jacobiSum = nil
	s.jacobiInvScale = nil
}

// scatterPose writes back position/orientation for the lanes in mask, and
// refreshes world inverse inertia from the new orientation (spec §4.7's
// integration contract: "then the world inertia tensor is recomputed").
func (s *BodyStore) scatterPose(indices [8]int32, validLanes int, px, py, pz, ow, ox, oy, oz []float64, mask laneMask) {
	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		if !mask[lane] {
			continue
		}
		rec := &s.active[indices[lane]]
		rec.desc.Position = mgl64.Vec3{px[lane], py[lane], pz[lane]}
		rec.desc.Orientation = mgl64.Quat{W: ow[lane], V: mgl64.Vec3{ox[lane], oy[lane], oz[lane]}}
		rec.worldInverseInertia = worldInverseInertia(rec.desc.LocalInverseInertia, rec.desc.Orientation)
	}
}

// ActiveCount returns the number of bodies currently in the active set.
func (s *BodyStore) ActiveCount() int { return len(s.active) }
