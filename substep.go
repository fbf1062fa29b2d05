package bepu

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
)

// integrationPlan is spec §4.7's precomputed, once-per-frame integration
// responsibility assignment: for each batch, which body handles are
// observed there for the first time this frame.
type integrationPlan struct {
	firstObserved    []*indexSet
	anyFlag          []bool
	fallbackObserved *indexSet
	fallbackAny      bool
}

func referencedHandleSet(batch *constraintBatch, bodies *BodyStore) *indexSet {
	set := newIndexSet()
	for _, proc := range batch.processors {
		n := proc.Count()
		for i := int32(0); i < n; i++ {
			proc.EnumerateConnectedBodies(i, func(_ int, bodyIndex int32) {
				if int(bodyIndex) < len(bodies.indexToHandle) {
					set.Set(int(bodies.indexToHandle[bodyIndex]))
				}
			})
		}
	}
	return set
}

// computeIntegrationPlan implements spec §4.7 steps 1-3: firstObserved per
// batch via AndNot against the running union, a coarse "any" flag per
// batch, and the conservative fallback rule (REDESIGN/Open Question
// resolution in DESIGN.md): a body is only the fallback's responsibility
// if no non-fallback batch observes it at all.
func computeIntegrationPlan(bs *batchSet, bodies *BodyStore) *integrationPlan {
	plan := &integrationPlan{
		firstObserved: make([]*indexSet, len(bs.batches)),
		anyFlag:       make([]bool, len(bs.batches)),
	}
	unionSoFar := newIndexSet()
	for i, b := range bs.batches {
		fo := b.referenced.AndNot(unionSoFar)
		plan.firstObserved[i] = fo
		plan.anyFlag[i] = fo.Any()
		unionSoFar.Union(b.referenced)
	}
	fallbackReferenced := referencedHandleSet(bs.fallback, bodies)
	plan.fallbackObserved = fallbackReferenced.AndNot(unionSoFar)
	plan.fallbackAny = plan.fallbackObserved.Any()
	return plan
}

// maskFor builds the per-(bundle,bodySlot) integration mask a kernel's
// WarmStartIntegrating needs, by asking proc which body each lane
// references in that slot and checking observed for its handle.
func maskFor(proc TypeProcessor, bodies *BodyStore, observed *indexSet) func(bundleIndex, bodySlot int) laneMask {
	return func(bundleIndex, bodySlot int) laneMask {
		var m laneMask
		base := int32(bundleIndex * LaneWidth)
		count := proc.Count()
		for lane := 0; lane < LaneWidth; lane++ {
			index := base + int32(lane)
			if index >= count {
				break
			}
			var bodyIndex int32 = -1
			proc.EnumerateConnectedBodies(index, func(slot int, bi int32) {
				if slot == bodySlot {
					bodyIndex = bi
				}
			})
			if bodyIndex < 0 || int(bodyIndex) >= len(bodies.indexToHandle) {
				continue
			}
			m[lane] = observed.Contains(int(bodies.indexToHandle[bodyIndex]))
		}
		return m
	}
}

// integrateLanes is the shared "integration contract" of spec §4.7,
// reused by every constraint type's WarmStartIntegrating kernel so the
// pose-advance / user-callback / inertia-refresh / scatter sequence is
// written exactly once: "pose is advanced by h*linearVelocity and
// orientation by the half-step quaternion of angularVelocity...; then the
// user callback mutates velocity; then the world inertia tensor is
// recomputed...; then the updated pose, velocity, and world inertia are
// scattered back. Lanes not responsible must be left bit-identical."
func integrateLanes(bodies *BodyStore, bodyIndices [8]int32, validLanes int, mask laneMask, h float64, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int) {
	if !mask.any() {
		return
	}
	state := newBodyStateBundle()
	bodies.gatherState(state, bodyIndices, validLanes, GatherAll)

	// Position advances by a uniform scale (h) across every lane, so it is
	// computed into a wide candidate via bundleAddScaled rather than a
	// per-lane loop. Orientation and the gyroscopic angular update stay
	// per-lane (quaternion and Mat3.Mul3x1 have no bundle-wide form here),
	// but are still computed into full candidate bundles first. Both are
	// then blended against the unmodified state with bundleSelect, the
	// "compute into a wide register; then blend" sequence spec §9
	// describes and bundleSelect's own doc comment names this exact use
	// (per-body integration responsibility, spec §4.7).
	hScale := make([]float64, LaneWidth)
	for lane := range hScale {
		hScale[lane] = h
	}
	candPosX := bundleAddScaled(state.PosX, state.VelX, hScale)
	candPosY := bundleAddScaled(state.PosY, state.VelY, hScale)
	candPosZ := bundleAddScaled(state.PosZ, state.VelZ, hScale)

	candOriW := make([]float64, LaneWidth)
	candOriX := make([]float64, LaneWidth)
	candOriY := make([]float64, LaneWidth)
	candOriZ := make([]float64, LaneWidth)
	candAngX := make([]float64, LaneWidth)
	candAngY := make([]float64, LaneWidth)
	candAngZ := make([]float64, LaneWidth)

	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		if !mask[lane] {
			continue
		}
		ori := mgl64.Quat{W: state.OriW[lane], V: mgl64.Vec3{state.OriX[lane], state.OriY[lane], state.OriZ[lane]}}
		ang := mgl64.Vec3{state.AngX[lane], state.AngY[lane], state.AngZ[lane]}

		if angularMode == ConserveMomentumWithGyroscopicTorque {
			invInertia := mgl64.Mat3{
				state.InvInertia[0][lane], state.InvInertia[1][lane], state.InvInertia[2][lane],
				state.InvInertia[3][lane], state.InvInertia[4][lane], state.InvInertia[5][lane],
				state.InvInertia[6][lane], state.InvInertia[7][lane], state.InvInertia[8][lane],
			}
			ang = ang.Sub(invInertia.Mul3x1(ang.Cross(symInverse3(invInertia).Mul3x1(ang))).Mul(h))
		}

		ori = integrateOrientationHalfStep(ori, ang, h)

		candOriW[lane], candOriX[lane], candOriY[lane], candOriZ[lane] = ori.W, ori.V[0], ori.V[1], ori.V[2]
		candAngX[lane], candAngY[lane], candAngZ[lane] = ang[0], ang[1], ang[2]
	}

	state.PosX, state.PosY, state.PosZ = bundleSelect(mask, candPosX, state.PosX), bundleSelect(mask, candPosY, state.PosY), bundleSelect(mask, candPosZ, state.PosZ)
	state.OriW, state.OriX, state.OriY, state.OriZ = bundleSelect(mask, candOriW, state.OriW), bundleSelect(mask, candOriX, state.OriX), bundleSelect(mask, candOriY, state.OriY), bundleSelect(mask, candOriZ, state.OriZ)
	state.AngX, state.AngY, state.AngZ = bundleSelect(mask, candAngX, state.AngX), bundleSelect(mask, candAngY, state.AngY), bundleSelect(mask, candAngZ, state.AngZ)

	integrator(bodyIndices,
		[3][]float64{state.PosX, state.PosY, state.PosZ},
		[4][]float64{state.OriW, state.OriX, state.OriY, state.OriZ},
		state.InvInertia,
		mask, workerIndex, h,
		[3][]float64{state.VelX, state.VelY, state.VelZ},
		[3][]float64{state.AngX, state.AngY, state.AngZ},
	)

	bodies.scatterPose(bodyIndices, validLanes, state.PosX, state.PosY, state.PosZ, state.OriW, state.OriX, state.OriY, state.OriZ, mask)
	bodies.scatterVelocities(bodyIndices, validLanes, state.VelX, state.VelY, state.VelZ, state.AngX, state.AngY, state.AngZ, mask)
}

func (m laneMask) any() bool {
	for _, v := range m {
		if v {
			return true
		}
	}
	return false
}

// SubstepDriver owns the sub-stepping loop. Each sub-step starts by
// integrating the bodies no constraint references, then runs warm-start
// in batch-index order (each constrained body's pose advance and
// integrator callback fused into the warm-start of the first batch that
// references it), then the fallback warm-start, then the solve
// iterations, via the Scheduler. Nothing is integrated at the tail of a
// Step: after the last solve, positions have not yet been advanced by the
// solved velocities; that happens at the head of the next Step's first
// sub-step, together with that sub-step's velocity update.
type SubstepDriver struct {
	Scheduler   *Scheduler
	Registry    *TypeRegistry
	Integrator  IntegratorCallback
	AngularMode AngularIntegrationMode
	Iterations  int
}

// Step advances the active body set by dt across substepCount sub-steps
// (spec §4.7's "velocity-integrate -> warm-start(batch 0..K) ->
// solve(batch 0..K) -> pose-integrate", reindexed so integration is fused
// into each batch's own warm-start pass instead of standing as separate
// phases). ctx is accepted but never read: it is not handed to the
// Scheduler, and no cancellation is observed anywhere in Step.
func (d *SubstepDriver) Step(ctx context.Context, bs *batchSet, bodies *BodyStore, dt float64, substepCount int) {
	if substepCount < 1 {
		substepCount = 1
	}
	h := dt / float64(substepCount)
	invH := 0.0
	if h > 0 {
		invH = 1.0 / h
	}

	for sub := 0; sub < substepCount; sub++ {
		plan := computeIntegrationPlan(bs, bodies)

		// Bodies that no constraint references are integrated here, in
		// groups of up to LaneWidth, since no warm-start pass reaches them.
		var loose [8]int32
		looseCount := 0
		for index, handle := range bodies.indexToHandle {
			referenced := plan.fallbackObserved.Contains(int(handle))
			for _, fo := range plan.firstObserved {
				referenced = referenced || fo.Contains(int(handle))
			}
			if !referenced {
				loose[looseCount], looseCount = int32(index), looseCount+1
			}
			if looseCount == LaneWidth || (looseCount > 0 && index == len(bodies.indexToHandle)-1) {
				integrateLanes(bodies, loose, looseCount, tailMaskFor(looseCount), h, d.Integrator, d.AngularMode, 0)
				looseCount = 0
			}
		}

		for i, batch := range bs.batches {
			if !plan.anyFlag[i] {
				d.Scheduler.RunStage(batch, func(proc TypeProcessor, start, end int) {
					proc.WarmStart(bodies, h, invH, start, end)
				})
				continue
			}
			observed := plan.firstObserved[i]
			d.Scheduler.RunStage(batch, func(proc TypeProcessor, start, end int) {
				proc.WarmStartIntegrating(bodies, h, invH, start, end, maskFor(proc, bodies, observed), d.Integrator, d.AngularMode, 0)
			})
		}

		if plan.fallbackAny {
			warmStartFallbackIntegrating(bs.fallback, bodies, h, invH, plan.fallbackObserved, d.Integrator, d.AngularMode)
		} else {
			warmStartFallback(bs.fallback, bodies, h, invH)
		}

		for iter := 0; iter < d.Iterations; iter++ {
			for _, batch := range bs.batches {
				d.Scheduler.RunStage(batch, func(proc TypeProcessor, start, end int) {
					proc.Solve(bodies, d.Iterations, h, invH, start, end)
				})
			}
			solveFallback(bs.fallback, bodies, h, invH)
		}
	}
}

// warmStartFallbackIntegrating is warmStartFallback's counterpart for the
// rare case where a body is exclusively referenced by the fallback batch
// (spec §4.8's edge case, REDESIGN FLAGS conservative rule).
func warmStartFallbackIntegrating(fallback *constraintBatch, bodies *BodyStore, h, invH float64, observed *indexSet, integrator IntegratorCallback, angularMode AngularIntegrationMode) {
	scale := fallbackReferenceCounts(fallback)
	if len(scale) == 0 {
		return
	}
	bodies.beginJacobi(scale)
	for _, proc := range fallback.processors {
		bundles := proc.BundleCount()
		if bundles == 0 {
			continue
		}
		proc.WarmStartIntegrating(bodies, h, invH, 0, bundles, maskFor(proc, bodies, observed), integrator, angularMode, 0)
	}
	bodies.endJacobi()
}
