package bepu

import "github.com/go-gl/mathgl/mgl64"

// GearMotorPrestep is the per-constraint description for a 1-DOF angular
// gear motor: it drives bodyB's angular velocity about Axis to track
// bodyA's, scaled by GearRatio plus TargetRelativeVelocity, clamped to
// MaxTorque. Ported from DynamicsB2JointMotor.go's angular friction block
// ("Cdot = w2-w1; J=[0 0 -1 0 0 1]; K=invI1+invI2"), generalized from the
// 2D joint's implicit out-of-plane axis to an explicit world axis and a
// non-unit gear ratio.
type GearMotorPrestep struct {
	AxisX, AxisY, AxisZ          scalarBundle
	GearRatio                    scalarBundle
	TargetRelativeVelocity       scalarBundle
	MaxTorque                    scalarBundle
}

func newGearMotorPrestep(capacityBundles int) *GearMotorPrestep {
	p := &GearMotorPrestep{}
	p.growColumns(capacityBundles)
	return p
}

func (p *GearMotorPrestep) fields() []*scalarBundle {
	return []*scalarBundle{&p.AxisX, &p.AxisY, &p.AxisZ, &p.GearRatio, &p.TargetRelativeVelocity, &p.MaxTorque}
}

func (p *GearMotorPrestep) growColumns(capacityBundles int) { growAll(capacityBundles, p.fields()...) }
func (p *GearMotorPrestep) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, p.fields()...) }
func (p *GearMotorPrestep) clearLane(i int)                 { clearAll(i, p.fields()...) }
func (p *GearMotorPrestep) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*GearMotorPrestep)
	copyAll(dstIndex, srcIndex, p.fields(), s.fields())
}

// GearMotorImpulse accumulates the single scalar impulse along Axis.
type GearMotorImpulse struct {
	Value scalarBundle
}

func newGearMotorImpulse(capacityBundles int) *GearMotorImpulse {
	im := &GearMotorImpulse{}
	im.growColumns(capacityBundles)
	return im
}

func (im *GearMotorImpulse) fields() []*scalarBundle  { return []*scalarBundle{&im.Value} }
func (im *GearMotorImpulse) growColumns(capacityBundles int) { growAll(capacityBundles, im.fields()...) }
func (im *GearMotorImpulse) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, im.fields()...) }
func (im *GearMotorImpulse) clearLane(i int)                 { clearAll(i, im.fields()...) }
func (im *GearMotorImpulse) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*GearMotorImpulse)
	copyAll(dstIndex, srcIndex, im.fields(), s.fields())
}

// SetGearMotorDescription writes constraint index's axis (normalized),
// gear ratio, target relative angular velocity, and torque limit.
func SetGearMotorDescription(tb *TypeBatch[*GearMotorPrestep, *GearMotorImpulse], index int32, axis mgl64.Vec3, gearRatio, targetRelativeVelocity, maxTorque float64) {
	axis = axis.Normalize()
	writeFirstLane(&tb.prestep.AxisX, int(index), axis[0])
	writeFirstLane(&tb.prestep.AxisY, int(index), axis[1])
	writeFirstLane(&tb.prestep.AxisZ, int(index), axis[2])
	writeFirstLane(&tb.prestep.GearRatio, int(index), gearRatio)
	writeFirstLane(&tb.prestep.TargetRelativeVelocity, int(index), targetRelativeVelocity)
	writeFirstLane(&tb.prestep.MaxTorque, int(index), maxTorque)
}

// AddGearMotor registers a gear-motor constraint driving bodyB's angular
// velocity about axis to gearRatio*bodyA's plus targetRelativeVelocity,
// clamped to maxTorque.
func (s *Solver) AddGearMotor(bodyA, bodyB BodyHandle, axis mgl64.Vec3, gearRatio, targetRelativeVelocity, maxTorque float64) ConstraintHandle {
	proc, index, handle := s.AddConstraint(s.typeIDs.gearMotor, []BodyHandle{bodyA, bodyB})
	SetGearMotorDescription(proc.(*TypeBatch[*GearMotorPrestep, *GearMotorImpulse]), index, axis, gearRatio, targetRelativeVelocity, maxTorque)
	return handle
}

// gearMotorBundle computes one bundle's motor impulse. The angular-velocity
// dot products and the final impulse clamp are computed bundle-wide via
// simdops.go's hwy-backed helpers (bundleDot3, bundleClampMagnitude)
// instead of per-lane, since both are exactly the pointwise shape those
// helpers cover; the 3x3 world-inverse-inertia projection (axis.invI.axis)
// stays a per-lane loop because it is a full matrix-vector product per
// lane, not a shape go-highway's public surface in this pack expresses.
func gearMotorBundle(tb *TypeBatch[*GearMotorPrestep, *GearMotorImpulse], bodies *BodyStore, h float64, bundleIndex int, warmStartOnly bool) {
	bodyA, bodyB := tb.bundleBodyIndices(0, bundleIndex), tb.bundleBodyIndices(1, bundleIndex)
	validLanes := tb.validLanesInBundle(bundleIndex)

	stateA, stateB := newBodyStateBundle(), newBodyStateBundle()
	bodies.gatherState(stateA, bodyA, validLanes, GatherAll)
	bodies.gatherState(stateB, bodyB, validLanes, GatherAll)

	axisX, axisY, axisZ := tb.prestep.AxisX.bundle(bundleIndex), tb.prestep.AxisY.bundle(bundleIndex), tb.prestep.AxisZ.bundle(bundleIndex)
	gearRatio := tb.prestep.GearRatio.bundle(bundleIndex)
	target := tb.prestep.TargetRelativeVelocity.bundle(bundleIndex)
	maxTorque := tb.prestep.MaxTorque.bundle(bundleIndex)
	impulse := tb.impulse.Value.bundle(bundleIndex)

	outAngA := [3][]float64{stateA.AngX, stateA.AngY, stateA.AngZ}
	outAngB := [3][]float64{stateB.AngX, stateB.AngY, stateB.AngZ}

	p := make([]float64, LaneWidth)

	if warmStartOnly {
		copy(p, impulse)
	} else {
		angADotAxis := bundleDot3(stateA.AngX, stateA.AngY, stateA.AngZ, axisX, axisY, axisZ)
		angBDotAxis := bundleDot3(stateB.AngX, stateB.AngY, stateB.AngZ, axisX, axisY, axisZ)

		old := append([]float64(nil), impulse...)
		proposed := append([]float64(nil), old...)
		limit := make([]float64, LaneWidth)
		for lane := range limit {
			limit[lane] = maxFloat
		}

		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			axis := mgl64.Vec3{axisX[lane], axisY[lane], axisZ[lane]}
			invInertiaA := mat3FromBundle(stateA.InvInertia, lane)
			invInertiaB := mat3FromBundle(stateB.InvInertia, lane)
			ratio := gearRatio[lane]

			invIAAxis := axis.Dot(invInertiaA.Mul3x1(axis))
			invIBAxis := axis.Dot(invInertiaB.Mul3x1(axis))
			k := ratio*ratio*invIAAxis + invIBAxis
			if k <= 0 {
				continue
			}
			cdot := angBDotAxis[lane] - ratio*angADotAxis[lane] - target[lane]
			proposed[lane] = old[lane] - cdot/k
			limit[lane] = maxTorque[lane] * h
		}

		clamped := bundleClampMagnitude(proposed, limit)
		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			impulse[lane] = clamped[lane]
			p[lane] = clamped[lane] - old[lane]
		}
	}

	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		axis := mgl64.Vec3{axisX[lane], axisY[lane], axisZ[lane]}
		invInertiaA := mat3FromBundle(stateA.InvInertia, lane)
		invInertiaB := mat3FromBundle(stateB.InvInertia, lane)
		ratio := gearRatio[lane]

		angA := mgl64.Vec3{outAngA[0][lane], outAngA[1][lane], outAngA[2][lane]}
		angB := mgl64.Vec3{outAngB[0][lane], outAngB[1][lane], outAngB[2][lane]}
		angA = angA.Sub(invInertiaA.Mul3x1(axis.Mul(p[lane] * ratio)))
		angB = angB.Add(invInertiaB.Mul3x1(axis.Mul(p[lane])))
		outAngA[0][lane], outAngA[1][lane], outAngA[2][lane] = angA[0], angA[1], angA[2]
		outAngB[0][lane], outAngB[1][lane], outAngB[2][lane] = angB[0], angB[1], angB[2]
	}

	mask := fullMask()
	bodies.scatterVelocities(bodyA, validLanes, stateA.VelX, stateA.VelY, stateA.VelZ, outAngA[0], outAngA[1], outAngA[2], mask)
	bodies.scatterVelocities(bodyB, validLanes, stateB.VelX, stateB.VelY, stateB.VelZ, outAngB[0], outAngB[1], outAngB[2], mask)
}

func gearMotorWarmStart(tb *TypeBatch[*GearMotorPrestep, *GearMotorImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		gearMotorBundle(tb, bodies, h, bundleIndex, true)
	}
}

func gearMotorSolve(tb *TypeBatch[*GearMotorPrestep, *GearMotorImpulse], bodies *BodyStore, iterationCount int, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		gearMotorBundle(tb, bodies, h, bundleIndex, false)
	}
}

func gearMotorWarmStartIntegrating(tb *TypeBatch[*GearMotorPrestep, *GearMotorImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int, mask func(bundleIndex, bodySlot int) laneMask, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA, bodyB := tb.bundleBodyIndices(0, bundleIndex), tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		integrateLanes(bodies, bodyA, validLanes, mask(bundleIndex, 0), h, integrator, angularMode, workerIndex)
		integrateLanes(bodies, bodyB, validLanes, mask(bundleIndex, 1), h, integrator, angularMode, workerIndex)
		gearMotorBundle(tb, bodies, h, bundleIndex, true)
	}
}

func registerGearMotorKernel(registry *TypeRegistry) int32 {
	kernel := Kernel[*GearMotorPrestep, *GearMotorImpulse]{
		WarmStart:            gearMotorWarmStart,
		WarmStartIntegrating: gearMotorWarmStartIntegrating,
		Solve:                gearMotorSolve,
	}
	return registry.Register(func(initialCapacity int) TypeProcessor {
		bundles := bundleCount(initialCapacity)
		return newTypeBatch(int32(0), 2, initialCapacity, newGearMotorPrestep(bundles), newGearMotorImpulse(bundles), kernel)
	})
}
