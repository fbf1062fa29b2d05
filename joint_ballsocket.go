package bepu

import "github.com/go-gl/mathgl/mgl64"

// BallSocketPrestep is the per-constraint description for a ball-socket
// joint: a pure 3-DOF point constraint pinning a local anchor on A to a
// local anchor on B, free to rotate (spec §8's reference catalogue).
// Ported from DynamicsB2JointWeld.go's point-to-point half, with the
// angular-glue half dropped — that is what distinguishes it from Weld.
type BallSocketPrestep struct {
	LocalAnchorAX, LocalAnchorAY, LocalAnchorAZ scalarBundle
	LocalAnchorBX, LocalAnchorBY, LocalAnchorBZ scalarBundle
}

func newBallSocketPrestep(capacityBundles int) *BallSocketPrestep {
	p := &BallSocketPrestep{}
	p.growColumns(capacityBundles)
	return p
}

func (p *BallSocketPrestep) fields() []*scalarBundle {
	return []*scalarBundle{&p.LocalAnchorAX, &p.LocalAnchorAY, &p.LocalAnchorAZ, &p.LocalAnchorBX, &p.LocalAnchorBY, &p.LocalAnchorBZ}
}

func (p *BallSocketPrestep) growColumns(capacityBundles int) { growAll(capacityBundles, p.fields()...) }
func (p *BallSocketPrestep) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, p.fields()...) }
func (p *BallSocketPrestep) clearLane(i int)                 { clearAll(i, p.fields()...) }
func (p *BallSocketPrestep) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*BallSocketPrestep)
	copyAll(dstIndex, srcIndex, p.fields(), s.fields())
}

// BallSocketImpulse is the accumulated 3-component point impulse, warm-
// started every sub-step.
type BallSocketImpulse struct {
	X, Y, Z scalarBundle
}

func newBallSocketImpulse(capacityBundles int) *BallSocketImpulse {
	im := &BallSocketImpulse{}
	im.growColumns(capacityBundles)
	return im
}

func (im *BallSocketImpulse) fields() []*scalarBundle { return []*scalarBundle{&im.X, &im.Y, &im.Z} }
func (im *BallSocketImpulse) growColumns(capacityBundles int) { growAll(capacityBundles, im.fields()...) }
func (im *BallSocketImpulse) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, im.fields()...) }
func (im *BallSocketImpulse) clearLane(i int)                 { clearAll(i, im.fields()...) }
func (im *BallSocketImpulse) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*BallSocketImpulse)
	copyAll(dstIndex, srcIndex, im.fields(), s.fields())
}

// SetBallSocketDescription writes constraint index's local anchors. index
// must have just come back from a ball-socket AddConstraint call.
func SetBallSocketDescription(tb *TypeBatch[*BallSocketPrestep, *BallSocketImpulse], index int32, localAnchorA, localAnchorB mgl64.Vec3) {
	writeFirstLane(&tb.prestep.LocalAnchorAX, int(index), localAnchorA[0])
	writeFirstLane(&tb.prestep.LocalAnchorAY, int(index), localAnchorA[1])
	writeFirstLane(&tb.prestep.LocalAnchorAZ, int(index), localAnchorA[2])
	writeFirstLane(&tb.prestep.LocalAnchorBX, int(index), localAnchorB[0])
	writeFirstLane(&tb.prestep.LocalAnchorBY, int(index), localAnchorB[1])
	writeFirstLane(&tb.prestep.LocalAnchorBZ, int(index), localAnchorB[2])
}

// AddBallSocketJoint registers a ball-socket constraint between bodyA's
// localAnchorA and bodyB's localAnchorB.
func (s *Solver) AddBallSocketJoint(bodyA, bodyB BodyHandle, localAnchorA, localAnchorB mgl64.Vec3) ConstraintHandle {
	proc, index, handle := s.AddConstraint(s.typeIDs.ballSocket, []BodyHandle{bodyA, bodyB})
	SetBallSocketDescription(proc.(*TypeBatch[*BallSocketPrestep, *BallSocketImpulse]), index, localAnchorA, localAnchorB)
	return handle
}

// pointConstraintMode selects whether pointConstraintBundle re-derives a
// fresh impulse from the current velocity error (solve) or simply
// reapplies whatever is already accumulated (warm start).
type pointConstraintMode int

const (
	pointWarmStart pointConstraintMode = iota
	pointSolve
)

// pointConstraintBundle is the shared 3-DOF point-constraint math used by
// both BallSocket and the linear half of Weld: one bundle's worth of
// gather -> effective mass -> (optional bias) -> impulse -> scatter,
// ported algebraically from DynamicsB2JointWeld.go's point block (lifted
// from its 2x2 planar K to a full 3x3 K via skew(r)*Iinv*skew(r), the
// standard rigid-body point-constraint effective mass also seen in
// akmonengine-feather's contact effective-mass formula).
func pointConstraintBundle(bodies *BodyStore, bodyA, bodyB [8]int32, validLanes int, anchorA, anchorB *[3][]float64, impulse *[3][]float64, h, invH float64, mode pointConstraintMode) {
	stateA, stateB := newBodyStateBundle(), newBodyStateBundle()
	bodies.gatherState(stateA, bodyA, validLanes, GatherAll)
	bodies.gatherState(stateB, bodyB, validLanes, GatherAll)

	outVelA := [3][]float64{stateA.VelX, stateA.VelY, stateA.VelZ}
	outAngA := [3][]float64{stateA.AngX, stateA.AngY, stateA.AngZ}
	outVelB := [3][]float64{stateB.VelX, stateB.VelY, stateB.VelZ}
	outAngB := [3][]float64{stateB.AngX, stateB.AngY, stateB.AngZ}

	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		posA := mgl64.Vec3{stateA.PosX[lane], stateA.PosY[lane], stateA.PosZ[lane]}
		oriA := mgl64.Quat{W: stateA.OriW[lane], V: mgl64.Vec3{stateA.OriX[lane], stateA.OriY[lane], stateA.OriZ[lane]}}
		linA := mgl64.Vec3{outVelA[0][lane], outVelA[1][lane], outVelA[2][lane]}
		angA := mgl64.Vec3{outAngA[0][lane], outAngA[1][lane], outAngA[2][lane]}
		invMassA := stateA.InvMass[lane]
		invInertiaA := mat3FromBundle(stateA.InvInertia, lane)

		posB := mgl64.Vec3{stateB.PosX[lane], stateB.PosY[lane], stateB.PosZ[lane]}
		oriB := mgl64.Quat{W: stateB.OriW[lane], V: mgl64.Vec3{stateB.OriX[lane], stateB.OriY[lane], stateB.OriZ[lane]}}
		linB := mgl64.Vec3{outVelB[0][lane], outVelB[1][lane], outVelB[2][lane]}
		angB := mgl64.Vec3{outAngB[0][lane], outAngB[1][lane], outAngB[2][lane]}
		invMassB := stateB.InvMass[lane]
		invInertiaB := mat3FromBundle(stateB.InvInertia, lane)

		localAnchorA := mgl64.Vec3{anchorA[0][lane], anchorA[1][lane], anchorA[2][lane]}
		localAnchorB := mgl64.Vec3{anchorB[0][lane], anchorB[1][lane], anchorB[2][lane]}
		rA := oriA.Mat4().Mat3().Mul3x1(localAnchorA)
		rB := oriB.Mat4().Mat3().Mul3x1(localAnchorB)

		var p mgl64.Vec3
		switch mode {
		case pointWarmStart:
			p = mgl64.Vec3{impulse[0][lane], impulse[1][lane], impulse[2][lane]}
		case pointSolve:
			skewA, skewB := skewMat3(rA), skewMat3(rB)
			identity := mgl64.Ident3()
			k := identity.Mul(invMassA + invMassB)
			k = k.Sub(skewA.Mul3(invInertiaA).Mul3(skewA))
			k = k.Sub(skewB.Mul3(invInertiaB).Mul3(skewB))

			velA := linA.Add(angA.Cross(rA))
			velB := linB.Add(angB.Cross(rB))
			c := posB.Add(rB).Sub(posA.Add(rA))
			bias := c.Mul(baumgarte * invH)
			cdot := velB.Sub(velA).Add(bias)
			p = symInverse3(k).Mul3x1(cdot).Mul(-1)

			impulse[0][lane] += p[0]
			impulse[1][lane] += p[1]
			impulse[2][lane] += p[2]
		}

		linA = linA.Sub(p.Mul(invMassA))
		angA = angA.Sub(invInertiaA.Mul3x1(rA.Cross(p)))
		linB = linB.Add(p.Mul(invMassB))
		angB = angB.Add(invInertiaB.Mul3x1(rB.Cross(p)))

		outVelA[0][lane], outVelA[1][lane], outVelA[2][lane] = linA[0], linA[1], linA[2]
		outAngA[0][lane], outAngA[1][lane], outAngA[2][lane] = angA[0], angA[1], angA[2]
		outVelB[0][lane], outVelB[1][lane], outVelB[2][lane] = linB[0], linB[1], linB[2]
		outAngB[0][lane], outAngB[1][lane], outAngB[2][lane] = angB[0], angB[1], angB[2]
	}

	mask := fullMask()
	bodies.scatterVelocities(bodyA, validLanes, outVelA[0], outVelA[1], outVelA[2], outAngA[0], outAngA[1], outAngA[2], mask)
	bodies.scatterVelocities(bodyB, validLanes, outVelB[0], outVelB[1], outVelB[2], outAngB[0], outAngB[1], outAngB[2], mask)
}

// mat3FromBundle reads lane's 3x3 tensor out of a gathered bodyStateBundle's
// row-major InvInertia columns.
func mat3FromBundle(invInertia [9][]float64, lane int) mgl64.Mat3 {
	return mgl64.Mat3{
		invInertia[0][lane], invInertia[1][lane], invInertia[2][lane],
		invInertia[3][lane], invInertia[4][lane], invInertia[5][lane],
		invInertia[6][lane], invInertia[7][lane], invInertia[8][lane],
	}
}

func ballSocketAnchors(tb *TypeBatch[*BallSocketPrestep, *BallSocketImpulse], bundleIndex int) (anchorA, anchorB *[3][]float64) {
	return &[3][]float64{
			tb.prestep.LocalAnchorAX.bundle(bundleIndex),
			tb.prestep.LocalAnchorAY.bundle(bundleIndex),
			tb.prestep.LocalAnchorAZ.bundle(bundleIndex),
		}, &[3][]float64{
			tb.prestep.LocalAnchorBX.bundle(bundleIndex),
			tb.prestep.LocalAnchorBY.bundle(bundleIndex),
			tb.prestep.LocalAnchorBZ.bundle(bundleIndex),
		}
}

func ballSocketImpulseColumns(tb *TypeBatch[*BallSocketPrestep, *BallSocketImpulse], bundleIndex int) *[3][]float64 {
	return &[3][]float64{tb.impulse.X.bundle(bundleIndex), tb.impulse.Y.bundle(bundleIndex), tb.impulse.Z.bundle(bundleIndex)}
}

func ballSocketWarmStart(tb *TypeBatch[*BallSocketPrestep, *BallSocketImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA := tb.bundleBodyIndices(0, bundleIndex)
		bodyB := tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		anchorA, anchorB := ballSocketAnchors(tb, bundleIndex)
		impulse := ballSocketImpulseColumns(tb, bundleIndex)
		pointConstraintBundle(bodies, bodyA, bodyB, validLanes, anchorA, anchorB, impulse, h, invH, pointWarmStart)
	}
}

func ballSocketSolve(tb *TypeBatch[*BallSocketPrestep, *BallSocketImpulse], bodies *BodyStore, iterationCount int, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA := tb.bundleBodyIndices(0, bundleIndex)
		bodyB := tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		anchorA, anchorB := ballSocketAnchors(tb, bundleIndex)
		impulse := ballSocketImpulseColumns(tb, bundleIndex)
		pointConstraintBundle(bodies, bodyA, bodyB, validLanes, anchorA, anchorB, impulse, h, invH, pointSolve)
	}
}

func ballSocketWarmStartIntegrating(tb *TypeBatch[*BallSocketPrestep, *BallSocketImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int, mask func(bundleIndex, bodySlot int) laneMask, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA := tb.bundleBodyIndices(0, bundleIndex)
		bodyB := tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		integrateLanes(bodies, bodyA, validLanes, mask(bundleIndex, 0), h, integrator, angularMode, workerIndex)
		integrateLanes(bodies, bodyB, validLanes, mask(bundleIndex, 1), h, integrator, angularMode, workerIndex)

		anchorA, anchorB := ballSocketAnchors(tb, bundleIndex)
		impulse := ballSocketImpulseColumns(tb, bundleIndex)
		pointConstraintBundle(bodies, bodyA, bodyB, validLanes, anchorA, anchorB, impulse, h, invH, pointWarmStart)
	}
}

func ballSocketKernel() Kernel[*BallSocketPrestep, *BallSocketImpulse] {
	return Kernel[*BallSocketPrestep, *BallSocketImpulse]{
		WarmStart:            ballSocketWarmStart,
		WarmStartIntegrating: ballSocketWarmStartIntegrating,
		Solve:                ballSocketSolve,
	}
}

// registerBallSocketKernel registers the ball-socket constraint type and
// returns its dense type id.
func registerBallSocketKernel(registry *TypeRegistry) int32 {
	kernel := ballSocketKernel()
	return registry.Register(func(initialCapacity int) TypeProcessor {
		bundles := bundleCount(initialCapacity)
		return newTypeBatch(int32(0), 2, initialCapacity, newBallSocketPrestep(bundles), newBallSocketImpulse(bundles), kernel)
	})
}
