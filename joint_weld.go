package bepu

import "github.com/go-gl/mathgl/mgl64"

// WeldPrestep is the per-constraint description for a weld joint: a point
// constraint (reusing BallSocket's math) plus an independent angular
// alignment block holding the relative orientation constant. Ported from
// DynamicsB2JointWeld.go's fully-coupled 2D point+angle weld; the 3D port
// here decouples the point and angular halves into two independent 3x3
// solves rather than reproducing box2d's single coupled 3x3 (2 linear + 1
// angular) system — a deliberate simplification recorded in DESIGN.md.
type WeldPrestep struct {
	LocalAnchorAX, LocalAnchorAY, LocalAnchorAZ scalarBundle
	LocalAnchorBX, LocalAnchorBY, LocalAnchorBZ scalarBundle
	// RelativeOrientation is qA0^-1 * qB0 at the moment the joint was
	// created, the angular alignment block's fixed target.
	RelativeOrientationW, RelativeOrientationX, RelativeOrientationY, RelativeOrientationZ scalarBundle
}

func newWeldPrestep(capacityBundles int) *WeldPrestep {
	p := &WeldPrestep{}
	p.growColumns(capacityBundles)
	return p
}

func (p *WeldPrestep) fields() []*scalarBundle {
	return []*scalarBundle{
		&p.LocalAnchorAX, &p.LocalAnchorAY, &p.LocalAnchorAZ,
		&p.LocalAnchorBX, &p.LocalAnchorBY, &p.LocalAnchorBZ,
		&p.RelativeOrientationW, &p.RelativeOrientationX, &p.RelativeOrientationY, &p.RelativeOrientationZ,
	}
}

func (p *WeldPrestep) growColumns(capacityBundles int) { growAll(capacityBundles, p.fields()...) }
func (p *WeldPrestep) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, p.fields()...) }
func (p *WeldPrestep) clearLane(i int)                 { clearAll(i, p.fields()...) }
func (p *WeldPrestep) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*WeldPrestep)
	copyAll(dstIndex, srcIndex, p.fields(), s.fields())
}

// WeldImpulse accumulates the point block's 3 components and the angular
// alignment block's 3 components separately, since the two blocks are
// solved as independent 3x3 systems.
type WeldImpulse struct {
	PointX, PointY, PointZ       scalarBundle
	AngularX, AngularY, AngularZ scalarBundle
}

func newWeldImpulse(capacityBundles int) *WeldImpulse {
	im := &WeldImpulse{}
	im.growColumns(capacityBundles)
	return im
}

func (im *WeldImpulse) fields() []*scalarBundle {
	return []*scalarBundle{&im.PointX, &im.PointY, &im.PointZ, &im.AngularX, &im.AngularY, &im.AngularZ}
}

func (im *WeldImpulse) growColumns(capacityBundles int) { growAll(capacityBundles, im.fields()...) }
func (im *WeldImpulse) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, im.fields()...) }
func (im *WeldImpulse) clearLane(i int)                 { clearAll(i, im.fields()...) }
func (im *WeldImpulse) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*WeldImpulse)
	copyAll(dstIndex, srcIndex, im.fields(), s.fields())
}

// SetWeldDescription writes constraint index's anchors and captures the
// current relative orientation of bodyA/bodyB as the block's fixed target.
func SetWeldDescription(tb *TypeBatch[*WeldPrestep, *WeldImpulse], index int32, localAnchorA, localAnchorB mgl64.Vec3, orientationA, orientationB mgl64.Quat) {
	writeFirstLane(&tb.prestep.LocalAnchorAX, int(index), localAnchorA[0])
	writeFirstLane(&tb.prestep.LocalAnchorAY, int(index), localAnchorA[1])
	writeFirstLane(&tb.prestep.LocalAnchorAZ, int(index), localAnchorA[2])
	writeFirstLane(&tb.prestep.LocalAnchorBX, int(index), localAnchorB[0])
	writeFirstLane(&tb.prestep.LocalAnchorBY, int(index), localAnchorB[1])
	writeFirstLane(&tb.prestep.LocalAnchorBZ, int(index), localAnchorB[2])

	rel := orientationA.Inverse().Mul(orientationB)
	writeFirstLane(&tb.prestep.RelativeOrientationW, int(index), rel.W)
	writeFirstLane(&tb.prestep.RelativeOrientationX, int(index), rel.V[0])
	writeFirstLane(&tb.prestep.RelativeOrientationY, int(index), rel.V[1])
	writeFirstLane(&tb.prestep.RelativeOrientationZ, int(index), rel.V[2])
}

// AddWeldJoint registers a weld constraint holding bodyA's localAnchorA
// coincident with bodyB's localAnchorB and their current relative
// orientation fixed.
func (s *Solver) AddWeldJoint(bodyA, bodyB BodyHandle, localAnchorA, localAnchorB mgl64.Vec3) ConstraintHandle {
	descA, _ := s.GetDescription(bodyA)
	descB, _ := s.GetDescription(bodyB)
	proc, index, handle := s.AddConstraint(s.typeIDs.weld, []BodyHandle{bodyA, bodyB})
	SetWeldDescription(proc.(*TypeBatch[*WeldPrestep, *WeldImpulse]), index, localAnchorA, localAnchorB, descA.Orientation, descB.Orientation)
	return handle
}

// angularAlignmentBundle is the weld joint's angular half: holding qB
// close to qA*relativeOrientation, independent of the point block. Ported
// in spirit from DynamicsB2JointWeld.go's angle term, generalized from a
// scalar angle error to a 3D small-angle vector taken from the relative
// quaternion's imaginary part.
func angularAlignmentBundle(bodies *BodyStore, bodyA, bodyB [8]int32, validLanes int, relOri *[4][]float64, impulse *[3][]float64, invH float64, mode pointConstraintMode) {
	stateA, stateB := newBodyStateBundle(), newBodyStateBundle()
	bodies.gatherState(stateA, bodyA, validLanes, GatherAll)
	bodies.gatherState(stateB, bodyB, validLanes, GatherAll)

	outAngA := [3][]float64{stateA.AngX, stateA.AngY, stateA.AngZ}
	outAngB := [3][]float64{stateB.AngX, stateB.AngY, stateB.AngZ}

	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		oriA := mgl64.Quat{W: stateA.OriW[lane], V: mgl64.Vec3{stateA.OriX[lane], stateA.OriY[lane], stateA.OriZ[lane]}}
		oriB := mgl64.Quat{W: stateB.OriW[lane], V: mgl64.Vec3{stateB.OriX[lane], stateB.OriY[lane], stateB.OriZ[lane]}}
		angA := mgl64.Vec3{outAngA[0][lane], outAngA[1][lane], outAngA[2][lane]}
		angB := mgl64.Vec3{outAngB[0][lane], outAngB[1][lane], outAngB[2][lane]}
		invInertiaA := mat3FromBundle(stateA.InvInertia, lane)
		invInertiaB := mat3FromBundle(stateB.InvInertia, lane)

		var p mgl64.Vec3
		switch mode {
		case pointWarmStart:
			p = mgl64.Vec3{impulse[0][lane], impulse[1][lane], impulse[2][lane]}
		case pointSolve:
			relTarget := mgl64.Quat{W: relOri[0][lane], V: mgl64.Vec3{relOri[1][lane], relOri[2][lane], relOri[3][lane]}}
			currentRel := oriA.Inverse().Mul(oriB)
			errQuat := relTarget.Inverse().Mul(currentRel)
			errVec := errQuat.V.Mul(2)
			if errQuat.W < 0 {
				errVec = errVec.Mul(-1)
			}

			k := invInertiaA.Add(invInertiaB)
			bias := errVec.Mul(baumgarte * invH)
			cdot := angB.Sub(angA).Add(bias)
			p = symInverse3(k).Mul3x1(cdot).Mul(-1)

			impulse[0][lane] += p[0]
			impulse[1][lane] += p[1]
			impulse[2][lane] += p[2]
		}

		angA = angA.Sub(invInertiaA.Mul3x1(p))
		angB = angB.Add(invInertiaB.Mul3x1(p))
		outAngA[0][lane], outAngA[1][lane], outAngA[2][lane] = angA[0], angA[1], angA[2]
		outAngB[0][lane], outAngB[1][lane], outAngB[2][lane] = angB[0], angB[1], angB[2]
	}

	mask := fullMask()
	bodies.scatterVelocities(bodyA, validLanes, stateA.VelX, stateA.VelY, stateA.VelZ, outAngA[0], outAngA[1], outAngA[2], mask)
	bodies.scatterVelocities(bodyB, validLanes, stateB.VelX, stateB.VelY, stateB.VelZ, outAngB[0], outAngB[1], outAngB[2], mask)
}

func weldPointAnchors(tb *TypeBatch[*WeldPrestep, *WeldImpulse], bundleIndex int) (anchorA, anchorB *[3][]float64) {
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

func weldRelativeOrientation(tb *TypeBatch[*WeldPrestep, *WeldImpulse], bundleIndex int) *[4][]float64 {
	return &[4][]float64{
		tb.prestep.RelativeOrientationW.bundle(bundleIndex),
		tb.prestep.RelativeOrientationX.bundle(bundleIndex),
		tb.prestep.RelativeOrientationY.bundle(bundleIndex),
		tb.prestep.RelativeOrientationZ.bundle(bundleIndex),
	}
}

func weldPointImpulse(tb *TypeBatch[*WeldPrestep, *WeldImpulse], bundleIndex int) *[3][]float64 {
	return &[3][]float64{tb.impulse.PointX.bundle(bundleIndex), tb.impulse.PointY.bundle(bundleIndex), tb.impulse.PointZ.bundle(bundleIndex)}
}

func weldAngularImpulse(tb *TypeBatch[*WeldPrestep, *WeldImpulse], bundleIndex int) *[3][]float64 {
	return &[3][]float64{tb.impulse.AngularX.bundle(bundleIndex), tb.impulse.AngularY.bundle(bundleIndex), tb.impulse.AngularZ.bundle(bundleIndex)}
}

func weldWarmStart(tb *TypeBatch[*WeldPrestep, *WeldImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA, bodyB := tb.bundleBodyIndices(0, bundleIndex), tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		anchorA, anchorB := weldPointAnchors(tb, bundleIndex)
		pointConstraintBundle(bodies, bodyA, bodyB, validLanes, anchorA, anchorB, weldPointImpulse(tb, bundleIndex), h, invH, pointWarmStart)
		angularAlignmentBundle(bodies, bodyA, bodyB, validLanes, weldRelativeOrientation(tb, bundleIndex), weldAngularImpulse(tb, bundleIndex), invH, pointWarmStart)
	}
}

func weldSolve(tb *TypeBatch[*WeldPrestep, *WeldImpulse], bodies *BodyStore, iterationCount int, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA, bodyB := tb.bundleBodyIndices(0, bundleIndex), tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		anchorA, anchorB := weldPointAnchors(tb, bundleIndex)
		pointConstraintBundle(bodies, bodyA, bodyB, validLanes, anchorA, anchorB, weldPointImpulse(tb, bundleIndex), h, invH, pointSolve)
		angularAlignmentBundle(bodies, bodyA, bodyB, validLanes, weldRelativeOrientation(tb, bundleIndex), weldAngularImpulse(tb, bundleIndex), invH, pointSolve)
	}
}

func weldWarmStartIntegrating(tb *TypeBatch[*WeldPrestep, *WeldImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int, mask func(bundleIndex, bodySlot int) laneMask, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA, bodyB := tb.bundleBodyIndices(0, bundleIndex), tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		integrateLanes(bodies, bodyA, validLanes, mask(bundleIndex, 0), h, integrator, angularMode, workerIndex)
		integrateLanes(bodies, bodyB, validLanes, mask(bundleIndex, 1), h, integrator, angularMode, workerIndex)

		anchorA, anchorB := weldPointAnchors(tb, bundleIndex)
		pointConstraintBundle(bodies, bodyA, bodyB, validLanes, anchorA, anchorB, weldPointImpulse(tb, bundleIndex), h, invH, pointWarmStart)
		angularAlignmentBundle(bodies, bodyA, bodyB, validLanes, weldRelativeOrientation(tb, bundleIndex), weldAngularImpulse(tb, bundleIndex), invH, pointWarmStart)
	}
}

func registerWeldKernel(registry *TypeRegistry) int32 {
	kernel := Kernel[*WeldPrestep, *WeldImpulse]{
		WarmStart:            weldWarmStart,
		WarmStartIntegrating: weldWarmStartIntegrating,
		Solve:                weldSolve,
	}
	return registry.Register(func(initialCapacity int) TypeProcessor {
		bundles := bundleCount(initialCapacity)
		return newTypeBatch(int32(0), 2, initialCapacity, newWeldPrestep(bundles), newWeldImpulse(bundles), kernel)
	})
}
