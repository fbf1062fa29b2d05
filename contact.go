package bepu

import "github.com/go-gl/mathgl/mgl64"

// ContactPrestep is the per-constraint description for a single-point
// contact: a world-space contact position and normal, penetration depth,
// combined restitution and friction coefficients. Ported from
// DynamicsB2ContactSolver.go's B2ContactVelocityConstraint (Normal,
// Friction, Restitution, per-point VelocityBias), collapsed from box2d's
// up-to-2-point manifold to one constraint per contact point — a manifold
// with two points becomes two contact constraints, matching how every
// other reference type here is single-purpose rather than variadic.
type ContactPrestep struct {
	PositionX, PositionY, PositionZ scalarBundle
	NormalX, NormalY, NormalZ       scalarBundle
	Penetration                     scalarBundle
	Restitution                     scalarBundle
	Friction                        scalarBundle
}

func newContactPrestep(capacityBundles int) *ContactPrestep {
	p := &ContactPrestep{}
	p.growColumns(capacityBundles)
	return p
}

func (p *ContactPrestep) fields() []*scalarBundle {
	return []*scalarBundle{
		&p.PositionX, &p.PositionY, &p.PositionZ,
		&p.NormalX, &p.NormalY, &p.NormalZ,
		&p.Penetration, &p.Restitution, &p.Friction,
	}
}

func (p *ContactPrestep) growColumns(capacityBundles int) { growAll(capacityBundles, p.fields()...) }
func (p *ContactPrestep) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, p.fields()...) }
func (p *ContactPrestep) clearLane(i int)                 { clearAll(i, p.fields()...) }
func (p *ContactPrestep) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*ContactPrestep)
	copyAll(dstIndex, srcIndex, p.fields(), s.fields())
}

// ContactImpulse accumulates the normal impulse and two tangent-basis
// friction impulses. RestitutionBias is not really an accumulated impulse;
// it is the closing velocity captured once per sub-step at WarmStart time
// (box2d's VelocityBias, DynamicsB2ContactSolver.go), stashed alongside the
// impulses because both are the constraint's mutable per-substep state and
// BundleColumns gives us exactly one such column family per type.
type ContactImpulse struct {
	NormalImpulse   scalarBundle
	Tangent1Impulse scalarBundle
	Tangent2Impulse scalarBundle
	RestitutionBias scalarBundle
}

func newContactImpulse(capacityBundles int) *ContactImpulse {
	im := &ContactImpulse{}
	im.growColumns(capacityBundles)
	return im
}

func (im *ContactImpulse) fields() []*scalarBundle {
	return []*scalarBundle{&im.NormalImpulse, &im.Tangent1Impulse, &im.Tangent2Impulse, &im.RestitutionBias}
}

func (im *ContactImpulse) growColumns(capacityBundles int) { growAll(capacityBundles, im.fields()...) }
func (im *ContactImpulse) moveLane(dstIndex, srcIndex int) { moveAll(dstIndex, srcIndex, im.fields()...) }
func (im *ContactImpulse) clearLane(i int)                 { clearAll(i, im.fields()...) }
func (im *ContactImpulse) copyLaneFrom(src BundleColumns, srcIndex, dstIndex int) {
	s := src.(*ContactImpulse)
	copyAll(dstIndex, srcIndex, im.fields(), s.fields())
}

// SetContactDescription writes a contact point's world position, normal
// (pointing from A to B), penetration depth, and combined material
// coefficients.
func SetContactDescription(tb *TypeBatch[*ContactPrestep, *ContactImpulse], index int32, position, normal mgl64.Vec3, penetration, restitution, friction float64) {
	writeFirstLane(&tb.prestep.PositionX, int(index), position[0])
	writeFirstLane(&tb.prestep.PositionY, int(index), position[1])
	writeFirstLane(&tb.prestep.PositionZ, int(index), position[2])
	n := normal.Normalize()
	writeFirstLane(&tb.prestep.NormalX, int(index), n[0])
	writeFirstLane(&tb.prestep.NormalY, int(index), n[1])
	writeFirstLane(&tb.prestep.NormalZ, int(index), n[2])
	writeFirstLane(&tb.prestep.Penetration, int(index), penetration)
	writeFirstLane(&tb.prestep.Restitution, int(index), restitution)
	writeFirstLane(&tb.prestep.Friction, int(index), friction)
}

// AddContact registers a single contact point between bodyA and bodyB.
func (s *Solver) AddContact(bodyA, bodyB BodyHandle, position, normal mgl64.Vec3, penetration, restitution, friction float64) ConstraintHandle {
	proc, index, handle := s.AddConstraint(s.typeIDs.contact, []BodyHandle{bodyA, bodyB})
	SetContactDescription(proc.(*TypeBatch[*ContactPrestep, *ContactImpulse]), index, position, normal, penetration, restitution, friction)
	return handle
}

// tangentBasis builds an orthonormal pair (t1, t2) perpendicular to n,
// the standard construction (largest-component pivot to avoid a
// near-parallel cross product) used so the accumulated tangent impulses
// stay meaningful warm-start to warm-start instead of chasing whatever
// direction the relative velocity happened to point in, unlike
// akmonengine-feather's per-iteration velocity-derived tangent.
func tangentBasis(n mgl64.Vec3) (t1, t2 mgl64.Vec3) {
	if n[0] >= 0.57735 || n[0] <= -0.57735 {
		t1 = mgl64.Vec3{n[1], -n[0], 0}
	} else {
		t1 = mgl64.Vec3{0, n[2], -n[1]}
	}
	t1 = t1.Normalize()
	t2 = n.Cross(t1)
	return
}

func contactWarmStart(tb *TypeBatch[*ContactPrestep, *ContactImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		contactBundle(tb, bodies, h, invH, bundleIndex, contactWarmStartOnly)
	}
}

func contactSolve(tb *TypeBatch[*ContactPrestep, *ContactImpulse], bodies *BodyStore, iterationCount int, h, invH float64, startBundle, endBundle int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		contactBundle(tb, bodies, h, invH, bundleIndex, contactSolveIteration)
	}
}

func contactWarmStartIntegrating(tb *TypeBatch[*ContactPrestep, *ContactImpulse], bodies *BodyStore, h, invH float64, startBundle, endBundle int, mask func(bundleIndex, bodySlot int) laneMask, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int) {
	for bundleIndex := startBundle; bundleIndex < endBundle; bundleIndex++ {
		bodyA, bodyB := tb.bundleBodyIndices(0, bundleIndex), tb.bundleBodyIndices(1, bundleIndex)
		validLanes := tb.validLanesInBundle(bundleIndex)
		integrateLanes(bodies, bodyA, validLanes, mask(bundleIndex, 0), h, integrator, angularMode, workerIndex)
		integrateLanes(bodies, bodyB, validLanes, mask(bundleIndex, 1), h, integrator, angularMode, workerIndex)
		contactBundle(tb, bodies, h, invH, bundleIndex, contactWarmStartOnly)
	}
}

type contactPhase int

const (
	contactWarmStartOnly contactPhase = iota
	contactSolveIteration
)

// contactBundle is one bundle's worth of normal-plus-two-tangent contact
// solving, ported algebraically from akmonengine-feather__contact.go's
// SolveVelocity (effective mass = invMass + Iinv.Mul3x1(r x n).Dot(r x n),
// non-negative normal impulse, Coulomb-clamped friction) with the tangent
// direction fixed from the contact normal instead of derived from
// relative velocity, so tangent impulse warm-starts coherently.
//
// Unlike gearMotorBundle's single scalar DOF, each lane here carries its
// own r and tangent-basis vectors, so the per-axis math below is
// restructured axis-outer/lane-inner (one pass over the whole bundle per
// axis) instead of lane-outer/axis-inner, specifically so the cross
// products, dot products, and impulse-driven velocity updates become
// bundle-wide calls into simdops.go (bundleCross3, bundleAddScaled,
// bundleClampMagnitude) rather than per-lane mgl64.Vec3 math. The 3x3
// Iinv.Mul3x1 terms stay a per-lane loop, same as gearMotorBundle, since
// go-highway's public surface here has no matrix-vector op.
func contactBundle(tb *TypeBatch[*ContactPrestep, *ContactImpulse], bodies *BodyStore, h, invH float64, bundleIndex int, phase contactPhase) {
	bodyA, bodyB := tb.bundleBodyIndices(0, bundleIndex), tb.bundleBodyIndices(1, bundleIndex)
	validLanes := tb.validLanesInBundle(bundleIndex)

	stateA, stateB := newBodyStateBundle(), newBodyStateBundle()
	bodies.gatherState(stateA, bodyA, validLanes, GatherAll)
	bodies.gatherState(stateB, bodyB, validLanes, GatherAll)

	posX, posY, posZ := tb.prestep.PositionX.bundle(bundleIndex), tb.prestep.PositionY.bundle(bundleIndex), tb.prestep.PositionZ.bundle(bundleIndex)
	normX, normY, normZ := tb.prestep.NormalX.bundle(bundleIndex), tb.prestep.NormalY.bundle(bundleIndex), tb.prestep.NormalZ.bundle(bundleIndex)
	penetration := tb.prestep.Penetration.bundle(bundleIndex)
	restitution := tb.prestep.Restitution.bundle(bundleIndex)
	friction := tb.prestep.Friction.bundle(bundleIndex)

	normalImpulse := tb.impulse.NormalImpulse.bundle(bundleIndex)
	tangent1Impulse := tb.impulse.Tangent1Impulse.bundle(bundleIndex)
	tangent2Impulse := tb.impulse.Tangent2Impulse.bundle(bundleIndex)
	restitutionBias := tb.impulse.RestitutionBias.bundle(bundleIndex)

	outVelA := [3][]float64{stateA.VelX, stateA.VelY, stateA.VelZ}
	outAngA := [3][]float64{stateA.AngX, stateA.AngY, stateA.AngZ}
	outVelB := [3][]float64{stateB.VelX, stateB.VelY, stateB.VelZ}
	outAngB := [3][]float64{stateB.AngX, stateB.AngY, stateB.AngZ}

	// rA, rB, and the tangent basis depend only on prestep data and the
	// current pose, not on whichever impulse is being applied, so they are
	// computed once per bundle rather than once per axis.
	rAx, rAy, rAz := make([]float64, LaneWidth), make([]float64, LaneWidth), make([]float64, LaneWidth)
	rBx, rBy, rBz := make([]float64, LaneWidth), make([]float64, LaneWidth), make([]float64, LaneWidth)
	t1x, t1y, t1z := make([]float64, LaneWidth), make([]float64, LaneWidth), make([]float64, LaneWidth)
	t2x, t2y, t2z := make([]float64, LaneWidth), make([]float64, LaneWidth), make([]float64, LaneWidth)
	ones := make([]float64, LaneWidth)
	for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
		rAx[lane], rAy[lane], rAz[lane] = posX[lane]-stateA.PosX[lane], posY[lane]-stateA.PosY[lane], posZ[lane]-stateA.PosZ[lane]
		rBx[lane], rBy[lane], rBz[lane] = posX[lane]-stateB.PosX[lane], posY[lane]-stateB.PosY[lane], posZ[lane]-stateB.PosZ[lane]
		t1, t2 := tangentBasis(mgl64.Vec3{normX[lane], normY[lane], normZ[lane]})
		t1x[lane], t1y[lane], t1z[lane] = t1[0], t1[1], t1[2]
		t2x[lane], t2y[lane], t2z[lane] = t2[0], t2[1], t2[2]
		ones[lane] = 1
	}

	// effMassBundle computes the scalar effective mass along one axis,
	// bundle-wide, for every lane: invMassA + invMassB plus each body's
	// angular contribution Iinv.(r x axis).(r x axis).
	effMassBundle := func(axisX, axisY, axisZ []float64) []float64 {
		rAxAxisX, rAxAxisY, rAxAxisZ := bundleCross3(rAx, rAy, rAz, axisX, axisY, axisZ)
		rBxAxisX, rBxAxisY, rBxAxisZ := bundleCross3(rBx, rBy, rBz, axisX, axisY, axisZ)
		out := make([]float64, LaneWidth)
		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			invInertiaA, invInertiaB := mat3FromBundle(stateA.InvInertia, lane), mat3FromBundle(stateB.InvInertia, lane)
			rAxAxis := mgl64.Vec3{rAxAxisX[lane], rAxAxisY[lane], rAxAxisZ[lane]}
			rBxAxis := mgl64.Vec3{rBxAxisX[lane], rBxAxisY[lane], rBxAxisZ[lane]}
			out[lane] = stateA.InvMass[lane] + stateB.InvMass[lane] +
				invInertiaA.Mul3x1(rAxAxis).Dot(rAxAxis) + invInertiaB.Mul3x1(rBxAxis).Dot(rBxAxis)
		}
		return out
	}

	// relVelBundle computes the relative velocity at the contact point,
	// bundle-wide: velA = linA + angA x rA (cross via bundleCross3, added
	// via bundleAddScaled with scale 1), then velB - velA lane-wise.
	relVelBundle := func() (x, y, z []float64) {
		angAxRAx, angAxRAy, angAxRAz := bundleCross3(outAngA[0], outAngA[1], outAngA[2], rAx, rAy, rAz)
		angBxRBx, angBxRBy, angBxRBz := bundleCross3(outAngB[0], outAngB[1], outAngB[2], rBx, rBy, rBz)
		velAx, velAy, velAz := bundleAddScaled(outVelA[0], angAxRAx, ones), bundleAddScaled(outVelA[1], angAxRAy, ones), bundleAddScaled(outVelA[2], angAxRAz, ones)
		velBx, velBy, velBz := bundleAddScaled(outVelB[0], angBxRBx, ones), bundleAddScaled(outVelB[1], angBxRBy, ones), bundleAddScaled(outVelB[2], angBxRBz, ones)
		x, y, z = make([]float64, LaneWidth), make([]float64, LaneWidth), make([]float64, LaneWidth)
		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			x[lane], y[lane], z[lane] = velBx[lane]-velAx[lane], velBy[lane]-velAy[lane], velBz[lane]-velAz[lane]
		}
		return
	}

	// applyImpulseBundle applies magnitude*axis to both bodies, bundle-wide
	// for the linear half (v += invMass*impulse via bundleAddScaled) and
	// per lane for the angular half.
	applyImpulseBundle := func(axisX, axisY, axisZ, magnitude []float64) {
		pX, pY, pZ := make([]float64, LaneWidth), make([]float64, LaneWidth), make([]float64, LaneWidth)
		negInvMassA := make([]float64, LaneWidth)
		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			pX[lane], pY[lane], pZ[lane] = axisX[lane]*magnitude[lane], axisY[lane]*magnitude[lane], axisZ[lane]*magnitude[lane]
			negInvMassA[lane] = -stateA.InvMass[lane]
		}
		outVelA[0], outVelA[1], outVelA[2] = bundleAddScaled(outVelA[0], pX, negInvMassA), bundleAddScaled(outVelA[1], pY, negInvMassA), bundleAddScaled(outVelA[2], pZ, negInvMassA)
		outVelB[0], outVelB[1], outVelB[2] = bundleAddScaled(outVelB[0], pX, stateB.InvMass), bundleAddScaled(outVelB[1], pY, stateB.InvMass), bundleAddScaled(outVelB[2], pZ, stateB.InvMass)

		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			p := mgl64.Vec3{pX[lane], pY[lane], pZ[lane]}
			rA, rB := mgl64.Vec3{rAx[lane], rAy[lane], rAz[lane]}, mgl64.Vec3{rBx[lane], rBy[lane], rBz[lane]}
			invInertiaA, invInertiaB := mat3FromBundle(stateA.InvInertia, lane), mat3FromBundle(stateB.InvInertia, lane)
			angA := mgl64.Vec3{outAngA[0][lane], outAngA[1][lane], outAngA[2][lane]}.Sub(invInertiaA.Mul3x1(rA.Cross(p)))
			angB := mgl64.Vec3{outAngB[0][lane], outAngB[1][lane], outAngB[2][lane]}.Add(invInertiaB.Mul3x1(rB.Cross(p)))
			outAngA[0][lane], outAngA[1][lane], outAngA[2][lane] = angA[0], angA[1], angA[2]
			outAngB[0][lane], outAngB[1][lane], outAngB[2][lane] = angB[0], angB[1], angB[2]
		}
	}

	if phase == contactWarmStartOnly {
		relX, relY, relZ := relVelBundle()
		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			rel := mgl64.Vec3{relX[lane], relY[lane], relZ[lane]}
			normal := mgl64.Vec3{normX[lane], normY[lane], normZ[lane]}
			restitutionBias[lane] = -restitution[lane] * minFloat(rel.Dot(normal), 0)
		}
		applyImpulseBundle(normX, normY, normZ, normalImpulse)
		applyImpulseBundle(t1x, t1y, t1z, tangent1Impulse)
		applyImpulseBundle(t2x, t2y, t2z, tangent2Impulse)
	} else {
		normalMass := effMassBundle(normX, normY, normZ)
		relX, relY, relZ := relVelBundle()
		deltaNormal := make([]float64, LaneWidth)
		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			if normalMass[lane] <= epsilon {
				continue
			}
			rel := mgl64.Vec3{relX[lane], relY[lane], relZ[lane]}
			normal := mgl64.Vec3{normX[lane], normY[lane], normZ[lane]}
			bias := clampFloat(baumgarte*invH*(penetration[lane]-linearSlop), 0, maxFloat)
			delta := -(rel.Dot(normal) - bias - restitutionBias[lane]) / normalMass[lane]
			old := normalImpulse[lane]
			normalImpulse[lane] = clampFloat(old+delta, 0, maxFloat)
			deltaNormal[lane] = normalImpulse[lane] - old
		}
		applyImpulseBundle(normX, normY, normZ, deltaNormal)

		limit := make([]float64, LaneWidth)
		for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
			limit[lane] = friction[lane] * normalImpulse[lane]
		}

		tangentAxes := [2][3][]float64{{t1x, t1y, t1z}, {t2x, t2y, t2z}}
		tangentStores := [2][]float64{tangent1Impulse, tangent2Impulse}
		for axisIdx, axis := range tangentAxes {
			tangentMass := effMassBundle(axis[0], axis[1], axis[2])
			relX, relY, relZ = relVelBundle()
			stored := tangentStores[axisIdx]
			proposed := make([]float64, LaneWidth)
			for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
				if tangentMass[lane] <= epsilon {
					continue
				}
				rel := mgl64.Vec3{relX[lane], relY[lane], relZ[lane]}
				a := mgl64.Vec3{axis[0][lane], axis[1][lane], axis[2][lane]}
				proposed[lane] = stored[lane] - rel.Dot(a)/tangentMass[lane]
			}
			clamped := bundleClampMagnitude(proposed, limit)
			deltaTangent := make([]float64, LaneWidth)
			for lane := 0; lane < validLanes && lane < LaneWidth; lane++ {
				if tangentMass[lane] <= epsilon {
					continue
				}
				deltaTangent[lane] = clamped[lane] - stored[lane]
				stored[lane] = clamped[lane]
			}
			applyImpulseBundle(axis[0], axis[1], axis[2], deltaTangent)
		}
	}

	mask := fullMask()
	bodies.scatterVelocities(bodyA, validLanes, outVelA[0], outVelA[1], outVelA[2], outAngA[0], outAngA[1], outAngA[2], mask)
	bodies.scatterVelocities(bodyB, validLanes, outVelB[0], outVelB[1], outVelB[2], outAngB[0], outAngB[1], outAngB[2], mask)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func registerContactKernel(registry *TypeRegistry) int32 {
	kernel := Kernel[*ContactPrestep, *ContactImpulse]{
		WarmStart:            contactWarmStart,
		WarmStartIntegrating: contactWarmStartIntegrating,
		Solve:                contactSolve,
	}
	return registry.Register(func(initialCapacity int) TypeProcessor {
		bundles := bundleCount(initialCapacity)
		return newTypeBatch(int32(0), 2, initialCapacity, newContactPrestep(bundles), newContactImpulse(bundles), kernel)
	})
}
