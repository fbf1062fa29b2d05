package bepu

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// newIsolatedTestSolver is newTestSolver without gravity, for scenarios that
// check pure constraint convergence against a known closed-form target
// rather than a gravity-driven trajectory.
func newIsolatedTestSolver() *Solver {
	cfg := DefaultConfig()
	cfg.InitialCapacity = 16
	cfg.MinimumCapacityPerTypeBatch = 8
	registry := NewTypeRegistry()
	return NewSolver(cfg, registry, mgl64.Vec3{0, 0, 0}, NonConserving)
}

// TestScenarioTwoBodyWeldConverges is spec scenario 1: two unit-mass,
// identity-inertia bodies a unit apart, welded with zero local offset and
// identity local orientation, must have their anchor points coincide and
// their orientations agree within tight tolerance after 16 steps.
func TestScenarioTwoBodyWeldConverges(t *testing.T) {
	s := newIsolatedTestSolver()
	a := s.AddBody(dynamicBody(mgl64.Vec3{0, 0, 0}))
	b := s.AddBody(dynamicBody(mgl64.Vec3{1, 0, 0}))
	s.AddWeldJoint(a, b, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 0, 0})

	for i := 0; i < 16; i++ {
		s.Step(context.Background(), 1.0/60.0, 4)
	}

	da, _ := s.GetDescription(a)
	db, _ := s.GetDescription(b)

	distanceError := da.Position.Sub(db.Position).Len()
	if distanceError >= 1e-4 {
		t.Fatalf("weld distance error = %v, want < 1e-4", distanceError)
	}

	rel := da.Orientation.Inverse().Mul(db.Orientation)
	angularError := rel.V.Mul(2).Len()
	if rel.W < 0 {
		angularError = rel.V.Mul(-2).Len()
	}
	if angularError >= 1e-4 {
		t.Fatalf("weld angular error = %v, want < 1e-4", angularError)
	}
}

// TestScenarioGearMotorTracksRatio is spec scenario 2: a gear motor with
// velocityScale (gearRatio) 2 and an effectively unbounded torque limit
// must bring bodyB's angular velocity about the shared axis to 2x bodyA's
// within one sub-step.
func TestScenarioGearMotorTracksRatio(t *testing.T) {
	s := newIsolatedTestSolver()
	descA := dynamicBody(mgl64.Vec3{0, 0, 0})
	descA.AngularVelocity = mgl64.Vec3{0, 1, 0}
	descB := dynamicBody(mgl64.Vec3{1, 0, 0})

	a := s.AddBody(descA)
	b := s.AddBody(descB)
	s.AddGearMotor(a, b, mgl64.Vec3{0, 1, 0}, 2, 0, 1e30)

	s.Step(context.Background(), 1.0/60.0, 1)

	db, _ := s.GetDescription(b)
	da, _ := s.GetDescription(a)
	gotB := db.AngularVelocity.Dot(mgl64.Vec3{0, 1, 0})
	wantB := 2 * da.AngularVelocity.Dot(mgl64.Vec3{0, 1, 0})
	if math.Abs(gotB-wantB) >= 1e-5 {
		t.Fatalf("gear motor omegaB.axis = %v, want ~%v (within 1e-5)", gotB, wantB)
	}
}

// TestScenarioBallSocketPendulumHoldsAnchor is spec scenario 3: a
// pendulum (body A pinned in place by zero inverse mass and zero inverse
// inertia, which GravityIntegrator also skips, body B hanging below it
// under gravity) must keep its two world anchors coincident within tolerance for
// every one of 1000 frames, not just at the end.
func TestScenarioBallSocketPendulumHoldsAnchor(t *testing.T) {
	s := newTestSolver()
	s.Gravity = mgl64.Vec3{0, -10, 0}
	s.Driver.Integrator = GravityIntegrator(s.Bodies, s.Gravity)

	pivotDesc := dynamicBody(mgl64.Vec3{0, 0, 0})
	pivotDesc.InverseMass = 0
	pivotDesc.LocalInverseInertia = mgl64.Mat3{}
	pivot := s.AddBody(pivotDesc)
	bob := s.AddBody(dynamicBody(mgl64.Vec3{0, -1, 0}))
	s.AddBallSocketJoint(pivot, bob, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 1, 0})

	anchorGap := func() float64 {
		dp, _ := s.GetDescription(pivot)
		db, _ := s.GetDescription(bob)
		worldAnchorA := dp.Position
		worldAnchorB := db.Position.Add(db.Orientation.Mat4().Mat3().Mul3x1(mgl64.Vec3{0, 1, 0}))
		return worldAnchorA.Sub(worldAnchorB).Len()
	}

	for i := 0; i < 1000; i++ {
		s.Step(context.Background(), 1.0/60.0, 4)
		if gap := anchorGap(); gap >= 1e-3 {
			t.Fatalf("frame %d: pendulum anchor gap = %v, want < 1e-3", i, gap)
		}
	}
}

// TestScenarioBatchOverflowWeldsHoldWithinTolerance is spec scenario 4:
// one body referenced by FallbackBatchThreshold+1 weld constraints forces
// exactly one of them into the fallback batch (the shared body already
// appears in every non-fallback batch by the time the last constraint is
// placed), and the fallback batch's Jacobi solve must still converge all
// welds within a looser 1e-2 tolerance after 10 steps.
func TestScenarioBatchOverflowWeldsHoldWithinTolerance(t *testing.T) {
	s := newIsolatedTestSolver()
	hub := s.AddBody(dynamicBody(mgl64.Vec3{0, 0, 0}))

	n := s.Config.FallbackBatchThreshold + 1
	spokes := make([]BodyHandle, n)
	for i := range spokes {
		pos := mgl64.Vec3{0, 0, float64(i + 1)}
		spokes[i] = s.AddBody(dynamicBody(pos))
		s.AddWeldJoint(hub, spokes[i], mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 0, 0})
	}

	if got := s.Batches.nonFallbackCount(); got != s.Config.FallbackBatchThreshold {
		t.Fatalf("non-fallback batch count = %d, want %d", got, s.Config.FallbackBatchThreshold)
	}

	for i := 0; i < 10; i++ {
		s.Step(context.Background(), 1.0/60.0, 4)
	}

	dh, _ := s.GetDescription(hub)
	for i, spoke := range spokes {
		ds, _ := s.GetDescription(spoke)
		gap := dh.Position.Sub(ds.Position).Len()
		if gap >= 1e-2 {
			t.Fatalf("spoke %d weld gap = %v, want < 1e-2", i, gap)
		}
	}
}

// TestScenarioSleepWakeRoundTripMatchesNeverSleptControl is spec scenario
// 5: an island of 20 bodies and 19 welds, slept and woken, must solve
// identically to a never-slept control built the same way.
func TestScenarioSleepWakeRoundTripMatchesNeverSleptControl(t *testing.T) {
	build := func() (*Solver, []BodyHandle) {
		s := newIsolatedTestSolver()
		handles := make([]BodyHandle, 20)
		for i := range handles {
			handles[i] = s.AddBody(dynamicBody(mgl64.Vec3{float64(i), 0, 0}))
			if i > 0 {
				s.AddWeldJoint(handles[i-1], handles[i], mgl64.Vec3{0.5, 0, 0}, mgl64.Vec3{-0.5, 0, 0})
			}
		}
		return s, handles
	}

	control, controlHandles := build()
	test, testHandles := build()

	indices := make([]int32, len(testHandles))
	for i, h := range testHandles {
		_, idx, _ := test.Bodies.HandleToLocation(h)
		indices[i] = idx
	}
	test.sleepIsland(indices)
	for _, h := range testHandles {
		test.WakeBody(h)
	}

	for i := 0; i < 5; i++ {
		control.Step(context.Background(), 1.0/60.0, 4)
		test.Step(context.Background(), 1.0/60.0, 4)
	}

	for i := range controlHandles {
		wantDesc, _ := control.GetDescription(controlHandles[i])
		gotDesc, _ := test.GetDescription(testHandles[i])
		if wantDesc.LinearVelocity != gotDesc.LinearVelocity || wantDesc.AngularVelocity != gotDesc.AngularVelocity {
			t.Fatalf("body %d: velocities after sleep/wake round trip = (%v, %v), want (%v, %v) matching never-slept control",
				i, gotDesc.LinearVelocity, gotDesc.AngularVelocity, wantDesc.LinearVelocity, wantDesc.AngularVelocity)
		}
	}
}

// TestScenarioRemoveDuringSwapAtScale is spec scenario 6: in a type batch
// of 100 constraints, removing index 50 must move the constraint
// previously at index 99 into slot 50, carrying its prestep and impulse
// data unchanged.
func TestScenarioRemoveDuringSwapAtScale(t *testing.T) {
	tb := newTestGearMotorBatch(128)
	const n = 100
	handles := make([]ConstraintHandle, n)
	for i := 0; i < n; i++ {
		h := ConstraintHandle(1000 + i)
		handles[i] = h
		idx := tb.Allocate(h, []int32{int32(2 * i), int32(2*i + 1)})
		SetGearMotorDescription(tb, idx, mgl64.Vec3{0, 1, 0}, float64(i), 0, 10)
		tb.impulse.Value.set(int(idx), float64(i)*0.5)
	}

	wantAxis := mgl64.Vec3{0, 1, 0}.Normalize()
	wantGearRatio := float64(99)
	wantImpulse := float64(99) * 0.5

	moved := tb.Remove(50)
	if moved != handles[99] {
		t.Fatalf("Remove(50) reported moved handle %d, want %d", moved, handles[99])
	}
	if tb.IndexToHandle(50) != handles[99] {
		t.Fatalf("IndexToHandle(50) after remove = %d, want %d", tb.IndexToHandle(50), handles[99])
	}

	gotAxis := mgl64.Vec3{tb.prestep.AxisX.get(50), tb.prestep.AxisY.get(50), tb.prestep.AxisZ.get(50)}
	if gotAxis.Sub(wantAxis).Len() >= 1e-12 {
		t.Fatalf("moved constraint's axis = %v, want %v", gotAxis, wantAxis)
	}
	if got := tb.prestep.GearRatio.get(50); got != wantGearRatio {
		t.Fatalf("moved constraint's gear ratio = %v, want %v", got, wantGearRatio)
	}
	if got := tb.impulse.Value.get(50); got != wantImpulse {
		t.Fatalf("moved constraint's impulse = %v, want %v", got, wantImpulse)
	}
	bodies := tb.BodyIndicesAt(50)
	if bodies[0] != int32(2*99) || bodies[1] != int32(2*99+1) {
		t.Fatalf("moved constraint's body indices = %v, want [%d %d]", bodies, 2*99, 2*99+1)
	}
}

// TestConvergenceBoxStackSettles is spec §8's convergence smoke test: a
// stack of 10 boxes under gravity, connected to the ground and each other
// by contact constraints holding them apart by their half-extents, must
// come to rest (total kinetic energy below a threshold) after 60 frames.
func TestConvergenceBoxStackSettles(t *testing.T) {
	s := newTestSolver()
	const n = 10
	const halfHeight = 0.5

	handles := make([]BodyHandle, n)
	for i := 0; i < n; i++ {
		handles[i] = s.AddBody(dynamicBody(mgl64.Vec3{0, halfHeight + float64(i)*2*halfHeight, 0}))
	}

	groundDesc := dynamicBody(mgl64.Vec3{0, 0, 0})
	groundDesc.InverseMass = 0
	groundDesc.LocalInverseInertia = mgl64.Mat3{}
	ground := s.AddBody(groundDesc)
	s.AddContact(ground, handles[0], mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 1, 0}, 0, 0, 0.5)
	for i := 1; i < n; i++ {
		contactY := float64(i) * 2 * halfHeight
		s.AddContact(handles[i-1], handles[i], mgl64.Vec3{0, contactY, 0}, mgl64.Vec3{0, 1, 0}, 0, 0, 0.5)
	}

	for i := 0; i < 60; i++ {
		s.Step(context.Background(), 1.0/60.0, 4)
	}

	var kineticEnergy float64
	for _, h := range handles {
		d, _ := s.GetDescription(h)
		if d.InverseMass <= 0 {
			continue
		}
		mass := 1 / d.InverseMass
		kineticEnergy += 0.5 * mass * d.LinearVelocity.Dot(d.LinearVelocity)
	}
	const threshold = 1.0
	if kineticEnergy >= threshold {
		t.Fatalf("box stack kinetic energy after 60 frames = %v, want < %v (boxes at rest)", kineticEnergy, threshold)
	}
}
