package bepu

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// TestIntegratorRunsExactlySubstepCountTimesPerBody checks spec §8's
// integration property at the level a caller observes it: across one
// Step call split into substepCount sub-steps, every body with at least
// one constraint must have the integrator callback applied to it exactly
// substepCount times, never more (double-integration) and never fewer
// (a body silently skipped).
func TestIntegratorRunsExactlySubstepCountTimesPerBody(t *testing.T) {
	s := newTestSolver()
	a := s.AddBody(dynamicBody(mgl64.Vec3{0, 5, 0}))
	b := s.AddBody(dynamicBody(mgl64.Vec3{2, 5, 0}))
	c := s.AddBody(dynamicBody(mgl64.Vec3{1, 7, 0}))
	s.AddBallSocketJoint(a, b, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{-1, 0, 0})
	s.AddWeldJoint(b, c, mgl64.Vec3{-0.5, 2, 0}, mgl64.Vec3{0.5, 0, 0})

	counts := make(map[BodyHandle]int)
	base := s.Driver.Integrator
	s.Driver.Integrator = func(
		bodyIndices [8]int32,
		position [3][]float64,
		orientation [4][]float64,
		localInertia [9][]float64,
		integrationMask laneMask,
		workerIndex int,
		dt float64,
		linearVelocity [3][]float64,
		angularVelocity [3][]float64,
	) {
		for lane, marked := range integrationMask {
			if !marked {
				continue
			}
			idx := bodyIndices[lane]
			if int(idx) >= len(s.Bodies.indexToHandle) {
				continue
			}
			counts[s.Bodies.indexToHandle[idx]]++
		}
		base(bodyIndices, position, orientation, localInertia, integrationMask, workerIndex, dt, linearVelocity, angularVelocity)
	}

	const substepCount = 4
	s.Step(context.Background(), 1.0/60.0, substepCount)

	for _, h := range []BodyHandle{a, b, c} {
		if got := counts[h]; got != substepCount {
			t.Fatalf("body %d integrated %d times across the step, want exactly %d", h, got, substepCount)
		}
	}
}
