package bepu

import "github.com/go-gl/mathgl/mgl64"

// AngularIntegrationMode selects how a body's orientation and angular
// velocity interact during pose integration (spec §6's config enum).
// Ported from DynamicsB2WorldCallbacks.go's role of letting external code
// customize behavior the core itself stays agnostic to.
type AngularIntegrationMode uint8

const (
	// NonConserving integrates orientation from angular velocity without
	// otherwise touching it; the default and cheapest mode.
	NonConserving AngularIntegrationMode = iota
	// ConserveMomentum is a distinct value, but pose integration handles it
	// exactly like NonConserving: angular velocity is not rescaled for the
	// change in world inertia, so angular momentum is not held constant.
	ConserveMomentum
	// ConserveMomentumWithGyroscopicTorque applies one explicit step of the
	// free-body gyroscopic term of Euler's rigid body equation,
	// omega -= h * I^-1 * (omega x (I * omega)), before the orientation is
	// integrated; no momentum-preserving rescale follows it.
	ConserveMomentumWithGyroscopicTorque
)

// IntegratorCallback is the "only non-trivial external hook" (spec §6):
// invoked once per eligible bundle during warm-start-with-integration, and
// once per group of up to LaneWidth active bodies that no constraint
// references at the start of each sub-step, it mutates velocity in place for whichever lanes integrationMask marks as
// this sub-step's integration responsibility. bodyIndices are active-set
// indices, not handles. Ported from B2ContactListenerInterface's
// per-callback shape (DynamicsB2WorldCallbacks.go), collapsed to the one
// hook the core actually needs to call into during solving.
type IntegratorCallback func(
	bodyIndices [8]int32,
	position [3][]float64,
	orientation [4][]float64,
	localInertia [9][]float64,
	integrationMask laneMask,
	workerIndex int,
	dt float64,
	linearVelocity [3][]float64,
	angularVelocity [3][]float64,
)

// GravityIntegrator returns the simplest IntegratorCallback a caller is
// likely to want: uniform gravity plus exponential linear/angular damping,
// matching DynamicsB2Body.go's B2Body.SynchronizeTransform-adjacent
// velocity update. Bodies are the active BodyStore so damping/gravity
// scale per body can be read back by index.
func GravityIntegrator(bodies *BodyStore, gravity mgl64.Vec3) IntegratorCallback {
	return func(
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
		for lane := 0; lane < LaneWidth; lane++ {
			if !integrationMask[lane] {
				continue
			}
			rec := bodies.activeRecord(bodyIndices[lane])
			if rec.desc.InverseMass == 0 {
				continue
			}
			linDamp := clampFloat(1-dt*rec.desc.LinearDamping, 0, 1)
			angDamp := clampFloat(1-dt*rec.desc.AngularDamping, 0, 1)
			for axis := 0; axis < 3; axis++ {
				linearVelocity[axis][lane] = (linearVelocity[axis][lane] + dt*rec.desc.GravityScale*gravity[axis]) * linDamp
				angularVelocity[axis][lane] = angularVelocity[axis][lane] * angDamp
			}
		}
	}
}
