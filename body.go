package bepu

import "github.com/go-gl/mathgl/mgl64"

// BodyType mirrors the teacher's B2BodyType (DynamicsB2Body.go): static
// bodies never move, kinematic bodies are moved externally, dynamic
// bodies are moved by the solver.
type BodyType uint8

const (
	BodyStatic BodyType = iota
	BodyKinematic
	BodyDynamic
)

// BodyDescription is the external, single-body-at-a-time representation
// used by AddBody/SetDescription (spec §6). Ported from B2BodyDef, lifted
// from 2D to 3D and carrying the local inverse inertia tensor and
// damping/gravity-scale fields the distilled spec dropped but the
// teacher's fuller model always had (SPEC_FULL.md §3).
type BodyDescription struct {
	Type BodyType

	Position    mgl64.Vec3
	Orientation mgl64.Quat

	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3

	InverseMass          float64
	LocalInverseInertia  mgl64.Mat3
	LinearDamping        float64
	AngularDamping       float64
	GravityScale         float64
	AllowSleep           bool
}

// DefaultBodyDescription returns a dynamic unit-mass body at the origin,
// mirroring MakeB2BodyDef's role of seeding sane defaults.
func DefaultBodyDescription() BodyDescription {
	return BodyDescription{
		Type:                BodyDynamic,
		Orientation:         mgl64.QuatIdent(),
		InverseMass:         1,
		LocalInverseInertia: mgl64.Ident3(),
		GravityScale:        1,
		AllowSleep:          true,
	}
}

// bodyRecord is the dense, per-body storage record kept in the active or a
// sleeping set. World inverse inertia is cached here and recomputed once
// per sub-step by whichever bundle integrates the body (spec §4.7).
type bodyRecord struct {
	handle BodyHandle
	desc   BodyDescription

	worldInverseInertia mgl64.Mat3
	sleepTime           float64
}

func newBodyRecord(handle BodyHandle, desc BodyDescription) bodyRecord {
	return bodyRecord{
		handle:              handle,
		desc:                desc,
		worldInverseInertia: worldInverseInertia(desc.LocalInverseInertia, desc.Orientation),
	}
}
