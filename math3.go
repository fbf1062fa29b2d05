package bepu

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// B2IsValid reports whether x is finite. Ported from the teacher's
// b2Math.h; the solver never sanitizes pathological input (spec §7), and
// nothing in the package calls this.
func B2IsValid(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// skewMat3 builds the cross-product matrix [v]x such that skewMat3(v).Mul3x1(u) == v.Cross(u).
func skewMat3(v mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3{
		0, v[2], -v[1],
		-v[2], 0, v[0],
		v[1], -v[0], 0,
	}
}

// symInverse3 inverts a symmetric 3x3 matrix, falling back to the zero
// matrix when singular (ported from B2Mat33.GetSymInverse33's guard).
func symInverse3(m mgl64.Mat3) mgl64.Mat3 {
	det := m.Det()
	if math.Abs(det) < 1e-300 {
		return mgl64.Mat3{}
	}
	return m.Inv()
}

// integrateOrientationHalfStep advances an orientation by a half-step
// quaternion derivative of angularVelocity, the way the spec's pose
// integration contract requires: q' = normalize(q + 0.5*h*(0,w)*q).
func integrateOrientationHalfStep(q mgl64.Quat, angularVelocity mgl64.Vec3, h float64) mgl64.Quat {
	omega := mgl64.Quat{W: 0, V: angularVelocity}
	dq := omega.Mul(q)
	next := mgl64.Quat{
		W: q.W + dq.W*0.5*h,
		V: q.V.Add(dq.V.Mul(0.5 * h)),
	}
	return next.Normalize()
}

// worldInverseInertia recomputes the world-space inverse inertia tensor
// from the local inverse inertia and the current orientation: I_inv_world
// = R * I_inv_local * R^T, ported from the teacher's per-body GetInertia
// but lifted to a full 3x3 (the teacher only ever had a scalar).
func worldInverseInertia(localInvInertia mgl64.Mat3, orientation mgl64.Quat) mgl64.Mat3 {
	r := orientation.Mat4().Mat3()
	return r.Mul3(localInvInertia).Mul3(r.Transpose())
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampVec3Length(v mgl64.Vec3, maxLen float64) mgl64.Vec3 {
	l := v.Len()
	if l <= maxLen || l == 0 {
		return v
	}
	return v.Mul(maxLen / l)
}
