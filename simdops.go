package bepu

import "github.com/ajroetker/go-highway/hwy"

// Bundle-wide vector arithmetic over already-gathered, contiguous
// per-field bundles. Grounded directly on akhenakh-geo/s2/vector_ops_hwy.go
// and sibling *_hwy.go files, which run exactly this Load/op/Store shape
// over SoA float64 slices; the difference here is that our "SoA slices"
// are bundle windows (length LaneWidth) rather than whole arrays, so every
// call below processes exactly one bundle and a tail mask is never needed
// inside these helpers — callers already know the valid lane count for a
// partial last bundle and use only the valid lanes of each result: the
// kernels bound their lane loops by it, and integrateLanes blends its
// candidates against the old state with bundleSelect, matching the spec's
// "always compute into a wide register; then blend" model (spec §9).

// bundleCross3 computes c = a x b component-wise across a bundle, for two
// 3-vectors represented as three scalarBundle-sized slices each.
func bundleCross3(ax, ay, az, bx, by, bz []float64) (cx, cy, cz []float64) {
	vax, vay, vaz := hwy.Load(ax), hwy.Load(ay), hwy.Load(az)
	vbx, vby, vbz := hwy.Load(bx), hwy.Load(by), hwy.Load(bz)

	vcx := hwy.Sub(hwy.Mul(vay, vbz), hwy.Mul(vaz, vby))
	vcy := hwy.Sub(hwy.Mul(vaz, vbx), hwy.Mul(vax, vbz))
	vcz := hwy.Sub(hwy.Mul(vax, vby), hwy.Mul(vay, vbx))

	cx, cy, cz = make([]float64, LaneWidth), make([]float64, LaneWidth), make([]float64, LaneWidth)
	hwy.Store(vcx, cx)
	hwy.Store(vcy, cy)
	hwy.Store(vcz, cz)
	return
}

// bundleDot3 computes dot = a.b lane-wise across a bundle.
func bundleDot3(ax, ay, az, bx, by, bz []float64) []float64 {
	vax, vay, vaz := hwy.Load(ax), hwy.Load(ay), hwy.Load(az)
	vbx, vby, vbz := hwy.Load(bx), hwy.Load(by), hwy.Load(bz)

	vdot := hwy.Add(hwy.Add(hwy.Mul(vax, vbx), hwy.Mul(vay, vby)), hwy.Mul(vaz, vbz))

	dot := make([]float64, LaneWidth)
	hwy.Store(vdot, dot)
	return dot
}

// bundleAddScaled computes dst = a + b*scale lane-wise, the shape of a
// velocity update (v += invMass * impulse) or a warm-start application.
func bundleAddScaled(a, b, scale []float64) []float64 {
	va, vb, vs := hwy.Load(a), hwy.Load(b), hwy.Load(scale)
	v := hwy.FMA(vb, vs, va)
	out := make([]float64, LaneWidth)
	hwy.Store(v, out)
	return out
}

// bundleClampMagnitude clamps each lane of v to [-limit, limit] lane-wise,
// the bundle form of a per-constraint impulse clamp (spec §7: "Constraint
// impulses are clamped per DOF to configured maxima").
func bundleClampMagnitude(v, limit []float64) []float64 {
	vv, vl := hwy.Load(v), hwy.Load(limit)
	negl := hwy.Neg(vl)
	clampedLow := hwy.Max(vv, negl)
	clamped := hwy.Min(clampedLow, vl)
	out := make([]float64, LaneWidth)
	hwy.Store(clamped, out)
	return out
}

// bundleSelect blends computed into base wherever mask selects true. Used
// for arbitrary per-lane gating (e.g. per-body integration responsibility,
// spec §4.7) where the active lanes are not a contiguous prefix and so
// cannot be built from hwy.TailMask; go-highway's public surface in this
// retrieval pack only exposes mask construction via TailMask and
// comparison ops (GreaterEqual), neither of which can express an arbitrary
// bit pattern, so this case stays a plain per-lane loop over the laneMask
// bool array built in bundle.go.
func bundleSelect(mask laneMask, computed, base []float64) []float64 {
	out := make([]float64, LaneWidth)
	for i := 0; i < LaneWidth; i++ {
		if mask[i] {
			out[i] = computed[i]
		} else {
			out[i] = base[i]
		}
	}
	return out
}
