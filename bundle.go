// Package bepu implements the constraint-solver core of a rigid-body
// physics engine: AOSOA-bundled constraint storage, a disjoint-body batch
// builder with a Jacobi fallback, a block-claiming work scheduler, and a
// sub-stepping driver that folds pose integration into warm-start.
package bepu

import (
	"math/bits"

	"github.com/ajroetker/go-highway/hwy"
)

// LaneWidth is the hardware SIMD lane count for float64 bundles, resolved
// once from go-highway's runtime CPU dispatch (spec §4.1: "Width W equals
// the hardware SIMD lane count"). Unlike a hand-written AVX kernel this is
// not a compile-time constant; it is measured at init and assumed to be a
// power of two, which every width go-highway reports (1/2/4/8) satisfies.
var LaneWidth = detectLaneWidth()

// laneShift is log2(LaneWidth), used by getBundleIndex/getInnerIndex in
// place of a literal shift amount.
var laneShift = bits.Len(uint(LaneWidth)) - 1

func detectLaneWidth() int {
	probe := make([]float64, 64)
	n := 0
	hwy.ProcessWithTail[float64](len(probe),
		func(offset int) {
			if n == 0 {
				n = hwy.Load(probe[offset:]).NumLanes()
			}
		},
		func(offset, count int) {},
	)
	if n <= 0 {
		n = 1
	}
	// round down to a power of two
	w := 1
	for w*2 <= n {
		w *= 2
	}
	return w
}

// getBundleIndex returns which bundle constraint/body i lives in.
func getBundleIndex(i int) int {
	return i >> laneShift
}

// getInnerIndex returns constraint/body i's lane within its bundle.
func getInnerIndex(i int) int {
	return i & (LaneWidth - 1)
}

// bundleCount returns how many bundles are needed to store count items.
func bundleCount(count int) int {
	return bundleCapacityFor(count, LaneWidth)
}

// scalarBundle is one field's storage for one type batch: a flat slice of
// capacity*LaneWidth scalars, bundle b occupying
// [b*LaneWidth, (b+1)*LaneWidth). This is the scalar-slot half of spec
// §4.1's AOSOA layout; compound fields (Vec3, Quat) are built from several
// scalarBundles, one per component, per the glossary's "W×4 contiguous
// scalars in [x0..xW-1, y0..yW-1, ...]" rule.
type scalarBundle struct {
	data []float64
}

func newScalarBundle(capacityBundles int) scalarBundle {
	return scalarBundle{data: make([]float64, capacityBundles*LaneWidth)}
}

func (b *scalarBundle) grow(capacityBundles int) {
	if len(b.data) >= capacityBundles*LaneWidth {
		return
	}
	next := make([]float64, capacityBundles*LaneWidth)
	copy(next, b.data)
	b.data = next
}

func (b *scalarBundle) bundle(bundleIndex int) []float64 {
	start := bundleIndex * LaneWidth
	return b.data[start : start+LaneWidth]
}

func (b *scalarBundle) get(i int) float64 {
	return b.bundle(getBundleIndex(i))[getInnerIndex(i)]
}

func (b *scalarBundle) set(i int, v float64) {
	b.bundle(getBundleIndex(i))[getInnerIndex(i)] = v
}

// laneCopy moves one lane's worth of scalars from src[srcBundle][srcInner]
// to dst[dstBundle][dstInner], the primitive spec §4.1 calls "a lane copy
// that moves W-strided scalar groups between two bundles at different
// inner indices" — used by swap-remove and transfer.
func laneCopy(dst *scalarBundle, dstIndex int, src *scalarBundle, srcIndex int) {
	dst.set(dstIndex, src.get(srcIndex))
}

// laneClear zeroes one lane, used when allocating a fresh slot (spec §3:
// "Accumulated impulses are cleared to zero on allocation").
func laneClear(b *scalarBundle, i int) {
	b.set(i, 0)
}

// writeFirstLane is the "write first lane" primitive spec §4.1 calls for
// description-level I/O: writing a single scalar description value into
// the lane that index i occupies (lane getInnerIndex(i) of its bundle),
// leaving the other W-1 lanes of that bundle untouched.
func writeFirstLane(b *scalarBundle, i int, v float64) {
	b.set(i, v)
}

// laneMask is the per-lane gating primitive spec §9 describes: "always
// compute into a wide register; then blend with the previous value using
// an integer mask register". true means "this lane is active/responsible".
type laneMask [8]bool // sized to the largest width go-highway reports (AVX-512 float64 = 8)

func fullMask() laneMask {
	var m laneMask
	for i := range m {
		m[i] = true
	}
	return m
}

// tailMaskFor returns a mask with only the first validCount lanes set,
// used on the last partial bundle of a type batch (spec §3: "The last
// partial bundle is padded with inactive lanes").
func tailMaskFor(validCount int) laneMask {
	var m laneMask
	for i := 0; i < validCount && i < LaneWidth; i++ {
		m[i] = true
	}
	return m
}

// blendBundle writes computed[lane] where mask[lane] is set and leaves
// dst[lane] unchanged otherwise — the scalar equivalent of hwy.IfThenElse
// over a manually-gathered bundle. Only the tests call it; the kernels
// bound their lane loops by the valid lane count, and integrateLanes
// blends with bundleSelect.
func blendBundle(dst []float64, computed []float64, mask laneMask) {
	for lane := 0; lane < LaneWidth; lane++ {
		if mask[lane] {
			dst[lane] = computed[lane]
		}
	}
}
