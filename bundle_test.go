package bepu

import "testing"

func TestScalarBundleGetSetRoundTrip(t *testing.T) {
	b := newScalarBundle(bundleCount(LaneWidth*3 + 1))
	for i := 0; i < LaneWidth*3+1; i++ {
		b.set(i, float64(i)*1.5)
	}
	for i := 0; i < LaneWidth*3+1; i++ {
		if got := b.get(i); got != float64(i)*1.5 {
			t.Fatalf("get(%d) = %v, want %v", i, got, float64(i)*1.5)
		}
	}
}

func TestScalarBundleGrowPreservesExisting(t *testing.T) {
	b := newScalarBundle(1)
	b.set(0, 42)
	b.grow(4)
	if got := b.get(0); got != 42 {
		t.Fatalf("grow lost existing value: got %v", got)
	}
	b.set(LaneWidth*3, 7)
	if got := b.get(LaneWidth * 3); got != 7 {
		t.Fatalf("grow did not extend storage: got %v", got)
	}
}

func TestLaneCopyMovesValue(t *testing.T) {
	src := newScalarBundle(bundleCount(4))
	dst := newScalarBundle(bundleCount(4))
	src.set(2, 99)
	laneCopy(&dst, 5%LaneWidth, &src, 2)
	if got := dst.get(5 % LaneWidth); got != 99 {
		t.Fatalf("laneCopy did not move value: got %v", got)
	}
}

func TestLaneClearZeroesSlot(t *testing.T) {
	b := newScalarBundle(bundleCount(4))
	b.set(3, 5)
	laneClear(&b, 3)
	if got := b.get(3); got != 0 {
		t.Fatalf("laneClear left nonzero value: got %v", got)
	}
}

func TestFullMaskAllTrue(t *testing.T) {
	m := fullMask()
	for lane := 0; lane < LaneWidth; lane++ {
		if !m[lane] {
			t.Fatalf("fullMask lane %d not set", lane)
		}
	}
}

func TestTailMaskForPartial(t *testing.T) {
	if LaneWidth < 2 {
		t.Skip("lane width too narrow to exercise a partial mask")
	}
	m := tailMaskFor(1)
	if !m[0] {
		t.Fatalf("tailMaskFor(1) did not set lane 0")
	}
	for lane := 1; lane < LaneWidth; lane++ {
		if m[lane] {
			t.Fatalf("tailMaskFor(1) unexpectedly set lane %d", lane)
		}
	}
}

func TestBlendBundleRespectsMask(t *testing.T) {
	dst := make([]float64, LaneWidth)
	computed := make([]float64, LaneWidth)
	var mask laneMask
	for i := range dst {
		dst[i] = float64(i)
		computed[i] = float64(100 + i)
	}
	mask[0] = true
	blendBundle(dst, computed, mask)
	if dst[0] != 100 {
		t.Fatalf("blendBundle did not overwrite masked lane: got %v", dst[0])
	}
	for lane := 1; lane < LaneWidth; lane++ {
		if dst[lane] != float64(lane) {
			t.Fatalf("blendBundle overwrote unmasked lane %d: got %v", lane, dst[lane])
		}
	}
}

func TestBundleIndexAndInnerIndex(t *testing.T) {
	for i := 0; i < LaneWidth*5; i++ {
		bundleIndex := getBundleIndex(i)
		inner := getInnerIndex(i)
		if bundleIndex*LaneWidth+inner != i {
			t.Fatalf("getBundleIndex/getInnerIndex don't reconstruct %d: bundle=%d inner=%d", i, bundleIndex, inner)
		}
	}
}

func TestBundleCountRoundsUp(t *testing.T) {
	if bundleCount(0) != 0 {
		t.Fatalf("bundleCount(0) = %d, want 0", bundleCount(0))
	}
	if got := bundleCount(1); got != 1 {
		t.Fatalf("bundleCount(1) = %d, want 1", got)
	}
	if got := bundleCount(LaneWidth + 1); got != 2 {
		t.Fatalf("bundleCount(LaneWidth+1) = %d, want 2", got)
	}
}
