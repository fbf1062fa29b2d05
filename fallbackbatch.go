package bepu

// fallbackReferenceCounts walks every type processor in the fallback
// batch and counts, per body index, how many fallback constraints
// reference it — the "k" of spec §4.5's "effective inverse mass is scaled
// by 1/k where k is the count of fallback constraints touching that
// body". Spirit-grounded on DynamicsB2ContactSolver.go's per-point
// independent impulse accumulation (no teacher file has an equivalent
// averaging scheme; box2d always solves sequentially).
func fallbackReferenceCounts(fallback *constraintBatch) map[int32]float64 {
	counts := make(map[int32]int32)
	for _, proc := range fallback.processors {
		n := proc.Count()
		for i := int32(0); i < n; i++ {
			proc.EnumerateConnectedBodies(i, func(_ int, bodyIndex int32) {
				counts[bodyIndex]++
			})
		}
	}
	scale := make(map[int32]float64, len(counts))
	for idx, k := range counts {
		if k > 0 {
			scale[idx] = 1.0 / float64(k)
		}
	}
	return scale
}

// solveFallback runs one Jacobi-averaged solve iteration over every type
// processor in the fallback batch. Warm-starting the fallback is not part
// of this call: substep.go runs it as a separate pass (warmStartFallback,
// or warmStartFallbackIntegrating when some body is referenced only by the
// fallback) after the synchronized batches' warm-starts and before the
// solve iterations.
func solveFallback(fallback *constraintBatch, bodies *BodyStore, h, invH float64) {
	scale := fallbackReferenceCounts(fallback)
	if len(scale) == 0 {
		return
	}
	bodies.beginJacobi(scale)
	for _, proc := range fallback.processors {
		bundles := proc.BundleCount()
		if bundles == 0 {
			continue
		}
		proc.Solve(bodies, 1, h, invH, 0, bundles)
	}
	bodies.endJacobi()
}

func warmStartFallback(fallback *constraintBatch, bodies *BodyStore, h, invH float64) {
	scale := fallbackReferenceCounts(fallback)
	if len(scale) == 0 {
		return
	}
	bodies.beginJacobi(scale)
	for _, proc := range fallback.processors {
		bundles := proc.BundleCount()
		if bundles == 0 {
			continue
		}
		proc.WarmStart(bodies, h, invH, 0, bundles)
	}
	bodies.endJacobi()
}
