package bepu

// growAll, moveAll, and clearAll are the shared per-field plumbing every
// concrete BundleColumns implementation needs (spec §4.1's per-field
// scalarBundle discipline); each constraint type's prestep/impulse struct
// calls these instead of repeating the same three-line loop per field.
func growAll(capacityBundles int, fields ...*scalarBundle) {
	for _, f := range fields {
		f.grow(capacityBundles)
	}
}

func moveAll(dstIndex, srcIndex int, fields ...*scalarBundle) {
	for _, f := range fields {
		laneCopy(f, dstIndex, f, srcIndex)
	}
}

func clearAll(i int, fields ...*scalarBundle) {
	for _, f := range fields {
		laneClear(f, i)
	}
}

func copyAll(dstIndex, srcIndex int, dstFields, srcFields []*scalarBundle) {
	for i := range dstFields {
		laneCopy(dstFields[i], dstIndex, srcFields[i], srcIndex)
	}
}
