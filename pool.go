package bepu

// growCapacity doubles cap until it is at least needed, the geometric
// growth rule spec §4.3 requires ("grows storage (>=2x geometric growth)
// when full"). Ported in spirit from CommonB2GrowableStack.go, which grew
// a linked list one node at a time; bundle arrays instead grow a backing
// slice geometrically so bundle pointers stay stable within a grow-free
// window.
func growCapacity(cap, needed, minimum int) int {
	if cap < minimum {
		cap = minimum
	}
	for cap < needed {
		cap *= 2
	}
	return cap
}

// bundleCapacityFor returns the number of bundles needed to hold count
// constraints at lane width w, i.e. ceil(count / w).
func bundleCapacityFor(count, w int) int {
	return (count + w - 1) / w
}
