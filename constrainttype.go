package bepu

// BundleColumns is implemented by a per-constraint-type prestep or
// accumulated-impulse column struct (a hand-written AOSOA struct of
// scalarBundle fields, one per constraint-type source file under
// joint_*.go/contact.go). It gives the generic TypeBatch the grow/move/
// clear/copy operations spec §4.3 needs without runtime reflection (spec
// §9: "No runtime type reflection is needed" — concrete per-type structs,
// specialized at compile time via Go generics, stand in for the source's
// per-type vtable).
type BundleColumns interface {
	growColumns(capacityBundles int)
	// moveLane copies lane srcIndex onto lane dstIndex within the same
	// columns instance (the swap-remove primitive).
	moveLane(dstIndex, srcIndex int)
	// copyLaneFrom copies lane srcIndex of src onto lane dstIndex of the
	// receiver. src is always the same concrete type as the receiver; the
	// single type assertion each implementation performs is not runtime
	// type reflection in the sense spec §9 rules out, it only ever
	// succeeds because transferConstraint only moves constraints between
	// batches of the same registered type.
	copyLaneFrom(src BundleColumns, srcIndex, dstIndex int)
	clearLane(i int)
}

// Kernel bundles the three math entry points a constraint type supplies
// (spec §4.3/§6 Registration): warmStart, solve, and the integration-fused
// warm-start variant used on whichever batch is a body's first observation
// this sub-step (spec §4.7's "always/conditionally integrate" codepaths).
// Ported in spirit from the teacher's per-joint InitVelocityConstraints/
// SolveVelocityConstraints split (DynamicsB2JointWeld.go), fused here per
// Open Question #1: there is no persistent projection, so "prestep" is
// folded into both WarmStart and WarmStartIntegrating.
type Kernel[P BundleColumns, Imp BundleColumns] struct {
	// WarmStart applies the accumulated impulse as a velocity change along
	// the jacobian taken from current body state; effective mass and the
	// positional bias are computed by Solve, not here.
	WarmStart func(tb *TypeBatch[P, Imp], bodies *BodyStore, h, invH float64, startBundle, endBundle int)
	// WarmStartIntegrating is WarmStart plus, for every lane flagged in
	// mask, the pose-integration contract of spec §4.7: advance pose, call
	// the user integrator callback, refresh world inertia, before applying
	// the warm-start impulse with the now-current body state.
	WarmStartIntegrating func(tb *TypeBatch[P, Imp], bodies *BodyStore, h, invH float64, startBundle, endBundle int, mask func(bundleIndex, bodySlot int) laneMask, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int)
	// Solve computes constraint-space velocity error, applies effective
	// mass, softness and per-DOF impulse clamps, and scatters the velocity
	// change back, once per solver iteration.
	Solve func(tb *TypeBatch[P, Imp], bodies *BodyStore, iterationCount int, h, invH float64, startBundle, endBundle int)
}

// TypeProcessor is the dynamically-dispatched vtable spec §4.3 describes:
// "One type processor instance per registered constraint type. Each is a
// function pack that operates on one type batch at a time." Every
// TypeBatch[P, Imp] instantiation satisfies this interface; dispatch from
// the scheduler is an ordinary Go interface call, amortized over thousands
// of bundles per spec §9 ("performance is insensitive" to the dispatch
// mechanism).
type TypeProcessor interface {
	TypeID() int32
	BodyCount() int
	Count() int32
	BundleCount() int

	IndexToHandle(i int32) ConstraintHandle

	// Allocate appends one constraint referencing bodyIndices, returning
	// its dense index within this type batch.
	Allocate(handle ConstraintHandle, bodyIndices []int32) int32

	// EnumerateConnectedBodies yields the N body handles/indices referenced
	// by the constraint at index, for removal and sleep bookkeeping.
	EnumerateConnectedBodies(index int32, callback func(bodyIndexInConstraint int, bodyIndex int32))

	// Remove swap-removes index, returning the handle of whatever
	// constraint was moved into the freed slot (or invalidHandle if index
	// was already the last slot).
	Remove(index int32) ConstraintHandle

	// SetBodyIndices overwrites the body reference lanes of constraint
	// index. Nothing in the package calls it; wake gives each constraint a
	// fresh slot through Allocate instead.
	SetBodyIndices(index int32, bodyIndices []int32)
	// BodyIndicesAt reads back the body reference lanes, used by sleep to
	// convert indices to handles before storing the snapshot.
	BodyIndicesAt(index int32) []int32

	WarmStart(bodies *BodyStore, h, invH float64, startBundle, endBundle int)
	WarmStartIntegrating(bodies *BodyStore, h, invH float64, startBundle, endBundle int, mask func(bundleIndex, bodySlot int) laneMask, integrator IntegratorCallback, angularMode AngularIntegrationMode, workerIndex int)
	Solve(bodies *BodyStore, iterationCount int, h, invH float64, startBundle, endBundle int)
}

// TypeFactory creates a fresh, empty TypeProcessor for a registered type.
// Every non-fallback constraint batch and the fallback batch each get
// their own TypeProcessor instance per type (spec: "Type batch. Contiguous
// column storage for all constraints of a single type within a single
// constraint batch").
type TypeFactory func(initialCapacity int) TypeProcessor

// TypeRegistry holds one TypeFactory per dense type id in [0, N), the
// registration contract of spec §6.
type TypeRegistry struct {
	factories []TypeFactory
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{}
}

// Register assigns the next dense type id to factory and returns it.
func (r *TypeRegistry) Register(factory TypeFactory) int32 {
	id := int32(len(r.factories))
	r.factories = append(r.factories, factory)
	return id
}

func (r *TypeRegistry) newProcessor(typeID int32, initialCapacity int) TypeProcessor {
	assertf(int(typeID) < len(r.factories), "unregistered constraint type id %d", typeID)
	return r.factories[typeID](initialCapacity)
}
