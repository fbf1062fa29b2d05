package bepu

import (
	"context"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
)

// Solver is the top-level entry point (spec §6), owning body storage, the
// constraint type registry, the batch set, and the sub-stepping driver.
// Ported from DynamicsB2World.go's role as the aggregate root that owns
// bodies/joints/contacts and exposes CreateBody/CreateJoint/Step, adapted
// from box2d's single implicit island to the explicit AOSOA batch model.
type Solver struct {
	Config Config
	Gravity mgl64.Vec3

	Bodies   *BodyStore
	Registry *TypeRegistry
	Batches  *batchSet

	Scheduler *Scheduler
	Driver    *SubstepDriver

	constraintHandles *handleTable[constraintLocation]
	typeIDs           constraintTypeIDs
}

// NewSolver constructs a Solver from cfg and registry, wiring up the
// scheduler and sub-stepping driver (spec §6's registration + config
// contract).
func NewSolver(cfg Config, registry *TypeRegistry, gravity mgl64.Vec3, angularMode AngularIntegrationMode) *Solver {
	bodies := NewBodyStore(cfg.InitialCapacity)
	scheduler := NewScheduler(cfg.WorkerCount, cfg.BlockBundles)
	s := &Solver{
		Config:            cfg,
		Gravity:           gravity,
		Bodies:            bodies,
		Registry:          registry,
		Batches:           newBatchSet(cfg.FallbackBatchThreshold),
		Scheduler:         scheduler,
		constraintHandles: newHandleTable[constraintLocation](cfg.InitialCapacity),
	}
	s.Driver = &SubstepDriver{
		Scheduler:   scheduler,
		Registry:    registry,
		Integrator:  GravityIntegrator(bodies, gravity),
		AngularMode: angularMode,
		Iterations:  cfg.IterationCount,
	}
	s.typeIDs = registerBuiltinConstraintTypes(registry)
	return s
}

// AddBody creates a new active dynamic/kinematic/static body.
func (s *Solver) AddBody(desc BodyDescription) BodyHandle {
	return s.Bodies.AddBody(desc)
}

// RemoveBody removes an active body. Every constraint still referencing it
// must be removed first (spec §4.4's removal contract via
// enumerateConnectedBodies); callers that need "remove body and its
// constraints" should walk GetDescription-adjacent bookkeeping themselves,
// mirroring DestroyBody's explicit joint-list walk in DynamicsB2World.go.
func (s *Solver) RemoveBody(h BodyHandle) {
	s.Bodies.RemoveBody(h)
}

func (s *Solver) GetDescription(h BodyHandle) (BodyDescription, bool) {
	return s.Bodies.Description(h)
}

func (s *Solver) SetDescription(h BodyHandle, desc BodyDescription) {
	s.Bodies.SetDescription(h, desc)
}

// AddConstraint is the generic half of constraint creation (spec §4.3/§6):
// it resolves body handles to active indices, picks a batch via the
// greedy Batch Builder, allocates a slot in that batch's processor for
// typeID, and returns the processor (for the caller's typed wrapper to
// type-assert and fill in prestep description fields) plus the index and
// stable handle. Per-type constructors (AddWeldJoint, AddBallSocketJoint,
// AddContact, ...) call this and then write their own description.
func (s *Solver) AddConstraint(typeID int32, bodyHandles []BodyHandle) (TypeProcessor, int32, ConstraintHandle) {
	bodyIndices := make([]int32, len(bodyHandles))
	for i, h := range bodyHandles {
		set, idx, ok := s.Bodies.HandleToLocation(h)
		assertf(ok && set == setActive, "AddConstraint: body handle %d is not active", h)
		bodyIndices[i] = idx
	}

	batchIndex := s.Batches.choose(bodyHandles)
	if batchIndex < 0 {
		slog.Info("constraint_batch_overflow_to_fallback", "type_id", typeID, "body_count", len(bodyHandles))
	}
	batch := s.Batches.batchAt(batchIndex)
	proc := batch.processor(s.Registry, typeID, s.Config.MinimumCapacityPerTypeBatch)

	handle := ConstraintHandle(s.constraintHandles.allocate(constraintLocation{}))
	index := proc.Allocate(handle, bodyIndices)
	s.constraintHandles.set(int32(handle), constraintLocation{
		set: setActive, batch: int32(batchIndex), typeID: typeID, indexInBatch: index,
	})
	batch.addBodies(bodyHandles)
	return proc, index, handle
}

// batchByLocation resolves a constraintLocation's batch field back to a
// *constraintBatch.
func (s *Solver) batchByLocation(loc constraintLocation) *constraintBatch {
	if loc.batch < 0 {
		return s.Batches.fallback
	}
	return s.Batches.batches[loc.batch]
}

// RemoveConstraint removes a constraint by handle, updating the central
// table for whatever constraint got swapped into its old slot (spec
// §4.3's remove contract).
func (s *Solver) RemoveConstraint(h ConstraintHandle) {
	loc, ok := s.constraintHandles.get(int32(h))
	assertf(ok, "RemoveConstraint: unknown handle %d", h)
	batch := s.batchByLocation(loc)
	proc := batch.processors[loc.typeID]

	var bodyHandles []BodyHandle
	proc.EnumerateConnectedBodies(loc.indexInBatch, func(_ int, bodyIndex int32) {
		bodyHandles = append(bodyHandles, s.Bodies.indexToHandle[bodyIndex])
	})

	movedHandle := proc.Remove(loc.indexInBatch)
	if movedHandle != ConstraintHandle(invalidHandle) {
		movedLoc, _ := s.constraintHandles.get(int32(movedHandle))
		movedLoc.indexInBatch = loc.indexInBatch
		s.constraintHandles.set(int32(movedHandle), movedLoc)
	}
	s.constraintHandles.free(int32(h))
	batch.removeBodies(bodyHandles)
}

// Step advances every active body by dt (spec §4.7), then runs the
// sleep/wake pass if allowed. ctx is passed to the driver, which does not
// read it; a Step is never cancelled.
func (s *Solver) Step(ctx context.Context, dt float64, substepCount int) {
	s.Driver.Step(ctx, s.Batches, s.Bodies, dt, substepCount)
	s.updateSleep(dt)
}

// updateSleep runs the sleep-candidate scan and puts every fully-settled
// island to sleep (spec §4.8), mirroring DynamicsB2Island.go's
// minSleepTime gating but generalized from one implicit island to however
// many connected components the constraint graph currently has.
//
// sleepCandidates is evaluated once, as an index snapshot, but every
// sleepIsland call below swap-removes from Bodies.active and shrinks it —
// so a later candidate's index can point at a different body (or out of
// bounds) by the time its turn comes up. Candidates are therefore carried
// as handles and re-resolved to a current index right before each
// island's membership is computed, which keeps islandOf/canSleepIsland/
// sleepIsland working from the post-mutation layout instead of the stale
// snapshot.
func (s *Solver) updateSleep(dt float64) {
	candidates := sleepCandidates(s.Bodies, dt)
	candidateHandles := make([]BodyHandle, len(candidates))
	for i, idx := range candidates {
		candidateHandles[i] = s.Bodies.indexToHandle[idx]
	}

	visited := make(map[BodyHandle]bool)
	for _, seedHandle := range candidateHandles {
		if visited[seedHandle] {
			continue
		}
		set, seedIndex, ok := s.Bodies.HandleToLocation(seedHandle)
		if !ok || set != setActive {
			// Already folded into an earlier island this pass (now
			// sleeping), or otherwise no longer an active body.
			visited[seedHandle] = true
			continue
		}

		members := islandOf(seedIndex, s.Batches, s.Bodies)
		memberHandles := make([]BodyHandle, len(members))
		for i, idx := range members {
			memberHandles[i] = s.Bodies.indexToHandle[idx]
		}
		for _, h := range memberHandles {
			visited[h] = true
		}
		if len(members) == 0 || !canSleepIsland(members, s.Bodies) {
			continue
		}
		s.sleepIsland(members)
	}
}
