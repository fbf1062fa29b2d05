package bepu

// constraintTypeIDs holds the dense type ids assigned to the reference
// constraint catalogue (spec §8) when a Solver registers it on its
// TypeRegistry. Applications that need additional constraint types can
// still call Registry.Register themselves after NewSolver returns; the ids
// below are only a convenience so the typed AddWeldJoint/AddBallSocketJoint/
// AddGearMotor/AddContact constructors don't need every caller to thread a
// type id through by hand.
type constraintTypeIDs struct {
	ballSocket int32
	weld       int32
	gearMotor  int32
	contact    int32
}

// registerBuiltinConstraintTypes registers the four reference constraint
// types in a fixed order and returns their dense ids.
func registerBuiltinConstraintTypes(registry *TypeRegistry) constraintTypeIDs {
	return constraintTypeIDs{
		ballSocket: registerBallSocketKernel(registry),
		weld:       registerWeldKernel(registry),
		gearMotor:  registerGearMotorKernel(registry),
		contact:    registerContactKernel(registry),
	}
}
