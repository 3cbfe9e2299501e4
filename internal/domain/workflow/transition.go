package workflow

// revenueCycle is the forward transition table of the revenue-cycle workflow
var revenueCycle = buildRevenueCycleTable()

func buildRevenueCycleTable() *Table {
	builder := NewTableBuilder()

	builder.Configure(StepInit).
		Advance(StepDataCollection)

	builder.Configure(StepDataCollection).
		AdvanceIf(StepDataStructuring, func(r *Record) bool {
			return r.Patient != nil && r.Encounter != nil && r.Status == StatusProcessing
		})

	builder.Configure(StepDataStructuring).
		AdvanceIf(StepMedicalCoding, func(r *Record) bool {
			return r.Structured != nil && r.Status == StatusProcessing
		})

	builder.Configure(StepMedicalCoding).
		AdvanceIf(StepEligibilityChecking, func(r *Record) bool {
			return r.Codes != nil && r.Status == StatusProcessing
		})

	builder.Configure(StepEligibilityChecking).
		AdvanceIf(StepClaimProcessing, func(r *Record) bool {
			return r.Eligibility != nil && r.Status == StatusProcessing
		})

	builder.Configure(StepClaimProcessing).
		AdvanceIf(StepCompleted, func(r *Record) bool {
			return r.Claim != nil || r.Done
		})

	// COMPLETED is terminal
	builder.Configure(StepCompleted).
		Advance(StepCompleted)

	return builder.Build()
}

// NextStep decides the step that should run next. It has no side effects.
//
// Priority: a pending question always routes to data collection, an error
// freezes the current step, and a finished workflow goes to COMPLETED.
// Otherwise the transition table for the current step decides.
func NextStep(r *Record) Step {
	switch {
	case r.NeedUserInput:
		return StepDataCollection
	case r.ErrorMessage != "":
		return r.Step
	case r.Done:
		return StepCompleted
	}
	return revenueCycle.Next(r)
}

// Targets lists the forward targets configured for a step
func Targets(step Step) []Step {
	return revenueCycle.Targets(step)
}
