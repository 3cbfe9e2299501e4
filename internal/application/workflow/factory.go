package workflow

import (
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// BuildStepHandlers maps every workflow step to its handler
func BuildStepHandlers(h *Handlers) map[domainwf.Step]StepHandler {
	return map[domainwf.Step]StepHandler{
		domainwf.StepInit:                h.Init,
		domainwf.StepDataCollection:      h.Collect,
		domainwf.StepDataStructuring:     h.Structure,
		domainwf.StepMedicalCoding:       h.Code,
		domainwf.StepEligibilityChecking: h.CheckEligibility,
		domainwf.StepClaimProcessing:     h.ProcessClaim,
		domainwf.StepCompleted:           h.Complete,
	}
}
