package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

const noCodesQuestion = "No medical codes could be suggested. Please provide more specific clinical information."

// Code suggests ICD-10 and CPT codes for the structured clinical data
func (h *Handlers) Code(ctx context.Context, r *domainwf.Record) {
	if !active(r, domainwf.StepMedicalCoding) {
		return
	}

	if r.Structured == nil {
		h.fail(r, "Medical coding", fmt.Errorf("%w: no structured clinical data available for coding", domainwf.ErrPrerequisiteMissing))
		return
	}

	decision, err := h.decide(ctx, request(r, port.StageCoding))
	if err != nil {
		h.fail(r, "Medical coding", err)
		return
	}

	switch decision.Action {
	case port.ActionProceed:
	case port.ActionAskUser:
		question := decision.Message
		if question == "" {
			question = noCodesQuestion
		}
		r.AddAssistant(question)
		r.AskUser(question)
		return
	default:
		h.fail(r, "Medical coding", oracleRefusal(decision))
		return
	}

	codes := decision.Payload.Codes
	if codes == nil || codes.Count() == 0 {
		h.needInput(r, noCodesQuestion)
		return
	}

	// Overall confidence is the mean over every code, not the oracle's own figure
	avg, _ := codes.AverageConfidence()
	r.Codes = codes
	r.SetConfidence(domainwf.StepMedicalCoding, avg)

	if codes.RequiresHumanReview || avg < h.codingThreshold {
		h.holdForReview(r, avg, fmt.Sprintf("Medical codes suggested with %.2f confidence. Do you approve these codes?", avg))
		return
	}

	r.Status = domainwf.StatusProcessing
	r.AddAssistant("Medical codes approved. Now checking patient eligibility...")
}
