package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

const notesQuestion = "I need clinical notes to process. Please provide the clinical documentation for this encounter."

// Structure turns the raw clinical notes into structured clinical data
func (h *Handlers) Structure(ctx context.Context, r *domainwf.Record) {
	if !active(r, domainwf.StepDataStructuring) {
		return
	}

	if r.Encounter == nil || strings.TrimSpace(r.Encounter.RawClinicalNotes) == "" {
		h.needInput(r, notesQuestion)
		return
	}

	decision, err := h.decide(ctx, request(r, port.StageStructuring))
	if err != nil {
		h.fail(r, "Data structuring", err)
		return
	}
	if decision.Message != "" {
		r.AddAssistant(decision.Message)
	}

	switch decision.Action {
	case port.ActionProceed:
		structured := decision.Payload.Structured
		if structured == nil {
			h.fail(r, "Data structuring", fmt.Errorf("%w: no structured data returned", domainwf.ErrOracleFailure))
			return
		}

		confidence := confidenceOf(decision, structured.ConfidenceScore)
		r.Structured = structured
		r.SetConfidence(domainwf.StepDataStructuring, confidence)

		if confidence < h.reviewThreshold {
			h.holdForReview(r, confidence, fmt.Sprintf(
				"The clinical data extraction had low confidence (%.2f). Please review and confirm the extracted information is accurate.",
				confidence))
			return
		}
		r.Status = domainwf.StatusProcessing

	case port.ActionAskUser:
		question := decision.Message
		if question == "" {
			question = notesQuestion
		}
		r.AskUser(question)

	default:
		h.fail(r, "Data structuring", oracleRefusal(decision))
	}
}

// oracleRefusal converts an error or unexpected action into an error
func oracleRefusal(d *port.Decision) error {
	if d.Action == port.ActionError {
		if d.Message == "" {
			return fmt.Errorf("%w: no reason given", domainwf.ErrOracleFailure)
		}
		return fmt.Errorf("%w: %s", domainwf.ErrOracleFailure, d.Message)
	}
	return fmt.Errorf("%w: unexpected action %q", domainwf.ErrOracleFailure, d.Action)
}
