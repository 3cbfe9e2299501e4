package workflow

import (
	"context"
	"fmt"

	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

const (
	insuranceQuestion = "I need patient insurance information to check eligibility. Please provide the insurance provider and policy details."
	priorAuthQuestion = "Prior authorization is required for this service. Would you like me to initiate the prior auth process?"

	alternativeCoverageQuestion = "A claim can only be submitted for active coverage. Please provide an alternative insurance provider and policy number (for example \"Insurance: THIQA, Policy Number: TQ1234567890\"), or type exit to end the session and arrange self-pay."
)

// CheckEligibility verifies coverage with the payer
func (h *Handlers) CheckEligibility(ctx context.Context, r *domainwf.Record) {
	if !active(r, domainwf.StepEligibilityChecking) {
		return
	}

	if r.Patient == nil || r.Patient.InsuranceProvider == "" {
		h.needInput(r, insuranceQuestion)
		return
	}

	payerID := MapPayer(r.Patient.InsuranceProvider)
	serviceDate := h.now().Format("2006-01-02")
	if r.Encounter != nil && r.Encounter.ServiceDate != "" {
		serviceDate = r.Encounter.ServiceDate
	}

	result, err := h.checkEligibility(ctx, patientRef(r), payerID, serviceDate)
	if err != nil {
		h.fail(r, "Eligibility checking", err)
		return
	}
	if result.PayerID == "" {
		result.PayerID = payerID
	}
	if result.VerificationDate == "" {
		result.VerificationDate = h.now().Format("2006-01-02")
	}

	// A payer that omits the score is recorded as 0 but not held for review
	var confidence float64
	if result.ConfidenceScore != nil {
		confidence = *result.ConfidenceScore
	}
	r.Eligibility = result
	r.SetConfidence(domainwf.StepEligibilityChecking, confidence)

	h.logger.Info("Eligibility checked",
		"session_id", r.SessionID,
		"payer_id", result.PayerID,
		"eligible", result.Eligible,
	)

	switch {
	case !result.Eligible:
		reason := result.Reason
		if reason == "" {
			reason = "not specified"
		}
		r.RequestReview(fmt.Sprintf(
			"Patient is not eligible for coverage. Reason: %s. Would you like to proceed with self-pay or check alternative coverage?",
			reason))
	case result.RequiresPriorAuth || result.CoverageDetails.RequiresPriorAuth:
		r.RequestReview(priorAuthQuestion)
	case result.ConfidenceScore != nil && confidence < h.reviewThreshold:
		h.holdForReview(r, confidence, fmt.Sprintf(
			"Eligibility was verified with low confidence (%.2f). Please confirm the coverage details before the claim is prepared.",
			confidence))
	default:
		r.Status = domainwf.StatusProcessing
		r.AddAssistant(fmt.Sprintf("Coverage with %s verified. Preparing the claim...", result.PayerID))
	}
}

// patientRef identifies the patient to the payer
func patientRef(r *domainwf.Record) string {
	switch {
	case r.Patient != nil && r.Patient.PatientID != "":
		return r.Patient.PatientID
	case r.Context[domainwf.ContextPatientID] != "":
		return r.Context[domainwf.ContextPatientID]
	case r.Patient != nil && r.Patient.MRN != "":
		return r.Patient.MRN
	}
	return "unknown"
}
