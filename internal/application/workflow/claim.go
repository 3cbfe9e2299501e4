package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// ProcessClaim prices, assembles and submits the claim. A rejected or failed
// submission freezes the workflow; it is never retried automatically.
func (h *Handlers) ProcessClaim(ctx context.Context, r *domainwf.Record) {
	if !active(r, domainwf.StepClaimProcessing) {
		return
	}

	var missing []string
	if r.Patient == nil {
		missing = append(missing, "patient data")
	}
	if r.Encounter == nil {
		missing = append(missing, "encounter data")
	}
	if r.Codes == nil {
		missing = append(missing, "medical codes")
	}
	if r.Eligibility == nil || !r.Eligibility.Eligible {
		missing = append(missing, "valid eligibility")
	}
	if len(missing) > 0 {
		h.fail(r, "Claim processing", fmt.Errorf("%w: cannot process claim, missing %s",
			domainwf.ErrPrerequisiteMissing, strings.Join(missing, ", ")))
		return
	}

	total := ClaimAmount(r.Codes.CPTCodes, h.pricing, h.rand.Float64)
	responsibility := PatientResponsibility(total,
		r.Eligibility.Copay(),
		r.Eligibility.Deductible(),
		r.Eligibility.CoveragePct(),
	)

	claim := &domainwf.ClaimData{
		ClaimNumber:           newClaimNumber(h.rand),
		TotalAmount:           total,
		PatientResponsibility: responsibility,
		PayerID:               MapPayer(r.Patient.InsuranceProvider),
		DiagnosisCodes:        r.Codes.ICD10Codes,
		ProcedureCodes:        r.Codes.CPTCodes,
		Status:                domainwf.ClaimStatusReady,
		SubmissionReady:       true,
	}
	r.Claim = claim
	r.SetConfidence(domainwf.StepClaimProcessing, claimConfidence)

	result, err := h.submitClaim(ctx, port.ClaimSubmission{
		ClaimNumber:           claim.ClaimNumber,
		PayerID:               claim.PayerID,
		PatientRef:            patientRef(r),
		PolicyNumber:          r.Patient.PolicyNumber,
		ServiceDate:           r.Encounter.ServiceDate,
		TotalAmount:           claim.TotalAmount,
		PatientResponsibility: claim.PatientResponsibility,
		DiagnosisCodes:        claim.DiagnosisCodes,
		ProcedureCodes:        claim.ProcedureCodes,
	})
	if err != nil {
		claim.Status = domainwf.ClaimStatusRejected
		claim.RejectionReason = err.Error()
		h.fail(r, "Claim submission", err)
		return
	}

	claim.ReferenceNumber = result.ReferenceNumber
	claim.TrackingNumber = result.TrackingNumber

	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "unknown submission error"
		}
		claim.Status = domainwf.ClaimStatusRejected
		claim.RejectionReason = reason
		h.logger.Error("Claim rejected", "session_id", r.SessionID, "claim_number", claim.ClaimNumber, "reason", reason)
		r.Fail(fmt.Sprintf("Claim submission failed: %s", reason))
		return
	}

	claim.Status = domainwf.ClaimStatusSubmitted
	r.Step = domainwf.StepCompleted
	r.Status = domainwf.StatusCompleted
	r.Done = true
	r.Result = fmt.Sprintf("Claim %s submitted successfully. Reference: %s", claim.ClaimNumber, result.ReferenceNumber)
	r.AddAssistant(r.Result)

	h.logger.Info("Claim submitted",
		"session_id", r.SessionID,
		"claim_number", claim.ClaimNumber,
		"total_amount", claim.TotalAmount,
		"reference", result.ReferenceNumber,
	)
}

// Complete marks the workflow finished
func (h *Handlers) Complete(ctx context.Context, r *domainwf.Record) {
	if !active(r, domainwf.StepCompleted) {
		return
	}
	if r.Result == "" {
		r.Result = finalizedResult
	}
	r.Done = true
	r.Status = domainwf.StatusCompleted
}
