package port

import (
	"context"

	"github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// Action is the decision class returned by the DecisionOracle
type Action string

const (
	ActionAskUser  Action = "ask_user"
	ActionProceed  Action = "proceed"
	ActionFinalize Action = "finalize"
	ActionError    Action = "error"
)

// IsValid checks if the action is one of the defined constants
func (a Action) IsValid() bool {
	switch a {
	case ActionAskUser, ActionProceed, ActionFinalize, ActionError:
		return true
	}
	return false
}

// Stage selects the prompt and payload shape of an oracle call
type Stage string

const (
	StageCollection  Stage = "data_collection"
	StageExtraction  Stage = "data_extraction"
	StageStructuring Stage = "data_structuring"
	StageCoding      Stage = "medical_coding"
)

// OracleRequest is the context handed to the DecisionOracle
type OracleRequest struct {
	SessionID string
	Stage     Stage

	// Conversation is the recent conversation window, oldest first
	Conversation []workflow.Message

	// MissingFields are the checklist fields still empty, in checklist order
	MissingFields []workflow.ChecklistField

	Patient    *workflow.PatientData
	Encounter  *workflow.EncounterData
	Structured *workflow.StructuredClinicalData

	// ClinicalNotes is the raw text to structure or code
	ClinicalNotes string
}

// Extraction is the collection payload: fields lifted from the conversation
type Extraction struct {
	Patient   *workflow.PatientData
	Encounter *workflow.EncounterData
}

// Payload is the stage-specific part of a decision. Exactly one field is set,
// matching the request stage. It may be entirely empty.
type Payload struct {
	Extraction *Extraction
	Structured *workflow.StructuredClinicalData
	Codes      *workflow.SuggestedCodes
}

// Decision is the oracle's answer for one call
type Decision struct {
	Action     Action
	Message    string
	Confidence *float64
	Payload    Payload
}

// DecisionOracle classifies intent and extracts stage data from the conversation.
// Implementations must return within the caller's context deadline.
type DecisionOracle interface {
	Decide(ctx context.Context, req OracleRequest) (*Decision, error)
}

// ClaimSubmission is the claim payload sent to the payer
type ClaimSubmission struct {
	ClaimNumber           string
	PayerID               string
	PatientRef            string
	PolicyNumber          string
	ServiceDate           string
	TotalAmount           float64
	PatientResponsibility float64
	DiagnosisCodes        []workflow.MedicalCode
	ProcedureCodes        []workflow.MedicalCode
}

// SubmissionResult is the payer's answer to a claim submission
type SubmissionResult struct {
	Success         bool
	ReferenceNumber string
	TrackingNumber  string
	Error           string
}

// PayerGateway performs eligibility checks and claim submissions against a payer
type PayerGateway interface {
	CheckEligibility(ctx context.Context, patientRef, payerID, serviceDate string) (*workflow.EligibilityResult, error)
	SubmitClaim(ctx context.Context, claim ClaimSubmission) (*SubmissionResult, error)
}
