package workflow

import "strings"

// PatientData holds demographic and insurance details collected in conversation
type PatientData struct {
	PatientID         string `json:"patient_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DateOfBirth       string `json:"date_of_birth,omitempty"`
	Gender            string `json:"gender,omitempty"`
	InsuranceProvider string `json:"insurance_provider,omitempty"`
	PolicyNumber      string `json:"policy_number,omitempty"`
	MRN               string `json:"mrn,omitempty"`
}

// ReplaceCoverage swaps in alternative insurance after the payer rejected the
// current one. It is the only path that overwrites populated patient fields
// outside Reset. An empty policy keeps the current policy number.
func (p *PatientData) ReplaceCoverage(provider, policy string) {
	p.InsuranceProvider = provider
	if policy != "" {
		p.PolicyNumber = policy
	}
}

// Merge fills empty fields from other. Populated fields are never overwritten.
func (p *PatientData) Merge(other *PatientData) {
	if other == nil {
		return
	}
	fill(&p.PatientID, other.PatientID)
	fill(&p.Name, other.Name)
	fill(&p.DateOfBirth, other.DateOfBirth)
	fill(&p.Gender, other.Gender)
	fill(&p.InsuranceProvider, other.InsuranceProvider)
	fill(&p.PolicyNumber, other.PolicyNumber)
	fill(&p.MRN, other.MRN)
}

// EncounterData holds the visit details and the raw clinical documentation
type EncounterData struct {
	EncounterType    string `json:"encounter_type,omitempty"`
	ServiceDate      string `json:"service_date,omitempty"`
	ChiefComplaint   string `json:"chief_complaint,omitempty"`
	RawClinicalNotes string `json:"raw_clinical_notes,omitempty"`
	ProviderName     string `json:"provider_name,omitempty"`
	Location         string `json:"location,omitempty"`
}

// Merge fills empty fields from other. Populated fields are never overwritten.
func (e *EncounterData) Merge(other *EncounterData) {
	if other == nil {
		return
	}
	fill(&e.EncounterType, other.EncounterType)
	fill(&e.ServiceDate, other.ServiceDate)
	fill(&e.ChiefComplaint, other.ChiefComplaint)
	fill(&e.RawClinicalNotes, other.RawClinicalNotes)
	fill(&e.ProviderName, other.ProviderName)
	fill(&e.Location, other.Location)
}

func fill(dst *string, src string) {
	if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
		*dst = strings.TrimSpace(src)
	}
}

// StructuredClinicalData is the normalized form of the raw clinical notes
type StructuredClinicalData struct {
	PatientInfo       map[string]interface{} `json:"patient_info,omitempty"`
	EncounterDetails  map[string]interface{} `json:"encounter_details,omitempty"`
	Diagnoses         []string               `json:"diagnoses,omitempty"`
	Procedures        []string               `json:"procedures,omitempty"`
	Medications       []string               `json:"medications,omitempty"`
	VitalSigns        map[string]interface{} `json:"vital_signs,omitempty"`
	AssessmentAndPlan map[string]interface{} `json:"assessment_and_plan,omitempty"`
	ConfidenceScore   *float64               `json:"confidence_score,omitempty"`
}

// MedicalCode is a single ICD-10 or CPT suggestion
type MedicalCode struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale"`
	Modifier    string  `json:"modifier,omitempty"`
}

// SuggestedCodes groups the coding output of the medical coding step
type SuggestedCodes struct {
	ICD10Codes          []MedicalCode `json:"icd10_codes"`
	CPTCodes            []MedicalCode `json:"cpt_codes"`
	OverallConfidence   *float64      `json:"overall_confidence,omitempty"`
	RequiresHumanReview bool          `json:"requires_human_review"`
}

// Count returns the total number of suggested codes
func (s *SuggestedCodes) Count() int {
	return len(s.ICD10Codes) + len(s.CPTCodes)
}

// AverageConfidence returns the arithmetic mean over every individual code.
// The second return value is false when there are no codes.
func (s *SuggestedCodes) AverageConfidence() (float64, bool) {
	n := s.Count()
	if n == 0 {
		return 0, false
	}
	var sum float64
	for _, c := range s.ICD10Codes {
		sum += c.Confidence
	}
	for _, c := range s.CPTCodes {
		sum += c.Confidence
	}
	return sum / float64(n), true
}

// CoverageDetails describes the benefit terms returned by the payer
type CoverageDetails struct {
	DeductibleRemaining float64  `json:"deductible_remaining"`
	CopayAmount         float64  `json:"copay_amount"`
	CoveragePercentage  *float64 `json:"coverage_percentage,omitempty"`
	RequiresPriorAuth   bool     `json:"requires_prior_auth"`
	MaxBenefit          float64  `json:"max_benefit,omitempty"`
	PolicyStatus        string   `json:"policy_status,omitempty"`
	EffectiveDate       string   `json:"effective_date,omitempty"`
	ExpiryDate          string   `json:"expiry_date,omitempty"`
}

// DefaultCoveragePercentage applies when the payer omits the coverage percentage
const DefaultCoveragePercentage = 80.0

// EligibilityResult is the outcome of the payer eligibility check
type EligibilityResult struct {
	Eligible            bool            `json:"eligible"`
	PayerID             string          `json:"payer_id"`
	Reason              string          `json:"reason,omitempty"`
	CoverageDetails     CoverageDetails `json:"coverage_details"`
	CopayAmount         *float64        `json:"copay_amount,omitempty"`
	DeductibleRemaining *float64        `json:"deductible_remaining,omitempty"`
	RequiresPriorAuth   bool            `json:"requires_prior_auth"`
	ConfidenceScore     *float64        `json:"confidence_score,omitempty"`
	VerificationDate    string          `json:"verification_date,omitempty"`
}

// Copay returns the top-level copay, falling back to the coverage details
func (e *EligibilityResult) Copay() float64 {
	if e.CopayAmount != nil {
		return *e.CopayAmount
	}
	return e.CoverageDetails.CopayAmount
}

// Deductible returns the remaining deductible, falling back to the coverage details
func (e *EligibilityResult) Deductible() float64 {
	if e.DeductibleRemaining != nil {
		return *e.DeductibleRemaining
	}
	return e.CoverageDetails.DeductibleRemaining
}

// CoveragePct returns the payer coverage percentage in [0,100]
func (e *EligibilityResult) CoveragePct() float64 {
	if e.CoverageDetails.CoveragePercentage != nil {
		return *e.CoverageDetails.CoveragePercentage
	}
	return DefaultCoveragePercentage
}

// ClaimStatus tracks the lifecycle of a claim inside a single attempt
type ClaimStatus string

const (
	ClaimStatusDraft     ClaimStatus = "draft"
	ClaimStatusReady     ClaimStatus = "ready_for_submission"
	ClaimStatusSubmitted ClaimStatus = "submitted"
	ClaimStatusRejected  ClaimStatus = "rejected"
)

// ClaimData is the claim assembled and submitted by the claim processing step
type ClaimData struct {
	ClaimNumber           string        `json:"claim_number"`
	TotalAmount           float64       `json:"total_amount"`
	PatientResponsibility float64       `json:"patient_responsibility"`
	PayerID               string        `json:"payer_id"`
	DiagnosisCodes        []MedicalCode `json:"diagnosis_codes"`
	ProcedureCodes        []MedicalCode `json:"procedure_codes"`
	Status                ClaimStatus   `json:"status"`
	SubmissionReady       bool          `json:"submission_ready"`
	ReferenceNumber       string        `json:"reference_number,omitempty"`
	TrackingNumber        string        `json:"tracking_number,omitempty"`
	RejectionReason       string        `json:"rejection_reason,omitempty"`
}

// ChecklistField is one item of the data collection checklist
type ChecklistField struct {
	Key      string
	Label    string
	Question string
}

// Checklist lists the fields required before processing, in the order they are asked
var Checklist = []ChecklistField{
	{Key: "name", Label: "patient name", Question: "What is the patient's full name?"},
	{Key: "date_of_birth", Label: "date of birth", Question: "What is the patient's date of birth (YYYY-MM-DD)?"},
	{Key: "gender", Label: "gender", Question: "What is the patient's gender?"},
	{Key: "insurance_provider", Label: "insurance provider", Question: "Which insurance provider covers the patient?"},
	{Key: "policy_number", Label: "policy number", Question: "What is the patient's insurance policy number?"},
	{Key: "mrn", Label: "medical record number (MRN)", Question: "What is the patient's medical record number (MRN)?"},
	{Key: "encounter_type", Label: "encounter type", Question: "What type of encounter was this (outpatient, inpatient, emergency or telemedicine)?"},
	{Key: "service_date", Label: "service date", Question: "What was the date of service (YYYY-MM-DD)?"},
	{Key: "clinical_notes", Label: "clinical notes", Question: "Please provide the clinical notes or chief complaint for this encounter."},
}

// MissingFields returns the checklist fields not yet present, in checklist order
func MissingFields(p *PatientData, e *EncounterData) []ChecklistField {
	if p == nil {
		p = &PatientData{}
	}
	if e == nil {
		e = &EncounterData{}
	}

	values := map[string]string{
		"name":               p.Name,
		"date_of_birth":      p.DateOfBirth,
		"gender":             p.Gender,
		"insurance_provider": p.InsuranceProvider,
		"policy_number":      p.PolicyNumber,
		"mrn":                p.MRN,
		"encounter_type":     e.EncounterType,
		"service_date":       e.ServiceDate,
		"clinical_notes":     e.RawClinicalNotes,
	}
	if values["clinical_notes"] == "" {
		values["clinical_notes"] = e.ChiefComplaint
	}

	var missing []ChecklistField
	for _, f := range Checklist {
		if strings.TrimSpace(values[f.Key]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
