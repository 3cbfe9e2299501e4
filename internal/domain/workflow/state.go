package workflow

// Step represents a stage of the revenue-cycle workflow
type Step string

const (
	StepInit                Step = "INIT"
	StepDataCollection      Step = "DATA_COLLECTION"
	StepDataStructuring     Step = "DATA_STRUCTURING"
	StepMedicalCoding       Step = "MEDICAL_CODING"
	StepEligibilityChecking Step = "ELIGIBILITY_CHECKING"
	StepClaimProcessing     Step = "CLAIM_PROCESSING"
	StepCompleted           Step = "COMPLETED"
)

// stepOrder is the normal forward order of the workflow
var stepOrder = map[Step]int{
	StepInit:                0,
	StepDataCollection:      1,
	StepDataStructuring:     2,
	StepMedicalCoding:       3,
	StepEligibilityChecking: 4,
	StepClaimProcessing:     5,
	StepCompleted:           6,
}

// confidenceKeys maps steps to the key used in Record.ConfidenceScores
var confidenceKeys = map[Step]string{
	StepDataStructuring:     "data_structuring",
	StepMedicalCoding:       "medical_coding",
	StepEligibilityChecking: "eligibility_check",
	StepClaimProcessing:     "claim_processing",
}

// String returns the string representation of the step
func (s Step) String() string {
	return string(s)
}

// IsValid returns true if the step is a known workflow step
func (s Step) IsValid() bool {
	_, ok := stepOrder[s]
	return ok
}

// IsTerminal returns true if no further transitions are possible
func (s Step) IsTerminal() bool {
	return s == StepCompleted
}

// Index returns the position of the step in the forward order, or -1
func (s Step) Index() int {
	if i, ok := stepOrder[s]; ok {
		return i
	}
	return -1
}

// ConfidenceKey returns the confidence score key for the step.
// Steps that do not produce AI-derived output return "".
func (s Step) ConfidenceKey() string {
	return confidenceKeys[s]
}

// Status annotates why a step is or is not advancing
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusProcessing Status = "processing"
	StatusReviewing  Status = "reviewing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusCollecting, StatusProcessing, StatusReviewing, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}
