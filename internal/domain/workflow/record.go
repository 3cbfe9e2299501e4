package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role tags the author of a conversation message
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation log
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transition records a single step change made by the driver
type Transition struct {
	From Step      `json:"from"`
	To   Step      `json:"to"`
	At   time.Time `json:"at"`
}

// Record is the mutable workflow state of one conversation session.
// It is owned by exactly one driver cycle at a time.
type Record struct {
	SessionID string `json:"session_id"`
	Step      Step   `json:"step"`
	Status    Status `json:"status"`

	Patient     *PatientData            `json:"patient_data,omitempty"`
	Encounter   *EncounterData          `json:"encounter_data,omitempty"`
	Structured  *StructuredClinicalData `json:"structured_data,omitempty"`
	Codes       *SuggestedCodes         `json:"suggested_codes,omitempty"`
	Eligibility *EligibilityResult      `json:"eligibility_result,omitempty"`
	Claim       *ClaimData              `json:"claim_data,omitempty"`

	ConfidenceScores map[string]float64 `json:"confidence_scores"`

	NeedUserInput      bool `json:"need_user_input"`
	Done               bool `json:"done"`
	ExitRequested      bool `json:"exit_requested"`
	ReadyForProcessing bool `json:"ready_for_processing"`

	QuestionToAsk string `json:"question_to_ask,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Result        string `json:"result,omitempty"`

	Messages []Message        `json:"messages"`
	Context  map[string]string `json:"user_context"`

	// ConversationStart indexes the first message of the current attempt.
	// Messages before it were exchanged before the last Reset.
	ConversationStart int `json:"conversation_start"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Context keys carried over from session creation
const (
	ContextInitialInput = "initial_input"
	ContextPatientID    = "patient_id"
)

// NewRecord creates a record at INIT with every optional field empty
func NewRecord(sessionID string) *Record {
	now := time.Now()
	return &Record{
		SessionID:        sessionID,
		Step:             StepInit,
		Status:           StatusCollecting,
		ConfidenceScores: make(map[string]float64),
		NeedUserInput:    true,
		Messages:         []Message{},
		Context:          make(map[string]string),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Reset clears all stage output and control flags and starts a new attempt
// at INIT. Session identity, creation context and the conversation log are
// kept; earlier messages are no longer part of the current conversation.
func (r *Record) Reset() {
	r.Step = StepInit
	r.Status = StatusCollecting
	r.Patient = nil
	r.Encounter = nil
	r.Structured = nil
	r.Codes = nil
	r.Eligibility = nil
	r.Claim = nil
	r.ConfidenceScores = make(map[string]float64)
	r.NeedUserInput = true
	r.Done = false
	r.ExitRequested = false
	r.ReadyForProcessing = false
	r.QuestionToAsk = ""
	r.ErrorMessage = ""
	r.Result = ""
	r.ConversationStart = len(r.Messages)
}

// AddHuman appends a human message to the conversation log
func (r *Record) AddHuman(content string) {
	r.Messages = append(r.Messages, Message{Role: RoleHuman, Content: content, Timestamp: time.Now()})
}

// AddAssistant appends an assistant message to the conversation log
func (r *Record) AddAssistant(content string) {
	r.Messages = append(r.Messages, Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()})
}

// Conversation returns the messages of the current attempt
func (r *Record) Conversation() []Message {
	if r.ConversationStart <= 0 || r.ConversationStart > len(r.Messages) {
		return r.Messages
	}
	return r.Messages[r.ConversationStart:]
}

// LastMessage returns the most recent message of the current attempt, or nil
func (r *Record) LastMessage() *Message {
	conv := r.Conversation()
	if len(conv) == 0 {
		return nil
	}
	return &conv[len(conv)-1]
}

// RecentMessages returns at most n of the latest messages of the current attempt
func (r *Record) RecentMessages(n int) []Message {
	conv := r.Conversation()
	if n <= 0 || len(conv) <= n {
		return conv
	}
	return conv[len(conv)-n:]
}

// HumanText joins the content of every human message of the current attempt
// with single spaces
func (r *Record) HumanText() string {
	var out string
	for _, m := range r.Conversation() {
		if m.Role != RoleHuman {
			continue
		}
		if out != "" {
			out += " "
		}
		out += m.Content
	}
	return out
}

// AskUser pauses the workflow on a question and routes back to data collection
func (r *Record) AskUser(question string) {
	r.QuestionToAsk = question
	r.NeedUserInput = true
	r.Status = StatusCollecting
	r.Step = StepDataCollection
}

// RequestReview pauses the workflow for human confirmation without leaving the step
func (r *Record) RequestReview(question string) {
	r.QuestionToAsk = question
	r.NeedUserInput = true
	r.Status = StatusReviewing
}

// Fail freezes the workflow at the current step with an error. An empty
// message is replaced so the freeze always holds.
func (r *Record) Fail(msg string) {
	if msg == "" {
		msg = "unspecified error"
	}
	r.ErrorMessage = msg
	r.Status = StatusError
}

// SetConfidence records the confidence score for a step, overwriting a previous run
func (r *Record) SetConfidence(step Step, score float64) {
	if r.ConfidenceScores == nil {
		r.ConfidenceScores = make(map[string]float64)
	}
	key := step.ConfidenceKey()
	if key == "" {
		key = string(step)
	}
	r.ConfidenceScores[key] = clamp01(score)
}

// ClearOutput drops the output and confidence score of a step so it can run again
func (r *Record) ClearOutput(step Step) {
	switch step {
	case StepDataStructuring:
		r.Structured = nil
	case StepMedicalCoding:
		r.Codes = nil
	case StepEligibilityChecking:
		r.Eligibility = nil
	case StepClaimProcessing:
		r.Claim = nil
	}
	if key := step.ConfidenceKey(); key != "" {
		delete(r.ConfidenceScores, key)
	}
}

// Halted reports whether automatic advancement must stop
func (r *Record) Halted() bool {
	return r.NeedUserInput || r.Done || r.ErrorMessage != "" || r.ExitRequested
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	data, err := json.Marshal(r)
	if err != nil {
		panic(fmt.Sprintf("workflow: clone record: %v", err))
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("workflow: clone record: %v", err))
	}
	return &out
}

// Validate reports violations of the record invariants
func (r *Record) Validate() error {
	if !r.Step.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnknownStep, r.Step)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	completed := []struct {
		step   Step
		output bool
	}{
		{StepDataStructuring, r.Structured != nil && r.Step.Index() > StepDataStructuring.Index()},
		{StepMedicalCoding, r.Codes != nil && r.Step.Index() > StepMedicalCoding.Index()},
		{StepEligibilityChecking, r.Eligibility != nil && r.Step.Index() > StepEligibilityChecking.Index()},
	}
	for _, c := range completed {
		if !c.output {
			continue
		}
		if _, ok := r.ConfidenceScores[c.step.ConfidenceKey()]; !ok {
			return fmt.Errorf("missing confidence score for completed step %s", c.step)
		}
	}
	if r.Step == StepCompleted && r.Claim == nil && r.Codes != nil && r.Eligibility != nil {
		return fmt.Errorf("completed claim workflow without claim data")
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
