package workflow

// SuggestedAction is a follow-up the client may offer the user
type SuggestedAction struct {
	Action      string `json:"action"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Summary is the client-facing view of a record after a turn
type Summary struct {
	SessionID         string             `json:"session_id"`
	Step              Step               `json:"workflow_step"`
	Status            Status             `json:"status"`
	Response          string             `json:"response"`
	QuestionToAsk     string             `json:"question_to_ask,omitempty"`
	Result            string             `json:"result,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	Done              bool               `json:"done"`
	NeedUserInput     bool               `json:"need_user_input"`
	ConfidenceScores  map[string]float64 `json:"confidence_scores"`
	OverallConfidence *float64           `json:"confidence_score,omitempty"`
	Patient           *PatientData       `json:"patient_data,omitempty"`
	Encounter         *EncounterData     `json:"encounter_data,omitempty"`
	Codes             *SuggestedCodes    `json:"suggested_codes,omitempty"`
	Eligibility       *EligibilityResult `json:"eligibility_result,omitempty"`
	Claim             *ClaimData         `json:"claim_data,omitempty"`
	SuggestedActions  []SuggestedAction  `json:"suggested_actions"`
}

// Summarize builds the client-facing view of the record
func (r *Record) Summarize() *Summary {
	s := &Summary{
		SessionID:        r.SessionID,
		Step:             r.Step,
		Status:           r.Status,
		Response:         r.responseText(),
		QuestionToAsk:    r.QuestionToAsk,
		Result:           r.Result,
		ErrorMessage:     r.ErrorMessage,
		Done:             r.Done,
		NeedUserInput:    r.NeedUserInput,
		ConfidenceScores: r.ConfidenceScores,
		Patient:          r.Patient,
		Encounter:        r.Encounter,
		Codes:            r.Codes,
		Eligibility:      r.Eligibility,
		Claim:            r.Claim,
		SuggestedActions: r.suggestedActions(),
	}
	if len(r.ConfidenceScores) > 0 {
		var sum float64
		for _, v := range r.ConfidenceScores {
			sum += v
		}
		avg := sum / float64(len(r.ConfidenceScores))
		s.OverallConfidence = &avg
	}
	return s
}

// responseText picks the single message shown to the user for this turn
func (r *Record) responseText() string {
	switch {
	case r.ErrorMessage != "":
		return "I encountered an issue: " + r.ErrorMessage
	case r.QuestionToAsk != "":
		return r.QuestionToAsk
	case r.Result != "":
		return r.Result
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleAssistant {
			return r.Messages[i].Content
		}
	}
	return "I'm processing your request..."
}

func (r *Record) suggestedActions() []SuggestedAction {
	actions := []SuggestedAction{}

	switch {
	case r.ErrorMessage != "":
		actions = append(actions,
			SuggestedAction{Action: "retry", Label: "Retry", Description: "Run the failed step again"},
			SuggestedAction{Action: "restart", Label: "Start Over", Description: "Discard progress and restart the workflow"},
		)
	case r.Done:
		actions = append(actions,
			SuggestedAction{Action: "new_session", Label: "New Encounter", Description: "Process another patient encounter"},
		)
		if r.Claim != nil {
			actions = append(actions,
				SuggestedAction{Action: "view_claim", Label: "View Claim", Description: "See the submitted claim details"},
			)
		}
	case r.Status == StatusReviewing:
		actions = append(actions,
			SuggestedAction{Action: "approve", Label: "Approve", Description: "Accept the result and continue"},
			SuggestedAction{Action: "revise", Label: "Revise", Description: "Provide corrections and run the step again"},
		)
	case r.Step == StepDataCollection:
		actions = append(actions,
			SuggestedAction{Action: "view_progress", Label: "View Progress", Description: "See what information has been collected so far"},
		)
	}
	return actions
}
