package workflow

import (
	"context"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

const (
	greetingQuestion = "Welcome! Please describe the patient encounter you'd like to process."
	readyMessage     = "Great! I have all the information needed. Let me process the clinical data and suggest appropriate medical codes..."
	finalizedResult  = "RCM workflow completed successfully"
)

// Init prepares a fresh record. An initial message supplied at session
// creation becomes the first human message; otherwise the user is greeted.
func (h *Handlers) Init(ctx context.Context, r *domainwf.Record) {
	if !active(r, domainwf.StepInit) {
		return
	}

	if initial := r.Context[domainwf.ContextInitialInput]; initial != "" && len(r.Messages) == 0 {
		r.AddHuman(initial)
	}

	if last := r.LastMessage(); last != nil && last.Role == domainwf.RoleHuman {
		r.QuestionToAsk = ""
		r.NeedUserInput = false
		r.Status = domainwf.StatusCollecting
		return
	}

	r.AddAssistant(greetingQuestion)
	r.AskUser(greetingQuestion)
}

// Collect gathers the checklist fields from the conversation. Only a new
// human message triggers an oracle call.
func (h *Handlers) Collect(ctx context.Context, r *domainwf.Record) {
	if !active(r, domainwf.StepDataCollection) {
		return
	}

	last := r.LastMessage()
	if last == nil || last.Role != domainwf.RoleHuman {
		if r.Patient != nil && r.Encounter != nil && r.Status == domainwf.StatusProcessing {
			return
		}
		h.askFirstMissing(r, greetingQuestion)
		return
	}

	// Fields already stated in the conversation should not be asked for again
	patient, encounter := h.provisional(r)
	missing := domainwf.MissingFields(patient, encounter)

	req := request(r, port.StageCollection)
	req.Patient = patient
	req.Encounter = encounter
	req.MissingFields = missing

	decision, err := h.decide(ctx, req)
	if err != nil {
		h.fail(r, "Data collection", err)
		return
	}

	switch decision.Action {
	case port.ActionAskUser:
		question := decision.Message
		if len(missing) > 0 {
			question = missing[0].Question
		}
		if question == "" {
			question = "Please provide additional information."
		}
		r.AddAssistant(question)
		r.AskUser(question)

	case port.ActionProceed:
		h.absorb(ctx, r, decision)
		r.ReadyForProcessing = true
		r.Status = domainwf.StatusProcessing
		r.NeedUserInput = false
		r.QuestionToAsk = ""
		r.AddAssistant(readyMessage)

	case port.ActionFinalize:
		if decision.Message != "" {
			r.AddAssistant(decision.Message)
		}
		r.Step = domainwf.StepCompleted
		r.Status = domainwf.StatusCompleted
		r.Done = true
		r.Result = finalizedResult

	case port.ActionError:
		r.AddAssistant("I encountered an error processing your request.")
		h.fail(r, "Data collection", oracleRefusal(decision))
	}
}

// provisional merges the record with what the regex chain finds in the
// conversation, without writing to the record
func (h *Handlers) provisional(r *domainwf.Record) (*domainwf.PatientData, *domainwf.EncounterData) {
	patient := &domainwf.PatientData{}
	encounter := &domainwf.EncounterData{}
	patient.Merge(r.Patient)
	encounter.Merge(r.Encounter)

	p, e := ExtractFromText(r.HumanText())
	patient.Merge(p)
	encounter.Merge(e)
	return patient, encounter
}

// absorb writes patient and encounter data into the record. The oracle's
// extraction is preferred; the regex chain fills whatever it left empty.
func (h *Handlers) absorb(ctx context.Context, r *domainwf.Record, decision *port.Decision) {
	extraction := decision.Payload.Extraction
	if extraction == nil {
		d, err := h.decide(ctx, request(r, port.StageExtraction))
		if err != nil {
			h.logger.Error("Oracle extraction failed, using pattern extraction",
				"session_id", r.SessionID, "error", err)
		} else {
			extraction = d.Payload.Extraction
		}
	}

	if r.Patient == nil {
		r.Patient = &domainwf.PatientData{}
	}
	if r.Encounter == nil {
		r.Encounter = &domainwf.EncounterData{}
	}
	if extraction != nil {
		r.Patient.Merge(extraction.Patient)
		r.Encounter.Merge(extraction.Encounter)
	}

	p, e := ExtractFromText(r.HumanText())
	r.Patient.Merge(p)
	r.Encounter.Merge(e)
	r.Patient.Merge(&domainwf.PatientData{PatientID: r.Context[domainwf.ContextPatientID]})
}

func (h *Handlers) askFirstMissing(r *domainwf.Record, fallback string) {
	question := fallback
	if len(r.Messages) > 0 {
		if missing := domainwf.MissingFields(r.Patient, r.Encounter); len(missing) > 0 {
			question = missing[0].Question
		}
	}
	r.AddAssistant(question)
	r.AskUser(question)
}
