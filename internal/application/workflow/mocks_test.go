package workflow

import (
	"context"
	"sync"

	"github.com/garyjia/rcm-agent/internal/application/dispatcher"
	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/domain/event"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// mockOracle answers per stage; decideFunc overrides the canned decisions
type mockOracle struct {
	mu         sync.Mutex
	decisions  map[port.Stage]*port.Decision
	errs       map[port.Stage]error
	decideFunc func(ctx context.Context, req port.OracleRequest) (*port.Decision, error)
	requests   []port.OracleRequest
}

func newMockOracle() *mockOracle {
	return &mockOracle{
		decisions: make(map[port.Stage]*port.Decision),
		errs:      make(map[port.Stage]error),
	}
}

func (m *mockOracle) on(stage port.Stage, d *port.Decision) *mockOracle {
	m.decisions[stage] = d
	return m
}

func (m *mockOracle) failOn(stage port.Stage, err error) *mockOracle {
	m.errs[stage] = err
	return m
}

func (m *mockOracle) Decide(ctx context.Context, req port.OracleRequest) (*port.Decision, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.decideFunc != nil {
		return m.decideFunc(ctx, req)
	}
	if err := m.errs[req.Stage]; err != nil {
		return nil, err
	}
	if d, ok := m.decisions[req.Stage]; ok {
		return d, nil
	}
	return &port.Decision{Action: port.ActionError, Message: "no canned decision for " + string(req.Stage)}, nil
}

func (m *mockOracle) calls(stage port.Stage) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Stage == stage {
			n++
		}
	}
	return n
}

type mockGateway struct {
	eligibility    *domainwf.EligibilityResult
	eligibilityErr error
	submission     *port.SubmissionResult
	submitErr      error

	eligibilityCalls int
	submitCalls      int
	lastPayerID      string
	lastClaim        port.ClaimSubmission
}

func (m *mockGateway) CheckEligibility(ctx context.Context, patientRef, payerID, serviceDate string) (*domainwf.EligibilityResult, error) {
	m.eligibilityCalls++
	m.lastPayerID = payerID
	if m.eligibilityErr != nil {
		return nil, m.eligibilityErr
	}
	if m.eligibility == nil {
		return nil, nil
	}
	res := *m.eligibility
	return &res, nil
}

func (m *mockGateway) SubmitClaim(ctx context.Context, claim port.ClaimSubmission) (*port.SubmissionResult, error) {
	m.submitCalls++
	m.lastClaim = claim
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submission, nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, name string, handler dispatcher.Handler) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = m.Dispatch(ctx, evt)
}

func (m *mockDispatcher) Handlers(eventType event.Type) []string { return nil }

func (m *mockDispatcher) Close() error { return nil }

func (m *mockDispatcher) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Type
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func ptr(v float64) *float64 { return &v }

type logEntry struct {
	msg string
	kv  []interface{}
}

// recordingLogger keeps every Info and Error call
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) Info(msg string, kv ...interface{})  { l.add(msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...interface{}) { l.add(msg, kv) }

func (l *recordingLogger) add(msg string, kv []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{msg: msg, kv: kv})
}

// value returns key from the first entry logged as msg
func (l *recordingLogger) value(msg, key string) interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg != msg {
			continue
		}
		for i := 0; i+1 < len(e.kv); i += 2 {
			if e.kv[i] == key {
				return e.kv[i+1]
			}
		}
	}
	return nil
}

func completePatient() *domainwf.PatientData {
	return &domainwf.PatientData{
		Name:              "Ahmed Al Mansoori",
		DateOfBirth:       "1980-05-14",
		Gender:            "male",
		InsuranceProvider: "Daman National Health",
		PolicyNumber:      "DM1234567890",
		MRN:               "MRN00123",
	}
}

func completeEncounter() *domainwf.EncounterData {
	return &domainwf.EncounterData{
		EncounterType:    "outpatient",
		ServiceDate:      "2024-06-01",
		ChiefComplaint:   "chest pain",
		RawClinicalNotes: "Patient presents with intermittent chest pain for 2 days. ECG performed, normal sinus rhythm.",
	}
}

func highConfidenceCodes() *domainwf.SuggestedCodes {
	return &domainwf.SuggestedCodes{
		ICD10Codes: []domainwf.MedicalCode{{Code: "R07.9", Description: "Chest pain, unspecified", Confidence: 0.95}},
		CPTCodes: []domainwf.MedicalCode{
			{Code: "99213", Description: "Office visit", Confidence: 0.95},
			{Code: "93000", Description: "Electrocardiogram", Confidence: 0.95},
		},
	}
}

func eligibleResult() *domainwf.EligibilityResult {
	return &domainwf.EligibilityResult{
		Eligible: true,
		PayerID:  "DAMAN",
		CoverageDetails: domainwf.CoverageDetails{
			DeductibleRemaining: 100,
			CopayAmount:         20,
			CoveragePercentage:  ptr(80),
		},
		ConfidenceScore: ptr(0.95),
	}
}

// recordAt builds a record sitting at step with every earlier output present
func recordAt(step domainwf.Step) *domainwf.Record {
	r := domainwf.NewRecord("test-session")
	r.Step = step
	r.Status = domainwf.StatusProcessing
	r.NeedUserInput = false
	r.Patient = completePatient()
	r.Encounter = completeEncounter()

	if step.Index() > domainwf.StepDataStructuring.Index() {
		r.Structured = &domainwf.StructuredClinicalData{Diagnoses: []string{"chest pain"}}
		r.SetConfidence(domainwf.StepDataStructuring, 0.9)
	}
	if step.Index() > domainwf.StepMedicalCoding.Index() {
		r.Codes = highConfidenceCodes()
		r.SetConfidence(domainwf.StepMedicalCoding, 0.95)
	}
	if step.Index() > domainwf.StepEligibilityChecking.Index() {
		r.Eligibility = eligibleResult()
		r.SetConfidence(domainwf.StepEligibilityChecking, 0.95)
	}
	return r
}
