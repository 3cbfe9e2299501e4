package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var allSteps = []Step{
	StepInit,
	StepDataCollection,
	StepDataStructuring,
	StepMedicalCoding,
	StepEligibilityChecking,
	StepClaimProcessing,
	StepCompleted,
}

var allStatuses = []Status{
	StatusCollecting,
	StatusProcessing,
	StatusReviewing,
	StatusCompleted,
	StatusError,
}

// drawRecord generates an arbitrary record covering every field NextStep reads
func drawRecord(t *rapid.T) *Record {
	r := NewRecord("prop")
	r.Step = rapid.SampledFrom(allSteps).Draw(t, "step")
	r.Status = rapid.SampledFrom(allStatuses).Draw(t, "status")
	r.NeedUserInput = rapid.Bool().Draw(t, "needUserInput")
	r.Done = rapid.Bool().Draw(t, "done")
	r.ExitRequested = rapid.Bool().Draw(t, "exitRequested")
	r.ErrorMessage = rapid.SampledFrom([]string{"", "oracle timed out"}).Draw(t, "errorMessage")

	if rapid.Bool().Draw(t, "hasPatient") {
		r.Patient = &PatientData{Name: "Ahmed Ali"}
	}
	if rapid.Bool().Draw(t, "hasEncounter") {
		r.Encounter = &EncounterData{EncounterType: "outpatient"}
	}
	if rapid.Bool().Draw(t, "hasStructured") {
		r.Structured = &StructuredClinicalData{}
	}
	if rapid.Bool().Draw(t, "hasCodes") {
		r.Codes = &SuggestedCodes{}
	}
	if rapid.Bool().Draw(t, "hasEligibility") {
		r.Eligibility = &EligibilityResult{Eligible: true}
	}
	if rapid.Bool().Draw(t, "hasClaim") {
		r.Claim = &ClaimData{}
	}
	return r
}

func TestNextStep_NeedUserInputAlwaysRoutesToCollection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := drawRecord(t)
		r.NeedUserInput = true

		if got := NextStep(r); got != StepDataCollection {
			t.Fatalf("NextStep() = %s, want %s (step=%s)", got, StepDataCollection, r.Step)
		}
	})
}

func TestNextStep_ErrorFreezesStep(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := drawRecord(t)
		r.NeedUserInput = false
		r.ErrorMessage = "gateway rejected claim"

		first := NextStep(r)
		second := NextStep(r)
		if first != r.Step || second != r.Step {
			t.Fatalf("NextStep() = %s then %s, want unchanged %s", first, second, r.Step)
		}
	})
}

func TestNextStep_IsPure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := drawRecord(t)
		before := r.Clone()

		a := NextStep(r)
		b := NextStep(r)
		if a != b {
			t.Fatalf("NextStep() not deterministic: %s vs %s", a, b)
		}
		if r.Step != before.Step || r.Status != before.Status || r.NeedUserInput != before.NeedUserInput {
			t.Fatalf("NextStep() mutated the record")
		}
	})
}

func TestNextStep_NeverSkipsAStage(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := drawRecord(t)
		r.NeedUserInput = false
		r.ErrorMessage = ""
		r.Done = false

		next := NextStep(r)
		if next.Index()-r.Step.Index() > 1 {
			t.Fatalf("NextStep() jumped from %s to %s", r.Step, next)
		}
	})
}

func TestNextStep_Dispatch(t *testing.T) {
	processing := func(step Step, mutate func(r *Record)) *Record {
		r := NewRecord("s1")
		r.Step = step
		r.Status = StatusProcessing
		r.NeedUserInput = false
		if mutate != nil {
			mutate(r)
		}
		return r
	}

	tests := []struct {
		name   string
		record *Record
		want   Step
	}{
		{
			name:   "init always moves to collection",
			record: processing(StepInit, nil),
			want:   StepDataCollection,
		},
		{
			name: "collection advances with patient and encounter",
			record: processing(StepDataCollection, func(r *Record) {
				r.Patient = &PatientData{Name: "Sara"}
				r.Encounter = &EncounterData{EncounterType: "outpatient"}
			}),
			want: StepDataStructuring,
		},
		{
			name: "collection stays without encounter",
			record: processing(StepDataCollection, func(r *Record) {
				r.Patient = &PatientData{Name: "Sara"}
			}),
			want: StepDataCollection,
		},
		{
			name: "collection stays while collecting",
			record: processing(StepDataCollection, func(r *Record) {
				r.Patient = &PatientData{Name: "Sara"}
				r.Encounter = &EncounterData{}
				r.Status = StatusCollecting
			}),
			want: StepDataCollection,
		},
		{
			name: "structuring advances with structured data",
			record: processing(StepDataStructuring, func(r *Record) {
				r.Structured = &StructuredClinicalData{}
			}),
			want: StepMedicalCoding,
		},
		{
			name: "structuring stays while reviewing",
			record: processing(StepDataStructuring, func(r *Record) {
				r.Structured = &StructuredClinicalData{}
				r.Status = StatusReviewing
			}),
			want: StepDataStructuring,
		},
		{
			name: "coding advances with codes",
			record: processing(StepMedicalCoding, func(r *Record) {
				r.Codes = &SuggestedCodes{}
			}),
			want: StepEligibilityChecking,
		},
		{
			name:   "coding stays without codes",
			record: processing(StepMedicalCoding, nil),
			want:   StepMedicalCoding,
		},
		{
			name: "eligibility advances with result",
			record: processing(StepEligibilityChecking, func(r *Record) {
				r.Eligibility = &EligibilityResult{Eligible: true}
			}),
			want: StepClaimProcessing,
		},
		{
			name: "claim completes once claim data exists",
			record: processing(StepClaimProcessing, func(r *Record) {
				r.Claim = &ClaimData{}
				r.Status = StatusCompleted
			}),
			want: StepCompleted,
		},
		{
			name:   "claim stays without claim data",
			record: processing(StepClaimProcessing, nil),
			want:   StepClaimProcessing,
		},
		{
			name:   "completed is terminal",
			record: processing(StepCompleted, nil),
			want:   StepCompleted,
		},
		{
			name: "done jumps to completed",
			record: processing(StepMedicalCoding, func(r *Record) {
				r.Done = true
			}),
			want: StepCompleted,
		},
		{
			name: "need input beats done",
			record: processing(StepClaimProcessing, func(r *Record) {
				r.Done = true
				r.NeedUserInput = true
			}),
			want: StepDataCollection,
		},
		{
			name: "error beats done",
			record: processing(StepClaimProcessing, func(r *Record) {
				r.Done = true
				r.ErrorMessage = "submission failed"
			}),
			want: StepClaimProcessing,
		},
		{
			name:   "unknown step stays unchanged",
			record: processing(Step("BILLING"), nil),
			want:   Step("BILLING"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStep(tt.record))
		})
	}
}

func TestTargets(t *testing.T) {
	assert.Equal(t, []Step{StepDataStructuring}, Targets(StepDataCollection))
	assert.Equal(t, []Step{StepCompleted}, Targets(StepCompleted))
	assert.Empty(t, Targets(Step("BILLING")))
}
