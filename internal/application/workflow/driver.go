package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/rcm-agent/internal/application/dispatcher"
	"github.com/garyjia/rcm-agent/internal/domain/event"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// DefaultMaxIterations caps automatic step transitions per Run
const DefaultMaxIterations = 5

// HaltReason explains why a Run returned
type HaltReason string

const (
	HaltNeedInput    HaltReason = "need_input"
	HaltDone         HaltReason = "done"
	HaltError        HaltReason = "error"
	HaltExit         HaltReason = "exit"
	HaltIterationCap HaltReason = "iteration_cap"
	HaltIdle         HaltReason = "idle"
)

// RunResult is the outcome of one Run
type RunResult struct {
	Record        *domainwf.Record
	Transitions   []domainwf.Transition
	Iterations    int
	Halt          HaltReason
	CorrelationID string
}

// Driver repeatedly runs the handler for the current step and applies the
// transition function until the record pauses or the iteration cap is hit
type Driver interface {
	// Run appends the optional user message and advances the record in place
	Run(ctx context.Context, r *domainwf.Record, userMessage string) *RunResult
}

// exitWords end the session when sent as a whole message
var exitWords = map[string]bool{"exit": true, "quit": true, "bye": true}

// affirmatives approve a result that is waiting for review
var affirmatives = map[string]bool{
	"yes": true, "y": true, "ok": true, "okay": true, "approve": true, "approved": true,
	"confirm": true, "confirmed": true, "proceed": true, "continue": true, "correct": true,
}

type driverImpl struct {
	handlers      map[domainwf.Step]StepHandler
	dispatcher    dispatcher.Dispatcher
	logger        Logger
	maxIterations int
	now           func() time.Time
}

// DriverOption configures the driver
type DriverOption func(*driverImpl)

// WithDispatcher sets the event dispatcher for emitting workflow events
func WithDispatcher(d dispatcher.Dispatcher) DriverOption {
	return func(e *driverImpl) {
		e.dispatcher = d
	}
}

// WithMaxIterations overrides the automatic transition cap
func WithMaxIterations(n int) DriverOption {
	return func(e *driverImpl) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithDriverLogger sets the driver logger
func WithDriverLogger(l Logger) DriverOption {
	return func(e *driverImpl) {
		e.logger = l
	}
}

// WithStepHandler replaces the handler of one step
func WithStepHandler(step domainwf.Step, handler StepHandler) DriverOption {
	return func(e *driverImpl) {
		e.handlers[step] = handler
	}
}

// NewDriver creates a driver over the given step handlers
func NewDriver(h *Handlers, opts ...DriverOption) Driver {
	d := &driverImpl{
		handlers:      BuildStepHandlers(h),
		logger:        nopLogger{},
		maxIterations: DefaultMaxIterations,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run implements Driver
func (d *driverImpl) Run(ctx context.Context, r *domainwf.Record, userMessage string) *RunResult {
	res := &RunResult{Record: r, CorrelationID: uuid.NewString()}
	defer func() {
		r.UpdatedAt = d.now()
		d.emitHalt(ctx, res)
	}()

	runCurrent := true
	if msg := strings.TrimSpace(userMessage); msg != "" {
		r.AddHuman(msg)
		if exitWords[strings.ToLower(msg)] {
			r.ExitRequested = true
			r.NeedUserInput = false
			r.QuestionToAsk = ""
			r.Result = "Session ended by user"
			res.Halt = HaltExit
			return res
		}
		r.NeedUserInput = false
		r.QuestionToAsk = ""
		if r.Status == domainwf.StatusReviewing && r.ErrorMessage == "" {
			runCurrent = !d.resolveReview(r, msg)
		}
	}

	// A fresh record waits for input by default; INIT still has to run to greet
	if halt, stop := haltReason(r); stop && r.Step != domainwf.StepInit {
		res.Halt = halt
		return res
	}

	if runCurrent {
		d.invoke(ctx, r, res)
	}

	for !r.Halted() {
		next := domainwf.NextStep(r)
		if next == r.Step {
			res.Halt = HaltIdle
			return res
		}
		if res.Iterations >= d.maxIterations {
			res.Halt = HaltIterationCap
			d.logger.Info("Iteration cap reached", "session_id", r.SessionID, "step", r.Step, "cap", d.maxIterations)
			return res
		}
		res.Iterations++
		d.transition(ctx, r, res, next)
		d.invoke(ctx, r, res)
	}

	res.Halt, _ = haltReason(r)
	return res
}

// resolveReview applies the user's answer to a review pause. It returns true
// when the result was approved and the step must not run again.
func (d *driverImpl) resolveReview(r *domainwf.Record, answer string) bool {
	if r.Step == domainwf.StepEligibilityChecking && r.Eligibility != nil && !r.Eligibility.Eligible {
		return d.resolveIneligible(r, answer)
	}

	word := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".!"))
	if affirmatives[word] {
		r.Status = domainwf.StatusProcessing
		return true
	}
	// Anything else is treated as a correction: the step runs again
	r.ClearOutput(r.Step)
	r.Status = domainwf.StatusProcessing
	return false
}

// resolveIneligible handles the answer to an ineligible coverage review. No
// answer approves an ineligible result: alternative insurance in the answer
// re-runs the check with it, anything else keeps the review open.
func (d *driverImpl) resolveIneligible(r *domainwf.Record, answer string) bool {
	patient, _ := ExtractFromText(answer)
	if patient.InsuranceProvider == "" || r.Patient == nil {
		r.AddAssistant(alternativeCoverageQuestion)
		r.RequestReview(alternativeCoverageQuestion)
		return true
	}

	d.logger.Info("Alternative coverage provided",
		"session_id", r.SessionID,
		"previous", r.Patient.InsuranceProvider,
		"provider", patient.InsuranceProvider,
	)
	r.Patient.ReplaceCoverage(patient.InsuranceProvider, patient.PolicyNumber)
	r.ClearOutput(r.Step)
	r.Status = domainwf.StatusProcessing
	return false
}

// invoke runs the handler for the current step, recording any step change
// the handler made itself
func (d *driverImpl) invoke(ctx context.Context, r *domainwf.Record, res *RunResult) {
	from := r.Step
	handler, ok := d.handlers[from]
	if !ok {
		r.Fail(fmt.Sprintf("%v: %s", domainwf.ErrUnknownStep, from))
		d.logger.Error("No handler for step", "session_id", r.SessionID, "step", from)
		return
	}

	func() {
		defer func() {
			if p := recover(); p != nil {
				r.Fail(fmt.Sprintf("%s handler panic: %v", from, p))
				d.logger.Error("Handler panic recovered", "session_id", r.SessionID, "step", from, "panic", p)
			}
		}()
		handler(ctx, r)
	}()

	if r.Step != from {
		d.record(ctx, r, res, from, r.Step)
	}
}

func (d *driverImpl) transition(ctx context.Context, r *domainwf.Record, res *RunResult, to domainwf.Step) {
	from := r.Step
	r.Step = to
	d.record(ctx, r, res, from, to)
}

func (d *driverImpl) record(ctx context.Context, r *domainwf.Record, res *RunResult, from, to domainwf.Step) {
	res.Transitions = append(res.Transitions, domainwf.Transition{From: from, To: to, At: d.now()})

	d.logger.Info("Step changed", "session_id", r.SessionID, "from", from, "to", to, "status", r.Status)

	d.emit(ctx, res, event.TypeStepChanged, r.SessionID, map[string]interface{}{
		"from":   string(from),
		"to":     string(to),
		"status": string(r.Status),
	})
}

func (d *driverImpl) emitHalt(ctx context.Context, res *RunResult) {
	r := res.Record
	switch res.Halt {
	case HaltNeedInput:
		d.emit(ctx, res, event.TypeWorkflowPaused, r.SessionID, map[string]interface{}{
			"step":     string(r.Step),
			"status":   string(r.Status),
			"question": r.QuestionToAsk,
		})
	case HaltDone:
		payload := map[string]interface{}{"result": r.Result}
		if r.Claim != nil {
			payload["claim_number"] = r.Claim.ClaimNumber
			payload["reference_number"] = r.Claim.ReferenceNumber
			d.emit(ctx, res, event.TypeClaimSubmitted, r.SessionID, map[string]interface{}{
				"claim_number":     r.Claim.ClaimNumber,
				"total_amount":     r.Claim.TotalAmount,
				"reference_number": r.Claim.ReferenceNumber,
			})
		}
		d.emit(ctx, res, event.TypeWorkflowCompleted, r.SessionID, payload)
	case HaltError:
		d.emit(ctx, res, event.TypeWorkflowFailed, r.SessionID, map[string]interface{}{
			"step":  string(r.Step),
			"error": r.ErrorMessage,
		})
	}
}

func (d *driverImpl) emit(ctx context.Context, res *RunResult, t event.Type, sessionID string, payload map[string]interface{}) {
	if d.dispatcher == nil {
		return
	}
	d.dispatcher.DispatchAsync(ctx, event.NewEventWithCorrelation(t, sessionID, payload, res.CorrelationID))
}

// haltReason reports the pausing condition of a record, if any
func haltReason(r *domainwf.Record) (HaltReason, bool) {
	switch {
	case r.ExitRequested:
		return HaltExit, true
	case r.ErrorMessage != "":
		return HaltError, true
	case r.NeedUserInput:
		return HaltNeedInput, true
	case r.Done:
		return HaltDone, true
	}
	return "", false
}
