package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

const (
	DefaultReviewThreshold = 0.7
	DefaultCodingThreshold = 0.8
	DefaultOracleTimeout   = 30 * time.Second
	DefaultGatewayTimeout  = 10 * time.Second

	// conversationWindow is the number of recent messages handed to the oracle
	conversationWindow = 5

	// claimConfidence is recorded for a claim assembled without oracle input
	claimConfidence = 0.9
)

// StepHandler advances one workflow step. Handlers never return errors:
// failures are recorded on the record as ErrorMessage with status error.
type StepHandler func(ctx context.Context, r *domainwf.Record)

// Handlers holds the collaborators shared by every step handler
type Handlers struct {
	oracle  port.DecisionOracle
	gateway port.PayerGateway
	pricing PricingStrategy
	rand    *lockedRand
	now     func() time.Time
	logger  Logger

	reviewThreshold float64
	codingThreshold float64
	oracleTimeout   time.Duration
	gatewayTimeout  time.Duration
}

// HandlerOption configures the step handlers
type HandlerOption func(*Handlers)

// WithPricing sets the procedure pricing strategy
func WithPricing(p PricingStrategy) HandlerOption {
	return func(h *Handlers) {
		h.pricing = p
	}
}

// WithSeed makes claim amounts and claim numbers reproducible
func WithSeed(seed int64) HandlerOption {
	return func(h *Handlers) {
		h.rand = newLockedRand(seed)
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) {
		h.now = now
	}
}

// WithThresholds sets the general review threshold and the coding threshold
func WithThresholds(review, coding float64) HandlerOption {
	return func(h *Handlers) {
		h.reviewThreshold = review
		h.codingThreshold = coding
	}
}

// WithTimeouts bounds every oracle and gateway call
func WithTimeouts(oracle, gateway time.Duration) HandlerOption {
	return func(h *Handlers) {
		h.oracleTimeout = oracle
		h.gatewayTimeout = gateway
	}
}

// WithHandlerLogger sets the logger used by the step handlers
func WithHandlerLogger(l Logger) HandlerOption {
	return func(h *Handlers) {
		h.logger = l
	}
}

// NewHandlers creates the step handlers over an oracle and a payer gateway
func NewHandlers(oracle port.DecisionOracle, gateway port.PayerGateway, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		oracle:          oracle,
		gateway:         gateway,
		pricing:         BandedPricing{},
		rand:            newLockedRand(time.Now().UnixNano()),
		now:             time.Now,
		logger:          nopLogger{},
		reviewThreshold: DefaultReviewThreshold,
		codingThreshold: DefaultCodingThreshold,
		oracleTimeout:   DefaultOracleTimeout,
		gatewayTimeout:  DefaultGatewayTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// active reports whether the handler for step may touch the record
func active(r *domainwf.Record, step domainwf.Step) bool {
	return r.Step == step && !r.ExitRequested
}

// decide calls the oracle under a timeout. Errors, panics and invalid
// actions all come back as an error wrapping ErrOracleFailure.
func (h *Handlers) decide(ctx context.Context, req port.OracleRequest) (d *port.Decision, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.oracleTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			d, err = nil, fmt.Errorf("%w: panic: %v", domainwf.ErrOracleFailure, p)
		}
	}()

	d, err = h.oracle.Decide(ctx, req)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: timed out after %s", domainwf.ErrOracleFailure, h.oracleTimeout)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", domainwf.ErrOracleFailure, err)
	case d == nil:
		return nil, fmt.Errorf("%w: empty decision", domainwf.ErrOracleFailure)
	case !d.Action.IsValid():
		return nil, fmt.Errorf("%w: unknown action %q", domainwf.ErrOracleFailure, d.Action)
	}
	return d, nil
}

// checkEligibility calls the gateway under a timeout
func (h *Handlers) checkEligibility(ctx context.Context, patientRef, payerID, serviceDate string) (res *domainwf.EligibilityResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.gatewayTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("%w: panic: %v", domainwf.ErrGatewayFailure, p)
		}
	}()

	res, err = h.gateway.CheckEligibility(ctx, patientRef, payerID, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrGatewayFailure, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: empty eligibility response", domainwf.ErrGatewayFailure)
	}
	return res, nil
}

// submitClaim calls the gateway under a timeout
func (h *Handlers) submitClaim(ctx context.Context, claim port.ClaimSubmission) (res *port.SubmissionResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.gatewayTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("%w: panic: %v", domainwf.ErrGatewayFailure, p)
		}
	}()

	res, err = h.gateway.SubmitClaim(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrGatewayFailure, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: empty submission response", domainwf.ErrGatewayFailure)
	}
	return res, nil
}

// request builds the common oracle request for a record
func request(r *domainwf.Record, stage port.Stage) port.OracleRequest {
	req := port.OracleRequest{
		SessionID:    r.SessionID,
		Stage:        stage,
		Conversation: r.RecentMessages(conversationWindow),
		Patient:      r.Patient,
		Encounter:    r.Encounter,
		Structured:   r.Structured,
	}
	if r.Encounter != nil {
		req.ClinicalNotes = r.Encounter.RawClinicalNotes
	}
	return req
}

// needInput routes a gap the user can fill back to data collection
func (h *Handlers) needInput(r *domainwf.Record, question string) {
	h.logger.Info("Input required", "session_id", r.SessionID, "step", r.Step, "reason", domainwf.ErrMissingInput)
	r.AddAssistant(question)
	r.AskUser(question)
}

// holdForReview pauses the current step until the user confirms its output
func (h *Handlers) holdForReview(r *domainwf.Record, confidence float64, question string) {
	h.logger.Info("Review required",
		"session_id", r.SessionID,
		"step", r.Step,
		"confidence", confidence,
		"reason", domainwf.ErrLowConfidence,
	)
	r.RequestReview(question)
}

// fail records a handler failure on the record
func (h *Handlers) fail(r *domainwf.Record, stage string, err error) {
	h.logger.Error("Step failed", "session_id", r.SessionID, "step", r.Step, "error", err)
	r.Fail(fmt.Sprintf("%s error: %v", stage, err))
}

func confidenceOf(d *port.Decision, fallback *float64) float64 {
	switch {
	case d.Confidence != nil:
		return *d.Confidence
	case fallback != nil:
		return *fallback
	}
	return 0
}
