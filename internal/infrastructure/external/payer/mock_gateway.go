package payer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

const (
	DefaultEligibilityRate = 0.9
	DefaultAcceptanceRate  = 0.8
)

// Plan describes a payer known to the mock gateway
type Plan struct {
	Name        string
	CopayAmount float64
}

// Plans are the payers the mock gateway accepts
var Plans = map[string]Plan{
	"ADNIC": {Name: "Abu Dhabi National Insurance Company", CopayAmount: 25},
	"DAMAN": {Name: "Daman National Health Insurance", CopayAmount: 20},
	"THIQA": {Name: "Thiqa Insurance", CopayAmount: 30},
}

var (
	coveragePercentages = []float64{70, 80, 90, 100}

	ineligibleReasons = []string{
		"Policy expired",
		"Premium not paid",
		"Service not covered",
		"Waiting period not completed",
	}

	rejectionReasons = []string{
		"Missing documentation",
		"Invalid procedure codes",
		"Patient not eligible",
		"Prior authorization required",
	}
)

// MockGateway simulates payer eligibility and claim APIs with seeded randomness
type MockGateway struct {
	mu  sync.Mutex
	rng *rand.Rand

	eligibilityRate float64
	acceptanceRate  float64
	latency         time.Duration
	logger          *zap.Logger
}

// Option configures the mock gateway
type Option func(*MockGateway)

// WithSeed makes the gateway's random outcomes reproducible
func WithSeed(seed int64) Option {
	return func(g *MockGateway) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRates sets the eligibility and claim acceptance probabilities
func WithRates(eligibility, acceptance float64) Option {
	return func(g *MockGateway) {
		g.eligibilityRate = eligibility
		g.acceptanceRate = acceptance
	}
}

// WithLatency delays every call, honouring context cancellation
func WithLatency(d time.Duration) Option {
	return func(g *MockGateway) {
		g.latency = d
	}
}

// NewMockGateway creates a new mock payer gateway
func NewMockGateway(logger *zap.Logger, opts ...Option) *MockGateway {
	g := &MockGateway{
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		eligibilityRate: DefaultEligibilityRate,
		acceptanceRate:  DefaultAcceptanceRate,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckEligibility implements port.PayerGateway
func (g *MockGateway) CheckEligibility(ctx context.Context, patientRef, payerID, serviceDate string) (*domainwf.EligibilityResult, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	plan, ok := Plans[payerID]
	if !ok {
		g.logger.Info("Eligibility check for unknown payer", zap.String("payer_id", payerID))
		return &domainwf.EligibilityResult{
			Eligible:        false,
			PayerID:         payerID,
			Reason:          "Unknown payer",
			ConfidenceScore: floatPtr(0),
		}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rng.Float64() >= g.eligibilityRate {
		reason := ineligibleReasons[g.rng.Intn(len(ineligibleReasons))]
		g.logger.Info("Patient not eligible",
			zap.String("patient_ref", patientRef),
			zap.String("payer_id", payerID),
			zap.String("reason", reason))
		return &domainwf.EligibilityResult{
			Eligible:        false,
			PayerID:         payerID,
			Reason:          reason,
			ConfidenceScore: floatPtr(0.95),
		}, nil
	}

	coverage := coveragePercentages[g.rng.Intn(len(coveragePercentages))]
	deductible := roundCents(g.rng.Float64() * 1000)
	confidence := 0.85 + g.rng.Float64()*0.13

	year := time.Now().Year()
	if t, err := time.Parse("2006-01-02", serviceDate); err == nil {
		year = t.Year()
	}

	g.logger.Info("Patient eligible",
		zap.String("patient_ref", patientRef),
		zap.String("payer_id", payerID),
		zap.Float64("coverage_percentage", coverage))

	return &domainwf.EligibilityResult{
		Eligible: true,
		PayerID:  payerID,
		CoverageDetails: domainwf.CoverageDetails{
			DeductibleRemaining: deductible,
			CopayAmount:         plan.CopayAmount,
			CoveragePercentage:  floatPtr(coverage),
			RequiresPriorAuth:   false,
			MaxBenefit:          100000,
			PolicyStatus:        "active",
			EffectiveDate:       fmt.Sprintf("%d-01-01", year),
			ExpiryDate:          fmt.Sprintf("%d-12-31", year),
		},
		ConfidenceScore: floatPtr(confidence),
	}, nil
}

// SubmitClaim implements port.PayerGateway
func (g *MockGateway) SubmitClaim(ctx context.Context, claim port.ClaimSubmission) (*port.SubmissionResult, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	if _, ok := Plans[claim.PayerID]; !ok {
		g.logger.Info("Claim rejected for unknown payer",
			zap.String("claim_number", claim.ClaimNumber),
			zap.String("payer_id", claim.PayerID))
		return &port.SubmissionResult{Success: false, Error: "Unknown payer"}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	reference := "REF" + g.digits(10)

	if g.rng.Float64() >= g.acceptanceRate {
		reason := rejectionReasons[g.rng.Intn(len(rejectionReasons))]
		g.logger.Info("Claim rejected",
			zap.String("claim_number", claim.ClaimNumber),
			zap.String("reference_number", reference),
			zap.String("reason", reason))
		return &port.SubmissionResult{
			Success:         false,
			ReferenceNumber: reference,
			Error:           reason,
		}, nil
	}

	tracking := "TRK" + g.digits(8)
	g.logger.Info("Claim accepted",
		zap.String("claim_number", claim.ClaimNumber),
		zap.String("reference_number", reference),
		zap.Float64("total_amount", claim.TotalAmount))

	return &port.SubmissionResult{
		Success:         true,
		ReferenceNumber: reference,
		TrackingNumber:  tracking,
	}, nil
}

// wait simulates network latency
func (g *MockGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// digits returns n random decimal digits. Callers hold g.mu.
func (g *MockGateway) digits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + g.rng.Intn(10))
	}
	return string(b)
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func floatPtr(v float64) *float64 {
	return &v
}

// Verify interface compliance
var _ port.PayerGateway = (*MockGateway)(nil)
