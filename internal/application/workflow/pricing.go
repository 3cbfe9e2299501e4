package workflow

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// PriceBand is the inclusive range a procedure charge is drawn from
type PriceBand struct {
	Min float64
	Max float64
}

// PricingStrategy returns the charge band for a procedure code
type PricingStrategy interface {
	Band(code string) PriceBand
}

// BandedPricing prices procedures by CPT code prefix
type BandedPricing struct{}

// Band implements PricingStrategy
func (BandedPricing) Band(code string) PriceBand {
	switch {
	case strings.HasPrefix(code, "99"): // evaluation and management
		return PriceBand{Min: 100, Max: 500}
	case strings.HasPrefix(code, "93"): // cardiology
		return PriceBand{Min: 200, Max: 1000}
	case strings.HasPrefix(code, "80"): // laboratory
		return PriceBand{Min: 50, Max: 200}
	default:
		return PriceBand{Min: 75, Max: 300}
	}
}

// FixedPricing charges the same amount for every procedure
type FixedPricing float64

// Band implements PricingStrategy
func (f FixedPricing) Band(string) PriceBand {
	return PriceBand{Min: float64(f), Max: float64(f)}
}

// ClaimAmount sums one draw per procedure code from its price band.
// draw must return values in [0,1).
func ClaimAmount(procedures []domainwf.MedicalCode, pricing PricingStrategy, draw func() float64) float64 {
	var total float64
	for _, p := range procedures {
		band := pricing.Band(p.Code)
		total += band.Min + draw()*(band.Max-band.Min)
	}
	return round2(total)
}

// PatientResponsibility applies the deductible, then coinsurance, then the copay.
// The result never exceeds total.
func PatientResponsibility(total, copay, deductibleRemaining, coveragePct float64) float64 {
	deductibleApplied := math.Min(total, deductibleRemaining)
	coinsurance := (total - deductibleApplied) * (1 - coveragePct/100)
	return round2(math.Min(total, copay+deductibleApplied+coinsurance))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// lockedRand is a rand source shared by concurrent sessions
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.Float64()
}

func (l *lockedRand) Digits(n int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d", l.rnd.Intn(10))
	}
	return b.String()
}

// newClaimNumber returns "CLM" followed by 8 random digits
func newClaimNumber(r *lockedRand) string {
	return "CLM" + r.Digits(8)
}
