package policy

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// Policy names shipped with the service.
const (
	PolicyStandard = "standard"
	PolicyFlexible = "flexible"
	PolicyStrict   = "strict"
)

// Tier refunds Percent when more than MinHours remain before start
// (or exactly MinHours when Inclusive is set).
type Tier struct {
	MinHours  float64
	Inclusive bool
	Percent   float64
}

// CancellationPolicy maps hours-until-start to a refund percentage.
type CancellationPolicy interface {
	Name() string
	RefundPercent(hoursUntilStart float64) float64
}

// TieredPolicy is a step function over tiers sorted by descending MinHours.
type TieredPolicy struct {
	name  string
	tiers []Tier
}

// NewTieredPolicy sorts tiers so the widest threshold is checked first.
func NewTieredPolicy(name string, tiers ...Tier) TieredPolicy {
	sorted := append([]Tier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinHours > sorted[j].MinHours })
	return TieredPolicy{name: name, tiers: sorted}
}

// Name implements CancellationPolicy.
func (p TieredPolicy) Name() string { return p.name }

// RefundPercent implements CancellationPolicy. Hours below every tier refund nothing.
func (p TieredPolicy) RefundPercent(hours float64) float64 {
	for _, t := range p.tiers {
		if hours > t.MinHours || (t.Inclusive && hours == t.MinHours) {
			return t.Percent
		}
	}
	return 0
}

// Standard refunds earlyPercent above 24h, 50% from 2h to 24h and nothing below 2h.
func Standard(earlyPercent float64) TieredPolicy {
	return NewTieredPolicy(PolicyStandard,
		Tier{MinHours: 24, Percent: earlyPercent},
		Tier{MinHours: 2, Inclusive: true, Percent: 50},
	)
}

// Flexible refunds everything above 2h and half afterwards.
func Flexible() TieredPolicy {
	return NewTieredPolicy(PolicyFlexible,
		Tier{MinHours: 2, Percent: 100},
		Tier{MinHours: math.Inf(-1), Percent: 50},
	)
}

// Strict refunds half above 48h and nothing afterwards.
func Strict() TieredPolicy {
	return NewTieredPolicy(PolicyStrict, Tier{MinHours: 48, Percent: 50})
}

// Refund is the outcome of applying a policy.
type Refund struct {
	Policy          string  `json:"policy"`
	HoursUntilStart float64 `json:"hoursUntilStart"`
	Percent         float64 `json:"percent"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
}

// Engine resolves named policies. Safe for concurrent use.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]CancellationPolicy
	defaultName string
}

// NewEngine registers the built-in policies with the given early refund percentage.
func NewEngine(defaultName string, earlyPercent float64) (*Engine, error) {
	e := &Engine{policies: make(map[string]CancellationPolicy)}
	e.Register(Standard(earlyPercent))
	e.Register(Flexible())
	e.Register(Strict())
	if defaultName == "" {
		defaultName = PolicyStandard
	}
	if _, ok := e.policies[defaultName]; !ok {
		return nil, fmt.Errorf("policy: unknown default policy %q", defaultName)
	}
	e.defaultName = defaultName
	return e, nil
}

// Register adds or replaces a policy.
func (e *Engine) Register(p CancellationPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name()] = p
}

// Refund computes the refund for cancelling r at now. An empty name selects the default policy.
func (e *Engine) Refund(r models.Reservation, name string, now time.Time) (Refund, error) {
	e.mu.RLock()
	if name == "" {
		name = e.defaultName
	}
	p, ok := e.policies[name]
	e.mu.RUnlock()
	if !ok {
		return Refund{}, fmt.Errorf("policy: unknown policy %q", name)
	}
	return Apply(p, r, now), nil
}

// Apply is the pure refund computation.
func Apply(p CancellationPolicy, r models.Reservation, now time.Time) Refund {
	hours := r.StartTime.Sub(now).Hours()
	pct := p.RefundPercent(hours)
	return Refund{
		Policy:          p.Name(),
		HoursUntilStart: hours,
		Percent:         pct,
		Amount:          roundCents(r.Fee * pct / 100),
		Currency:        r.Currency,
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
