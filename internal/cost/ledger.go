// Package cost implements the pipeline's cost ledger, ported
// field-for-field from super_orchestrator/cost.py's
// PhaseCost/PipelineCostTracker.
package cost

import (
	"fmt"
	"sync"
	"time"
)

// PhaseCost is the cost record for a single pipeline phase.
type PhaseCost struct {
	PhaseName string             `json:"phase_name"`
	CostUSD   float64            `json:"cost_usd"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	SubPhases map[string]float64 `json:"sub_phases"`
}

// Ledger tracks cumulative cost across pipeline phases. Safe for
// concurrent use: builder tasks running inside builders_running may add
// cost concurrently with the orchestrator polling check_budget.
type Ledger struct {
	mu          sync.Mutex
	phases      map[string]*PhaseCost
	budgetLimit *float64

	currentPhase string
	currentStart time.Time
}

// New creates a cost ledger with an optional budget limit (nil = no cap).
func New(budgetLimit *float64) *Ledger {
	return &Ledger{phases: map[string]*PhaseCost{}, budgetLimit: budgetLimit}
}

// StartPhase marks the start of a phase for cost tracking.
func (l *Ledger) StartPhase(phase string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentPhase = phase
	l.currentStart = time.Now().UTC()
	if _, ok := l.phases[phase]; !ok {
		l.phases[phase] = &PhaseCost{PhaseName: phase, StartTime: l.currentStart}
	}
}

// EndPhase marks the end of the current phase and records its cost.
func (l *Ledger) EndPhase(cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	phase := l.currentPhase
	if phase == "" {
		return
	}
	if p, ok := l.phases[phase]; ok {
		p.CostUSD += cost
		p.EndTime = now
	} else {
		l.phases[phase] = &PhaseCost{PhaseName: phase, CostUSD: cost, StartTime: l.currentStart, EndTime: now}
	}
	l.currentPhase = ""
}

// PhaseCosts returns a snapshot mapping of phase name to cumulative cost.
func (l *Ledger) PhaseCosts() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.phases))
	for name, p := range l.phases {
		out[name] = p.CostUSD
	}
	return out
}

// AddPhaseCost records cost for a phase outside the start/end bracket
// (e.g. a single builder's reported cost).
func (l *Ledger) AddPhaseCost(phase string, cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.phases[phase]; ok {
		p.CostUSD += cost
		return
	}
	now := time.Now().UTC()
	l.phases[phase] = &PhaseCost{PhaseName: phase, CostUSD: cost, StartTime: now, EndTime: now}
}

// TotalCost is the total cost across all phases.
func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, p := range l.phases {
		total += p.CostUSD
	}
	return total
}

// CheckBudget returns (true, "") when there is no limit or the total cost
// is within it, and (false, message) otherwise. The pipeline evaluates
// this between every two phases and after each builder completes.
func (l *Ledger) CheckBudget() (bool, string) {
	if l.budgetLimit == nil {
		return true, ""
	}
	total := l.TotalCost()
	if total > *l.budgetLimit {
		return false, fmt.Sprintf("Budget exceeded: $%.2f spent, limit is $%.2f", total, *l.budgetLimit)
	}
	return true, ""
}

// BudgetLimit returns the configured budget limit, or nil.
func (l *Ledger) BudgetLimit() *float64 { return l.budgetLimit }

// SetBudgetLimit replaces the budget limit; nil removes the cap.
func (l *Ledger) SetBudgetLimit(limit *float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgetLimit = limit
}

// ToDict serializes tracker state for embedding into the snapshot / CLI
// summary table.
func (l *Ledger) ToDict() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	phases := make(map[string]interface{}, len(l.phases))
	var total float64
	for name, p := range l.phases {
		phases[name] = map[string]interface{}{
			"phase_name": p.PhaseName,
			"cost_usd":   p.CostUSD,
			"start_time": p.StartTime,
			"end_time":   p.EndTime,
			"sub_phases": p.SubPhases,
		}
		total += p.CostUSD
	}
	return map[string]interface{}{
		"budget_limit": l.budgetLimit,
		"total_cost":   total,
		"phases":       phases,
	}
}
