package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process ledger with the same windowing as the
// Postgres implementation. Spend does not survive restarts.
type MemoryLedger struct {
	mu     sync.Mutex
	limits Limits
	spend  map[string]int // tenant + "|" + period key
}

// NewMemory creates an in-memory ledger.
func NewMemory(limits Limits) *MemoryLedger {
	return &MemoryLedger{
		limits: limits,
		spend:  make(map[string]int),
	}
}

// CheckBudget reports whether the tenant can spend the given amount.
func (l *MemoryLedger) CheckBudget(_ context.Context, tenant string, cents int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.limits.DailyCents > 0 {
		if l.spend[spendKey(tenant, now, PeriodDaily)]+cents > l.limits.DailyCents {
			return false, nil
		}
	}
	if l.limits.MonthlyCents > 0 {
		if l.spend[spendKey(tenant, now, PeriodMonthly)]+cents > l.limits.MonthlyCents {
			return false, nil
		}
	}
	return true, nil
}

// EnforceBudget records realized spend against both windows.
func (l *MemoryLedger) EnforceBudget(_ context.Context, tenant string, cents int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.spend[spendKey(tenant, now, PeriodDaily)] += cents
	l.spend[spendKey(tenant, now, PeriodMonthly)] += cents
	return nil
}

// SpendSummary returns the tenant's current daily and monthly spend.
func (l *MemoryLedger) SpendSummary(_ context.Context, tenant string) (*Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	return &Summary{
		DailyCents:   l.spend[spendKey(tenant, now, PeriodDaily)],
		MonthlyCents: l.spend[spendKey(tenant, now, PeriodMonthly)],
	}, nil
}

func spendKey(tenant string, now time.Time, period Period) string {
	return tenant + "|" + periodKey(now, period)
}
