// Package ledger tracks tenant spend in cents across daily and monthly
// windows. The Postgres implementation backs production; the in-memory
// one backs tests and single-node development.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Period identifies a spend accumulation window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Limits caps tenant spend per window, in cents. Zero means unlimited.
type Limits struct {
	DailyCents   int
	MonthlyCents int
}

// PostgresLedger stores spend in two tables: spend_ledger holds one
// upserted row per (tenant, period key), spend_transactions holds one
// row per recorded charge for auditing.
type PostgresLedger struct {
	db     *sql.DB
	limits Limits
	logger *zap.Logger
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(db *sql.DB, limits Limits, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		limits: limits,
		logger: logger,
	}
}

// CheckBudget reports whether the tenant can spend the given amount
// without crossing a daily or monthly limit. Errors must be treated as
// a denial by the caller; the ledger itself only reports them.
func (l *PostgresLedger) CheckBudget(ctx context.Context, tenant string, cents int) (bool, error) {
	now := time.Now()

	if l.limits.DailyCents > 0 {
		spent, err := l.periodSpend(ctx, tenant, PeriodDaily, now)
		if err != nil {
			return false, fmt.Errorf("daily spend lookup: %w", err)
		}
		if spent+cents > l.limits.DailyCents {
			l.logger.Info("daily budget would be exceeded",
				zap.String("tenant", tenant),
				zap.Int("spent_cents", spent),
				zap.Int("requested_cents", cents),
				zap.Int("limit_cents", l.limits.DailyCents))
			return false, nil
		}
	}

	if l.limits.MonthlyCents > 0 {
		spent, err := l.periodSpend(ctx, tenant, PeriodMonthly, now)
		if err != nil {
			return false, fmt.Errorf("monthly spend lookup: %w", err)
		}
		if spent+cents > l.limits.MonthlyCents {
			l.logger.Info("monthly budget would be exceeded",
				zap.String("tenant", tenant),
				zap.Int("spent_cents", spent),
				zap.Int("requested_cents", cents),
				zap.Int("limit_cents", l.limits.MonthlyCents))
			return false, nil
		}
	}

	return true, nil
}

// EnforceBudget records realized spend against both windows and writes
// an audit transaction row.
func (l *PostgresLedger) EnforceBudget(ctx context.Context, tenant string, cents int) error {
	now := time.Now()

	if err := l.upsertSpend(ctx, tenant, periodKey(now, PeriodDaily), cents); err != nil {
		return fmt.Errorf("record daily spend: %w", err)
	}
	if err := l.upsertSpend(ctx, tenant, periodKey(now, PeriodMonthly), cents); err != nil {
		return fmt.Errorf("record monthly spend: %w", err)
	}

	query := `
		INSERT INTO spend_transactions (tenant, cents, created_at)
		VALUES ($1, $2, $3)
	`
	if _, err := l.db.ExecContext(ctx, query, tenant, cents, now); err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// Summary holds a tenant's accumulated spend per window.
type Summary struct {
	DailyCents   int
	MonthlyCents int
}

// SpendSummary returns the tenant's current daily and monthly spend.
func (l *PostgresLedger) SpendSummary(ctx context.Context, tenant string) (*Summary, error) {
	now := time.Now()

	daily, err := l.periodSpend(ctx, tenant, PeriodDaily, now)
	if err != nil {
		return nil, fmt.Errorf("daily spend lookup: %w", err)
	}
	monthly, err := l.periodSpend(ctx, tenant, PeriodMonthly, now)
	if err != nil {
		return nil, fmt.Errorf("monthly spend lookup: %w", err)
	}

	return &Summary{DailyCents: daily, MonthlyCents: monthly}, nil
}

func (l *PostgresLedger) periodSpend(ctx context.Context, tenant string, period Period, now time.Time) (int, error) {
	query := `
		SELECT COALESCE(cents, 0)
		FROM spend_ledger
		WHERE tenant = $1 AND period_key = $2
	`

	var cents int
	err := l.db.QueryRowContext(ctx, query, tenant, periodKey(now, period)).Scan(&cents)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cents, nil
}

func (l *PostgresLedger) upsertSpend(ctx context.Context, tenant, key string, cents int) error {
	query := `
		INSERT INTO spend_ledger (tenant, period_key, cents, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant, period_key)
		DO UPDATE SET
			cents = spend_ledger.cents + EXCLUDED.cents,
			updated_at = EXCLUDED.updated_at
	`

	_, err := l.db.ExecContext(ctx, query, tenant, key, cents, time.Now())
	return err
}

// CleanupOldData deletes ledger rows and transactions older than the
// retention window. Returns the number of rows removed.
func (l *PostgresLedger) CleanupOldData(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := l.db.ExecContext(ctx,
		`DELETE FROM spend_ledger WHERE period_key < $1`,
		periodKey(cutoff, PeriodDaily))
	if err != nil {
		return 0, fmt.Errorf("cleanup spend ledger: %w", err)
	}
	ledgerRows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	result, err = l.db.ExecContext(ctx,
		`DELETE FROM spend_transactions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup transactions: %w", err)
	}
	txRows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	l.logger.Info("cleaned up old ledger data",
		zap.Int64("ledger_rows_deleted", ledgerRows),
		zap.Int64("transaction_rows_deleted", txRows),
		zap.Time("cutoff", cutoff))

	return ledgerRows + txRows, nil
}

// StartCleanupWorker periodically removes expired ledger data until ctx
// is cancelled. Run it in its own goroutine.
func (l *PostgresLedger) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started ledger cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := l.CleanupOldData(ctx, retention); err != nil {
				l.logger.Error("ledger cleanup failed", zap.Error(err))
			}
		case <-ctx.Done():
			l.logger.Info("stopping ledger cleanup worker")
			return
		}
	}
}

// periodKey formats the accumulation key for a window.
func periodKey(now time.Time, period Period) string {
	switch period {
	case PeriodMonthly:
		return now.Format("2006-01")
	default:
		return now.Format("2006-01-02")
	}
}
