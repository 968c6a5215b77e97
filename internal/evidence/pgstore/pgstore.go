// Package pgstore provides a PostgreSQL implementation of evidence.Ledger.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/arbiter/internal/evidence"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/evidence/pgstore")

//go:embed schema.sql
var schema string

// Store reads banking reference data from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// OutboundSummary aggregates outbound transfers above minAmount inside the
// trailing window.
func (s *Store) OutboundSummary(ctx context.Context, accountID string, window time.Duration, minAmount float64) (evidence.OutboundSummary, error) {
	ctx, span := startSpan(ctx, "pgstore.OutboundSummary")
	defer span.End()

	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0), COALESCE(MAX(amount), 0),
		COUNT(DISTINCT occurred_at::date)
	FROM transactions
	WHERE account_id = $1 AND transaction_type = 'OUTBOUND'
		AND amount > $2 AND occurred_at > $3`

	var sum evidence.OutboundSummary
	cutoff := time.Now().Add(-window)
	err := s.pool.QueryRow(ctx, query, accountID, minAmount, cutoff).
		Scan(&sum.Count, &sum.Total, &sum.MaxAmount, &sum.ActiveDays)
	if err != nil {
		spanError(span, err)
		return evidence.OutboundSummary{}, fmt.Errorf("outbound summary: %w", err)
	}
	return sum, nil
}

// BandedDeposits aggregates inbound deposits with low < amount < high inside
// the trailing window.
func (s *Store) BandedDeposits(ctx context.Context, accountID string, window time.Duration, low, high float64) (evidence.DepositSummary, error) {
	ctx, span := startSpan(ctx, "pgstore.BandedDeposits")
	defer span.End()

	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0),
		COUNT(DISTINCT branch_location) FILTER (WHERE branch_location <> ''),
		COUNT(DISTINCT geographic_location) FILTER (WHERE geographic_location <> '')
	FROM transactions
	WHERE account_id = $1 AND transaction_type = 'INBOUND'
		AND amount > $2 AND amount < $3 AND occurred_at > $4`

	var sum evidence.DepositSummary
	cutoff := time.Now().Add(-window)
	err := s.pool.QueryRow(ctx, query, accountID, low, high, cutoff).
		Scan(&sum.Count, &sum.Total, &sum.UniqueBranches, &sum.UniqueRegions)
	if err != nil {
		spanError(span, err)
		return evidence.DepositSummary{}, fmt.Errorf("banded deposits: %w", err)
	}
	return sum, nil
}

// LinkedDeposits sums banded inbound deposits across accounts owned by
// customers linked to this one, excluding the alerted account.
func (s *Store) LinkedDeposits(ctx context.Context, customerID, excludeAccountID string, window time.Duration, low, high float64) (float64, error) {
	ctx, span := startSpan(ctx, "pgstore.LinkedDeposits")
	defer span.End()

	query := `SELECT COALESCE(SUM(t.amount), 0)
	FROM customer_links cl
	JOIN accounts a ON a.customer_id = cl.linked_customer_id
	JOIN transactions t ON t.account_id = a.account_id
	WHERE cl.customer_id = $1 AND a.account_id <> $2
		AND t.transaction_type = 'INBOUND'
		AND t.amount > $3 AND t.amount < $4 AND t.occurred_at > $5`

	var total float64
	cutoff := time.Now().Add(-window)
	err := s.pool.QueryRow(ctx, query, customerID, excludeAccountID, low, high, cutoff).Scan(&total)
	if err != nil {
		spanError(span, err)
		return 0, fmt.Errorf("linked deposits: %w", err)
	}
	return total, nil
}

// LatestTransaction returns the account's most recent entry, or (nil, nil)
// when the account has none.
func (s *Store) LatestTransaction(ctx context.Context, accountID string) (*evidence.Transaction, error) {
	ctx, span := startSpan(ctx, "pgstore.LatestTransaction")
	defer span.End()

	query := `SELECT counterparty, amount, counterparty_mcc
	FROM transactions WHERE account_id = $1
	ORDER BY occurred_at DESC LIMIT 1`

	var txn evidence.Transaction
	err := s.pool.QueryRow(ctx, query, accountID).Scan(&txn.Counterparty, &txn.Amount, &txn.MCC)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		spanError(span, err)
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	return &txn, nil
}

// CounterpartyHistory summarizes the account's full history with one
// counterparty. First and Last stay zero when there is none.
func (s *Store) CounterpartyHistory(ctx context.Context, accountID, counterparty string) (evidence.CounterpartyHistory, error) {
	ctx, span := startSpan(ctx, "pgstore.CounterpartyHistory")
	defer span.End()

	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0), MIN(occurred_at), MAX(occurred_at)
	FROM transactions WHERE account_id = $1 AND counterparty = $2`

	var (
		h           evidence.CounterpartyHistory
		first, last *time.Time
	)
	err := s.pool.QueryRow(ctx, query, accountID, counterparty).Scan(&h.Count, &h.Total, &first, &last)
	if err != nil {
		spanError(span, err)
		return evidence.CounterpartyHistory{}, fmt.Errorf("counterparty history: %w", err)
	}
	if first != nil {
		h.First = *first
	}
	if last != nil {
		h.Last = *last
	}
	return h, nil
}

// DormantDays reads the account's recorded dormancy. Unknown accounts
// report zero.
func (s *Store) DormantDays(ctx context.Context, accountID string) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.DormantDays")
	defer span.End()

	var days int
	err := s.pool.QueryRow(ctx, `SELECT dormant_days FROM accounts WHERE account_id = $1`, accountID).Scan(&days)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		spanError(span, err)
		return 0, fmt.Errorf("dormant days: %w", err)
	}
	return days, nil
}

// RecentActivity summarizes transactions inside the trailing window. An
// outbound entry flagged international marks the snapshot.
func (s *Store) RecentActivity(ctx context.Context, accountID string, window time.Duration) (evidence.ActivitySnapshot, error) {
	ctx, span := startSpan(ctx, "pgstore.RecentActivity")
	defer span.End()

	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0),
		COALESCE(BOOL_OR(is_international AND transaction_type = 'OUTBOUND'), FALSE)
	FROM transactions WHERE account_id = $1 AND occurred_at > $2`

	var snap evidence.ActivitySnapshot
	cutoff := time.Now().Add(-window)
	err := s.pool.QueryRow(ctx, query, accountID, cutoff).Scan(&snap.Count, &snap.Total, &snap.HasInternational)
	if err != nil {
		spanError(span, err)
		return evidence.ActivitySnapshot{}, fmt.Errorf("recent activity: %w", err)
	}
	return snap, nil
}

// Profile returns the customer's KYC snapshot, or (nil, nil) when the
// customer is unknown.
func (s *Store) Profile(ctx context.Context, customerID string) (*evidence.Profile, error) {
	ctx, span := startSpan(ctx, "pgstore.Profile")
	defer span.End()

	query := `SELECT customer_id, name, email, phone, kyc_risk, occupation, employer, declared_income, profile_age_days
	FROM customers WHERE customer_id = $1`

	var p evidence.Profile
	err := s.pool.QueryRow(ctx, query, customerID).Scan(
		&p.CustomerID, &p.Name, &p.Email, &p.Phone, &p.KYCRisk, &p.Occupation,
		&p.Employer, &p.DeclaredIncome, &p.ProfileAgeDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		spanError(span, err)
		return nil, fmt.Errorf("profile: %w", err)
	}
	return &p, nil
}

// LinkedAccounts lists account IDs owned by customers linked to this one.
func (s *Store) LinkedAccounts(ctx context.Context, customerID string) ([]string, error) {
	ctx, span := startSpan(ctx, "pgstore.LinkedAccounts")
	defer span.End()

	query := `SELECT DISTINCT a.account_id
	FROM customer_links cl
	JOIN accounts a ON a.customer_id = cl.linked_customer_id
	WHERE cl.customer_id = $1
	ORDER BY a.account_id`

	rows, err := s.pool.Query(ctx, query, customerID)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("query linked accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			spanError(span, err)
			return nil, fmt.Errorf("scan linked account: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("iterate linked accounts: %w", err)
	}
	return ids, nil
}
