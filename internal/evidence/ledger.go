package evidence

import (
	"context"
	"time"
)

// OutboundSummary aggregates large outbound transfers over one window.
type OutboundSummary struct {
	Count      int
	Total      float64
	MaxAmount  float64
	ActiveDays int
}

// DepositSummary aggregates inbound deposits inside a banded amount range.
type DepositSummary struct {
	Count          int
	Total          float64
	UniqueBranches int
	UniqueRegions  int
}

// Transaction is one ledger entry, trimmed to the fields collectors read.
type Transaction struct {
	Counterparty string
	Amount       float64
	MCC          string
}

// CounterpartyHistory summarizes an account's prior dealings with one
// counterparty.
type CounterpartyHistory struct {
	Count int
	Total float64
	First time.Time
	Last  time.Time
}

// ActivitySnapshot summarizes the transactions inside a trailing window.
type ActivitySnapshot struct {
	Count            int
	Total            float64
	HasInternational bool
}

// Profile is the KYC snapshot for a customer, including the contact
// details action execution needs.
type Profile struct {
	CustomerID     string
	Name           string
	Email          string
	Phone          string
	KYCRisk        string
	Occupation     string
	Employer       string
	DeclaredIncome float64
	ProfileAgeDays int
}

// Ledger answers the transaction and profile queries the collectors need,
// keyed by the account and customer identifiers carried on the alert.
type Ledger interface {
	// OutboundSummary aggregates outbound transfers above minAmount within
	// the trailing window.
	OutboundSummary(ctx context.Context, accountID string, window time.Duration, minAmount float64) (OutboundSummary, error)

	// BandedDeposits aggregates inbound deposits with low < amount < high
	// within the trailing window.
	BandedDeposits(ctx context.Context, accountID string, window time.Duration, low, high float64) (DepositSummary, error)

	// LinkedDeposits sums banded deposits across the customer's other
	// accounts within the trailing window.
	LinkedDeposits(ctx context.Context, customerID, excludeAccountID string, window time.Duration, low, high float64) (float64, error)

	// LatestTransaction returns the account's most recent ledger entry, or
	// (nil, nil) when the account has none.
	LatestTransaction(ctx context.Context, accountID string) (*Transaction, error)

	// CounterpartyHistory summarizes prior transactions with the named
	// counterparty across the account's full history.
	CounterpartyHistory(ctx context.Context, accountID, counterparty string) (CounterpartyHistory, error)

	// DormantDays reports how many days the account sat without activity
	// before its most recent transaction.
	DormantDays(ctx context.Context, accountID string) (int, error)

	// RecentActivity summarizes transactions within the trailing window.
	RecentActivity(ctx context.Context, accountID string, window time.Duration) (ActivitySnapshot, error)

	// Profile returns the customer's KYC snapshot, or (nil, nil) when the
	// customer is unknown.
	Profile(ctx context.Context, customerID string) (*Profile, error)

	// LinkedAccounts lists account IDs owned by customers linked to this
	// one.
	LinkedAccounts(ctx context.Context, customerID string) ([]string, error)
}
