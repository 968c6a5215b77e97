// Package memstore provides an in-memory implementation of evidence.Ledger.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/arbiter/internal/evidence"
)

// Account is one deposit account row.
type Account struct {
	ID          string
	CustomerID  string
	DormantDays int
}

// Txn is one ledger entry.
type Txn struct {
	Amount        float64
	Type          string // INBOUND or OUTBOUND
	At            time.Time
	Counterparty  string
	MCC           string
	Branch        string
	Region        string
	International bool
}

// Store holds banking reference data in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	customers map[string]evidence.Profile // customer ID -> profile
	accounts  map[string]Account          // account ID -> row
	links     map[string][]string         // customer ID -> linked customer IDs
	txns      map[string][]Txn            // account ID -> entries
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		customers: make(map[string]evidence.Profile),
		accounts:  make(map[string]Account),
		links:     make(map[string][]string),
		txns:      make(map[string][]Txn),
	}
}

// AddCustomer stores a customer profile.
func (s *Store) AddCustomer(p evidence.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[p.CustomerID] = p
}

// AddAccount stores an account row.
func (s *Store) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// Link records a directed customer link.
func (s *Store) Link(customerID, linkedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[customerID] = append(s.links[customerID], linkedID)
}

// AddTxn appends a ledger entry to an account.
func (s *Store) AddTxn(accountID string, tx Txn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[accountID] = append(s.txns[accountID], tx)
}

// OutboundSummary aggregates outbound transfers above minAmount inside the
// trailing window.
func (s *Store) OutboundSummary(_ context.Context, accountID string, window time.Duration, minAmount float64) (evidence.OutboundSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	days := make(map[string]struct{})
	var sum evidence.OutboundSummary
	for _, tx := range s.txns[accountID] {
		if tx.Type != "OUTBOUND" || tx.Amount <= minAmount || !tx.At.After(cutoff) {
			continue
		}
		sum.Count++
		sum.Total += tx.Amount
		if tx.Amount > sum.MaxAmount {
			sum.MaxAmount = tx.Amount
		}
		days[tx.At.Format("2006-01-02")] = struct{}{}
	}
	sum.ActiveDays = len(days)
	return sum, nil
}

// BandedDeposits aggregates inbound deposits with low < amount < high inside
// the trailing window.
func (s *Store) BandedDeposits(_ context.Context, accountID string, window time.Duration, low, high float64) (evidence.DepositSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	branches := make(map[string]struct{})
	regions := make(map[string]struct{})
	var sum evidence.DepositSummary
	for _, tx := range s.txns[accountID] {
		if tx.Type != "INBOUND" || tx.Amount <= low || tx.Amount >= high || !tx.At.After(cutoff) {
			continue
		}
		sum.Count++
		sum.Total += tx.Amount
		if tx.Branch != "" {
			branches[tx.Branch] = struct{}{}
		}
		if tx.Region != "" {
			regions[tx.Region] = struct{}{}
		}
	}
	sum.UniqueBranches = len(branches)
	sum.UniqueRegions = len(regions)
	return sum, nil
}

// LinkedDeposits sums banded inbound deposits across accounts owned by
// customers linked to this one, excluding the alerted account.
func (s *Store) LinkedDeposits(_ context.Context, customerID, excludeAccountID string, window time.Duration, low, high float64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var total float64
	for _, id := range s.linkedAccountsLocked(customerID) {
		if id == excludeAccountID {
			continue
		}
		for _, tx := range s.txns[id] {
			if tx.Type != "INBOUND" || tx.Amount <= low || tx.Amount >= high || !tx.At.After(cutoff) {
				continue
			}
			total += tx.Amount
		}
	}
	return total, nil
}

// LatestTransaction returns the account's most recent entry, or (nil, nil)
// when the account has none.
func (s *Store) LatestTransaction(_ context.Context, accountID string) (*evidence.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Txn
	for i := range s.txns[accountID] {
		tx := &s.txns[accountID][i]
		if latest == nil || tx.At.After(latest.At) {
			latest = tx
		}
	}
	if latest == nil {
		return nil, nil
	}
	return &evidence.Transaction{
		Counterparty: latest.Counterparty,
		Amount:       latest.Amount,
		MCC:          latest.MCC,
	}, nil
}

// CounterpartyHistory summarizes the account's full history with one
// counterparty.
func (s *Store) CounterpartyHistory(_ context.Context, accountID, counterparty string) (evidence.CounterpartyHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h evidence.CounterpartyHistory
	for _, tx := range s.txns[accountID] {
		if tx.Counterparty != counterparty {
			continue
		}
		h.Count++
		h.Total += tx.Amount
		if h.First.IsZero() || tx.At.Before(h.First) {
			h.First = tx.At
		}
		if tx.At.After(h.Last) {
			h.Last = tx.At
		}
	}
	return h, nil
}

// DormantDays reads the account's recorded dormancy. Unknown accounts
// report zero.
func (s *Store) DormantDays(_ context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[accountID].DormantDays, nil
}

// RecentActivity summarizes transactions inside the trailing window.
func (s *Store) RecentActivity(_ context.Context, accountID string, window time.Duration) (evidence.ActivitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var snap evidence.ActivitySnapshot
	for _, tx := range s.txns[accountID] {
		if !tx.At.After(cutoff) {
			continue
		}
		snap.Count++
		snap.Total += tx.Amount
		if tx.International && tx.Type == "OUTBOUND" {
			snap.HasInternational = true
		}
	}
	return snap, nil
}

// Profile returns the customer's KYC snapshot, or (nil, nil) when the
// customer is unknown.
func (s *Store) Profile(_ context.Context, customerID string) (*evidence.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.customers[customerID]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

// LinkedAccounts lists account IDs owned by customers linked to this one.
func (s *Store) LinkedAccounts(_ context.Context, customerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linkedAccountsLocked(customerID), nil
}

func (s *Store) linkedAccountsLocked(customerID string) []string {
	seen := make(map[string]struct{})
	for _, linked := range s.links[customerID] {
		for id, acc := range s.accounts {
			if acc.CustomerID == linked {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
