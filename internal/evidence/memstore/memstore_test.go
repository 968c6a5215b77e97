package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/arbiter/internal/evidence"
)

func seeded() *Store {
	s := New()
	now := time.Now()

	s.AddCustomer(evidence.Profile{CustomerID: "C-1", Name: "Pat", KYCRisk: "HIGH", ProfileAgeDays: 730})
	s.AddCustomer(evidence.Profile{CustomerID: "C-2", Name: "Lee"})
	s.AddAccount(Account{ID: "A-1", CustomerID: "C-1"})
	s.AddAccount(Account{ID: "A-2", CustomerID: "C-2"})
	s.AddAccount(Account{ID: "A-3", CustomerID: "C-1", DormantDays: 400})
	s.Link("C-1", "C-2")

	s.AddTxn("A-1", Txn{Amount: 6000, Type: "OUTBOUND", At: now.Add(-40 * time.Hour), Counterparty: "Entity ABC"})
	s.AddTxn("A-1", Txn{Amount: 5500, Type: "OUTBOUND", At: now.Add(-20 * time.Hour), Counterparty: "Entity ABC"})
	s.AddTxn("A-1", Txn{Amount: 400, Type: "OUTBOUND", At: now.Add(-5 * time.Hour), Counterparty: "Corner Store"})
	s.AddTxn("A-1", Txn{Amount: 7000, Type: "OUTBOUND", At: now.Add(-80 * 24 * time.Hour), Counterparty: "Entity ABC"})
	s.AddTxn("A-1", Txn{Amount: 9500, Type: "INBOUND", At: now.Add(-48 * time.Hour), Branch: "Branch-A", Region: "New York, NY"})
	s.AddTxn("A-1", Txn{Amount: 9800, Type: "INBOUND", At: now.Add(-24 * time.Hour), Branch: "Branch-B", Region: "Chicago, IL"})
	s.AddTxn("A-2", Txn{Amount: 9700, Type: "INBOUND", At: now.Add(-12 * time.Hour), Branch: "Branch-C", Region: "Los Angeles, CA"})
	s.AddTxn("A-3", Txn{Amount: 14500, Type: "OUTBOUND", At: now.Add(-2 * time.Hour), International: true})

	return s
}

func TestOutboundSummary(t *testing.T) {
	t.Parallel()

	s := seeded()
	sum, err := s.OutboundSummary(context.Background(), "A-1", 48*time.Hour, 5000)
	if err != nil {
		t.Fatalf("OutboundSummary: %v", err)
	}
	if sum.Count != 2 {
		t.Errorf("Count = %d, want 2", sum.Count)
	}
	if sum.Total != 11500 {
		t.Errorf("Total = %v, want 11500", sum.Total)
	}
	if sum.MaxAmount != 6000 {
		t.Errorf("MaxAmount = %v, want 6000", sum.MaxAmount)
	}
	if sum.ActiveDays < 1 || sum.ActiveDays > 2 {
		t.Errorf("ActiveDays = %d, want 1 or 2", sum.ActiveDays)
	}
}

func TestBandedDeposits(t *testing.T) {
	t.Parallel()

	s := seeded()
	sum, err := s.BandedDeposits(context.Background(), "A-1", 7*24*time.Hour, 9000, 10000)
	if err != nil {
		t.Fatalf("BandedDeposits: %v", err)
	}
	if sum.Count != 2 || sum.Total != 19300 {
		t.Errorf("Count/Total = %d/%v, want 2/19300", sum.Count, sum.Total)
	}
	if sum.UniqueBranches != 2 || sum.UniqueRegions != 2 {
		t.Errorf("branches/regions = %d/%d, want 2/2", sum.UniqueBranches, sum.UniqueRegions)
	}
}

func TestLinkedDeposits(t *testing.T) {
	t.Parallel()

	s := seeded()
	total, err := s.LinkedDeposits(context.Background(), "C-1", "A-1", 7*24*time.Hour, 9000, 10000)
	if err != nil {
		t.Fatalf("LinkedDeposits: %v", err)
	}
	if total != 9700 {
		t.Errorf("total = %v, want 9700", total)
	}
}

func TestLatestTransaction(t *testing.T) {
	t.Parallel()

	s := seeded()
	txn, err := s.LatestTransaction(context.Background(), "A-1")
	if err != nil {
		t.Fatalf("LatestTransaction: %v", err)
	}
	if txn == nil || txn.Counterparty != "Corner Store" {
		t.Errorf("latest = %+v, want Corner Store", txn)
	}

	none, err := s.LatestTransaction(context.Background(), "A-NONE")
	if err != nil {
		t.Fatalf("LatestTransaction missing: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for unknown account, got %+v", none)
	}
}

func TestCounterpartyHistory(t *testing.T) {
	t.Parallel()

	s := seeded()
	h, err := s.CounterpartyHistory(context.Background(), "A-1", "Entity ABC")
	if err != nil {
		t.Fatalf("CounterpartyHistory: %v", err)
	}
	if h.Count != 3 || h.Total != 18500 {
		t.Errorf("Count/Total = %d/%v, want 3/18500", h.Count, h.Total)
	}
	if !h.First.Before(h.Last) {
		t.Errorf("First %v should precede Last %v", h.First, h.Last)
	}
}

func TestDormantDaysAndRecentActivity(t *testing.T) {
	t.Parallel()

	s := seeded()
	days, err := s.DormantDays(context.Background(), "A-3")
	if err != nil {
		t.Fatalf("DormantDays: %v", err)
	}
	if days != 400 {
		t.Errorf("days = %d, want 400", days)
	}

	snap, err := s.RecentActivity(context.Background(), "A-3", 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if snap.Count != 1 || snap.Total != 14500 || !snap.HasInternational {
		t.Errorf("snapshot = %+v, want 1/14500/international", snap)
	}
}

func TestProfileAndLinkedAccounts(t *testing.T) {
	t.Parallel()

	s := seeded()
	p, err := s.Profile(context.Background(), "C-1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p == nil || p.KYCRisk != "HIGH" {
		t.Errorf("profile = %+v, want KYCRisk HIGH", p)
	}

	none, err := s.Profile(context.Background(), "C-NONE")
	if err != nil {
		t.Fatalf("Profile missing: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil profile, got %+v", none)
	}

	ids, err := s.LinkedAccounts(context.Background(), "C-1")
	if err != nil {
		t.Fatalf("LinkedAccounts: %v", err)
	}
	if len(ids) != 1 || ids[0] != "A-2" {
		t.Errorf("ids = %v, want [A-2]", ids)
	}
}
