// Package memstore provides an in-memory implementation of
// investigation.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/investigation"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

const (
	// maxMalfunctions bounds the in-memory malfunction log. The oldest
	// entries are dropped first.
	maxMalfunctions = 1000

	// defaultMalfunctionLimit caps ListMalfunctions when no limit is given.
	defaultMalfunctionLimit = 50
)

// Store holds investigation state in memory, seeded with the same SOP
// rule set the PostgreSQL schema installs. Suitable for dev/testing.
type Store struct {
	mu           sync.RWMutex
	alerts       map[string]*alert.Alert
	resolutions  map[string]*investigation.Resolution
	rules        map[string]policy.Rule
	malfunctions []*resilience.Malfunction
	proofs       map[string][]*investigation.Proof
	now          func() time.Time
}

// New initializes a new in-memory Store with the default SOP rules.
func New() *Store {
	s := &Store{
		alerts:      make(map[string]*alert.Alert),
		resolutions: make(map[string]*investigation.Resolution),
		rules:       make(map[string]policy.Rule),
		proofs:      make(map[string][]*investigation.Proof),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, r := range policy.DefaultRules() {
		s.rules[r.ID] = r
	}
	return s
}

// PutRule inserts or replaces a rule row, for operator edits and tests.
func (s *Store) PutRule(r policy.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
}

// PutAlert stores a copy of the alert.
func (s *Store) PutAlert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// GetAlert retrieves one alert. Returns a copy.
func (s *Store) GetAlert(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(_ context.Context, filter investigation.AlertFilter) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alert.Alert
	for _, a := range s.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Scenario != "" && a.Scenario != filter.Scenario {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SetAlertStatus moves an alert to status and stamps lifecycle
// timestamps: INVESTIGATING records the investigation start and clears
// any stale resolution time, terminal statuses record resolution.
func (s *Store) SetAlertStatus(_ context.Context, id string, status alert.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s not found", id)
	}
	a.Status = status
	now := s.now()
	switch {
	case status == alert.StatusInvestigating:
		a.InvestigatingAt = &now
		a.ResolvedAt = nil
	case status.Terminal():
		a.ResolvedAt = &now
	}
	return nil
}

// PutResolution stores a copy of the alert's recorded decision.
func (s *Store) PutResolution(_ context.Context, r *investigation.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.resolutions[r.AlertID] = &cp
	return nil
}

// GetResolution retrieves the alert's recorded decision. Returns a copy.
func (s *Store) GetResolution(_ context.Context, alertID string) (*investigation.Resolution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resolutions[alertID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// ListActiveRules returns the scenario's active rules in ascending
// priority order.
func (s *Store) ListActiveRules(_ context.Context, scenario alert.ScenarioCode) ([]policy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []policy.Rule
	for _, r := range s.rules {
		if r.Scenario == scenario && r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RecordMalfunction appends a copy to the log, dropping the oldest entry
// once the log is full.
func (s *Store) RecordMalfunction(_ context.Context, m *resilience.Malfunction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.malfunctions = append(s.malfunctions, &cp)
	if len(s.malfunctions) > maxMalfunctions {
		s.malfunctions = s.malfunctions[len(s.malfunctions)-maxMalfunctions:]
	}
	return nil
}

// ListMalfunctions returns recent malfunctions, newest first. A
// non-positive limit returns the default 50.
func (s *Store) ListMalfunctions(_ context.Context, limit int) ([]*resilience.Malfunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultMalfunctionLimit
	}
	out := make([]*resilience.Malfunction, 0, len(s.malfunctions))
	for _, m := range s.malfunctions {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResolveMalfunction marks one malfunction resolved. The bool reports
// whether the ID existed.
func (s *Store) ResolveMalfunction(_ context.Context, id, resolution string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.malfunctions {
		if m.ID != id {
			continue
		}
		now := s.now()
		m.Resolved = true
		m.ResolvedAt = &now
		m.Resolution = resolution
		return true, nil
	}
	return false, nil
}

// MalfunctionStats aggregates the malfunction log.
func (s *Store) MalfunctionStats(_ context.Context) (*investigation.MalfunctionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &investigation.MalfunctionStats{
		Total:       len(s.malfunctions),
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
		ByComponent: make(map[string]int),
	}
	for _, m := range s.malfunctions {
		if !m.Resolved {
			stats.Unresolved++
		}
		stats.ByType[string(m.Type)]++
		stats.BySeverity[string(m.Severity)]++
		stats.ByComponent[m.Component]++
	}
	return stats, nil
}

// PutProof inserts or replaces a proof submission.
func (s *Store) PutProof(_ context.Context, p *investigation.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	list := s.proofs[p.AlertID]
	for i, existing := range list {
		if existing.ID == p.ID {
			list[i] = &cp
			return nil
		}
	}
	s.proofs[p.AlertID] = append(list, &cp)
	return nil
}

// ListProofs returns the alert's proof submissions in submission order.
func (s *Store) ListProofs(_ context.Context, alertID string) ([]*investigation.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*investigation.Proof, 0, len(s.proofs[alertID]))
	for _, p := range s.proofs[alertID] {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DashboardMetrics assembles the aggregate snapshot dashboards poll.
func (s *Store) DashboardMetrics(_ context.Context) (*investigation.DashboardMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := &investigation.DashboardMetrics{
		TotalAlerts:       len(s.alerts),
		AlertsByStatus:    make(map[string]int),
		AlertsByScenario:  make(map[string]int),
		DecisionsByAction: make(map[string]int),
	}
	for _, a := range s.alerts {
		m.AlertsByStatus[string(a.Status)]++
		m.AlertsByScenario[string(a.Scenario)]++
	}
	var confidence float64
	for _, r := range s.resolutions {
		m.DecisionsByAction[string(r.Decision.Recommendation)]++
		confidence += r.Decision.Confidence
	}
	if n := len(s.resolutions); n > 0 {
		m.AverageConfidence = confidence / float64(n)
	}
	for _, mf := range s.malfunctions {
		if !mf.Resolved {
			m.UnresolvedMalfunctions++
		}
	}
	return m, nil
}
