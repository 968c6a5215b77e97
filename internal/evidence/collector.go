package evidence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

const (
	velocityWindow    = 48 * time.Hour
	velocityLookback  = 90 * 24 * time.Hour
	velocityMinAmount = 5000

	structuringWindow = 7 * 24 * time.Hour
	depositBandLow    = 9000
	depositBandHigh   = 10000

	dormancyWindow    = 24 * time.Hour
	businessCycleDays = 10
	longDormantDays   = 365
)

// AlertSource resolves alert IDs to their subject references.
type AlertSource interface {
	GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error)
}

// Collector implements the investigator and context-gatherer stages over
// the transaction ledger. Screening and OSINT collaborators are optional;
// without them the sanctions and adverse-media facts stay at their zero
// values.
type Collector struct {
	alerts    AlertSource
	ledger    Ledger
	screening Screening
	osint     Osint
	log       log.Logger
}

// NewCollector builds a Collector. The alert source and ledger are required.
func NewCollector(alerts AlertSource, ledger Ledger, screening Screening, osint Osint, logger log.Logger) *Collector {
	if alerts == nil {
		panic(xerrors.New("evidence: nil alert source"))
	}
	if ledger == nil {
		panic(xerrors.New("evidence: nil ledger"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Collector{
		alerts:    alerts,
		ledger:    ledger,
		screening: screening,
		osint:     osint,
		log:       logger.With("component", "evidence"),
	}
}

// GatherFindings builds the scenario-scoped findings map for an alert.
func (c *Collector) GatherFindings(ctx context.Context, alertID string, scenario alert.ScenarioCode) (alert.Evidence, error) {
	al, err := c.subject(ctx, alertID)
	if err != nil {
		return nil, err
	}

	switch scenario {
	case alert.ScenarioVelocitySpike:
		return c.velocityFindings(ctx, al)
	case alert.ScenarioStructuring:
		return c.structuringFindings(ctx, al)
	case alert.ScenarioKYCInconsistency:
		return c.kycFindings(ctx, al)
	case alert.ScenarioSanctionsHit:
		return c.sanctionsFindings(ctx, al)
	case alert.ScenarioDormantActivation:
		return c.dormantFindings(ctx, al)
	}
	return nil, resilience.Permanent(fmt.Errorf("unknown scenario code %q", scenario))
}

// GatherContext builds the customer-context snapshot for an alert.
func (c *Collector) GatherContext(ctx context.Context, alertID string) (alert.Evidence, error) {
	al, ok, err := c.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, resilience.Permanent(fmt.Errorf("alert %s not found", alertID))
	}
	if al.CustomerID == "" {
		return nil, resilience.Permanent(fmt.Errorf("alert %s has no customer linked", alertID))
	}

	profile, err := c.ledger.Profile(ctx, al.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if profile == nil {
		return nil, resilience.Permanent(fmt.Errorf("customer %s has no profile", al.CustomerID))
	}

	linked, err := c.ledger.LinkedAccounts(ctx, al.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("linked accounts: %w", err)
	}

	c.log.Info(ctx, "context gathered",
		"alert_id", alertID,
		"customer_id", profile.CustomerID,
		"kyc_risk", profile.KYCRisk)

	return alert.Evidence{
		"customer_id":          profile.CustomerID,
		"customer_name":        profile.Name,
		"kyc_risk":             profile.KYCRisk,
		"occupation":           profile.Occupation,
		"employer":             profile.Employer,
		"declared_income":      profile.DeclaredIncome,
		"profile_age_days":     profile.ProfileAgeDays,
		"linked_accounts":      linked,
		"linked_account_count": len(linked),
	}, nil
}

// subject resolves the alert and requires an account linkage. A missing
// alert or account is a data-integrity failure, not a transient one.
func (c *Collector) subject(ctx context.Context, alertID string) (*alert.Alert, error) {
	al, ok, err := c.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, resilience.Permanent(fmt.Errorf("alert %s not found", alertID))
	}
	if al.AccountID == "" {
		return nil, resilience.Permanent(fmt.Errorf("alert %s has no account linked", alertID))
	}
	return al, nil
}

func (c *Collector) velocityFindings(ctx context.Context, al *alert.Alert) (alert.Evidence, error) {
	current, err := c.ledger.OutboundSummary(ctx, al.AccountID, velocityWindow, velocityMinAmount)
	if err != nil {
		return nil, fmt.Errorf("outbound window: %w", err)
	}
	history, err := c.ledger.OutboundSummary(ctx, al.AccountID, velocityLookback, velocityMinAmount)
	if err != nil {
		return nil, fmt.Errorf("outbound lookback: %w", err)
	}

	// Regular activity spread over the lookback reads as a business cycle;
	// an isolated burst does not.
	businessCycle := history.ActiveDays > businessCycleDays

	c.log.Info(ctx, "velocity findings",
		"account_id", al.AccountID,
		"count_48h", current.Count,
		"count_90d", history.Count,
		"business_cycle", businessCycle)

	return alert.Evidence{
		"account_id":              al.AccountID,
		"transaction_count":       current.Count,
		"total_amount":            current.Total,
		"historical_count_90d":    history.Count,
		"historical_total_90d":    history.Total,
		"historical_max_txn":      history.MaxAmount,
		"is_business_cycle":       businessCycle,
		"has_prior_high_velocity": history.Count > 0,
		"threshold_exceeded":      current.Count >= 5 && current.Total > 25000,
	}, nil
}

func (c *Collector) structuringFindings(ctx context.Context, al *alert.Alert) (alert.Evidence, error) {
	deposits, err := c.ledger.BandedDeposits(ctx, al.AccountID, structuringWindow, depositBandLow, depositBandHigh)
	if err != nil {
		return nil, fmt.Errorf("banded deposits: %w", err)
	}
	linked, err := c.ledger.LinkedDeposits(ctx, al.CustomerID, al.AccountID, structuringWindow, depositBandLow, depositBandHigh)
	if err != nil {
		return nil, fmt.Errorf("linked deposits: %w", err)
	}

	diverse := deposits.UniqueBranches > 1 || deposits.UniqueRegions > 1
	// Deposits spread across branches look like genuine business receipts;
	// repeated sub-threshold deposits at one branch do not.
	legitimate := deposits.Count >= 3 && diverse

	return alert.Evidence{
		"account_id":                  al.AccountID,
		"deposit_count":               deposits.Count,
		"total_deposits":              deposits.Total,
		"linked_accounts_aggregate":   linked,
		"unique_branches":             deposits.UniqueBranches,
		"unique_geographic_locations": deposits.UniqueRegions,
		"is_geographically_diverse":   diverse,
		"threshold_met":               deposits.Count >= 3,
		"is_legitimate_business":      legitimate,
	}, nil
}

func (c *Collector) kycFindings(ctx context.Context, al *alert.Alert) (alert.Evidence, error) {
	txn, err := c.ledger.LatestTransaction(ctx, al.AccountID)
	if err != nil {
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	if txn == nil {
		return nil, resilience.Permanent(fmt.Errorf("account %s has no transactions", al.AccountID))
	}

	findings := alert.Evidence{
		"account_id":         al.AccountID,
		"transaction_mcc":    txn.MCC,
		"transaction_amount": txn.Amount,
		"counterparty":       txn.Counterparty,
		"is_precious_metals": txn.MCC == "PRECIOUS_METALS" || txn.MCC == "JEWELRY",
		"has_adverse_media":  false,
		"osint_risk_level":   "LOW",
	}

	if c.osint != nil && c.osint.IsEnabled() {
		profile, err := c.ledger.Profile(ctx, al.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		var name, occupation, employer string
		if profile != nil {
			name, occupation, employer = profile.Name, profile.Occupation, profile.Employer
		}
		// Adverse media is supporting color; a failed search never fails
		// the stage.
		media, err := c.osint.SearchAdverseMedia(ctx, name, occupation, employer)
		if err != nil {
			c.log.Warn(ctx, "adverse media search failed", "alert_id", al.ID, "error", err.Error())
		} else if media != nil {
			findings["has_adverse_media"] = media.HasAdverseMedia
			findings["osint_risk_level"] = media.RiskLevel
		}
	}
	return findings, nil
}

func (c *Collector) sanctionsFindings(ctx context.Context, al *alert.Alert) (alert.Evidence, error) {
	txn, err := c.ledger.LatestTransaction(ctx, al.AccountID)
	if err != nil {
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	if txn == nil {
		return nil, resilience.Permanent(fmt.Errorf("account %s has no transactions", al.AccountID))
	}

	match := &ScreeningMatch{}
	if c.screening != nil {
		match, err = c.screening.Screen(ctx, txn.Counterparty)
		if err != nil {
			return nil, fmt.Errorf("screening: %w", err)
		}
	}

	history, err := c.ledger.CounterpartyHistory(ctx, al.AccountID, txn.Counterparty)
	if err != nil {
		return nil, fmt.Errorf("counterparty history: %w", err)
	}

	highRisk := match.Jurisdiction == "HIGH_RISK"
	// Fuzzy hits on generic corporate names with no prior history and a
	// benign jurisdiction are overwhelmingly mistaken identity.
	falsePositive := match.MatchScore < 0.90 &&
		hasCommonNameMarker(txn.Counterparty) &&
		!highRisk && history.Count == 0

	findings := alert.Evidence{
		"account_id":                   al.AccountID,
		"counterparty":                 txn.Counterparty,
		"amount":                       txn.Amount,
		"match_score":                  match.MatchScore,
		"is_match":                     match.MatchScore >= 0.80,
		"matched_entity_id":            match.EntityID,
		"matched_entity_name":          match.EntityName,
		"jurisdiction":                 match.Jurisdiction,
		"risk_level":                   match.RiskLevel,
		"is_high_risk_jurisdiction":    highRisk,
		"historical_transaction_count": history.Count,
		"historical_total_amount":      history.Total,
		"is_established_relationship":  history.Count > 1,
		"is_false_positive":            falsePositive,
	}
	if !history.First.IsZero() && !history.Last.IsZero() {
		findings["relationship_duration_days"] = int(history.Last.Sub(history.First).Hours() / 24)
	}
	return findings, nil
}

func (c *Collector) dormantFindings(ctx context.Context, al *alert.Alert) (alert.Evidence, error) {
	dormantDays, err := c.ledger.DormantDays(ctx, al.AccountID)
	if err != nil {
		return nil, fmt.Errorf("dormancy: %w", err)
	}
	recent, err := c.ledger.RecentActivity(ctx, al.AccountID, dormancyWindow)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}

	return alert.Evidence{
		"account_id":                  al.AccountID,
		"dormant_days":                dormantDays,
		"is_long_dormant":             dormantDays >= longDormantDays,
		"recent_transaction_count":    recent.Count,
		"total_amount":                recent.Total,
		"is_international_withdrawal": recent.HasInternational,
	}, nil
}

var commonNameMarkers = []string{"abc", "xyz", "corp", "inc", "llc"}

func hasCommonNameMarker(counterparty string) bool {
	lower := strings.ToLower(counterparty)
	for _, marker := range commonNameMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
