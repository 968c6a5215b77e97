package resilience

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MalfunctionType classifies an exhausted failure by its likely cause.
type MalfunctionType string

const (
	MalfunctionTimeout  MalfunctionType = "TIMEOUT"
	MalfunctionDatabase MalfunctionType = "DATABASE_CONNECTION"
	MalfunctionEmail    MalfunctionType = "EMAIL_SERVICE_FAILURE"
	MalfunctionUnknown  MalfunctionType = "UNKNOWN"
)

// Severity grades a malfunction. Store-layer failures are always CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Malfunction records one classified failure after retries were exhausted.
type Malfunction struct {
	ID          string          `json:"event_id"`
	Component   string          `json:"component"`
	AlertID     string          `json:"alert_id,omitempty"`
	Type        MalfunctionType `json:"malfunction_type"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
	Remediation []string        `json:"recommended_actions"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Resolved    bool            `json:"resolved"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	Resolution  string          `json:"resolution,omitempty"`
}

// Classify builds a malfunction record from a failed call. Failures of a
// store component classify as DATABASE_CONNECTION before anything else so
// the always-CRITICAL rule holds even when the store merely timed out.
func Classify(component, alertID string, err error) *Malfunction {
	m := &Malfunction{
		ID:         ulid.Make().String(),
		Component:  component,
		AlertID:    alertID,
		Severity:   SeverityHigh,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(component, "store") ||
		containsAny(msg, "database", "postgres", "pgx", "connection pool"):
		m.Type = MalfunctionDatabase
		m.Severity = SeverityCritical
	case errors.Is(err, context.DeadlineExceeded) ||
		containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		m.Type = MalfunctionTimeout
	case containsAny(msg, "smtp", "email", "mail"):
		m.Type = MalfunctionEmail
	default:
		m.Type = MalfunctionUnknown
	}
	m.Remediation = remediation(m.Type)
	return m
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func remediation(t MalfunctionType) []string {
	switch t {
	case MalfunctionDatabase:
		return []string{
			"Check Postgres connection status",
			"Verify network connectivity",
			"Check database credentials",
			"Review connection pool settings",
			"Check for database maintenance",
		}
	case MalfunctionEmail:
		return []string{
			"Check SMTP server status",
			"Verify email credentials",
			"Check rate limits",
			"Review email content",
		}
	case MalfunctionTimeout:
		return []string{
			"Check system load",
			"Review query performance",
			"Increase timeout settings",
			"Optimize slow operations",
		}
	default:
		return []string{
			"Review error logs",
			"Check system health",
			"Verify configuration",
			"Contact support team",
		}
	}
}
