// Package slack sends escalation and malfunction notices to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

const (
	maxRationaleLen = 3000
	httpTimeout     = 10 * time.Second
)

// Notifier posts investigation notices to a Slack webhook. It implements
// investigation.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	log        log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every
// notification is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		log:        logger.With("component", "slack"),
	}
}

// NotifyEscalation posts a notice for an escalated or blocked alert.
// Failures are logged, never propagated; a missed notice must not fail
// the investigation.
func (n *Notifier) NotifyEscalation(ctx context.Context, a *alert.Alert, d *alert.Decision) {
	if n.webhookURL == "" || a == nil || d == nil {
		return
	}
	if err := n.post(ctx, escalationMessage(a, d)); err != nil {
		n.log.Error(ctx, err, "escalation notice failed", "alert_id", a.ID)
	}
}

// NotifyMalfunction posts CRITICAL malfunctions. Lower severities stay in
// the malfunction log.
func (n *Notifier) NotifyMalfunction(ctx context.Context, m *resilience.Malfunction) {
	if n.webhookURL == "" || m == nil || m.Severity != resilience.SeverityCritical {
		return
	}
	if err := n.post(ctx, malfunctionMessage(m)); err != nil {
		n.log.Error(ctx, err, "malfunction notice failed", "malfunction_id", m.ID)
	}
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func escalationMessage(a *alert.Alert, d *alert.Decision) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			escalationHeader(a, d),
			{"type": "divider"},
			escalationFields(a, d),
			{"type": "divider"},
			rationaleBlock(d.Rationale),
			{"type": "divider"},
			contextBlock("alert "+a.ID, time.Now().UTC()),
		},
	}
}

func escalationHeader(a *alert.Alert, d *alert.Decision) map[string]any {
	title := "Case Escalated"
	if d.Recommendation == alert.RecommendBlock {
		title = "Account Blocked"
	}
	text := fmt.Sprintf("%s %s: %s", severityEmoji(a.Severity), title, a.ID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func escalationFields(a *alert.Alert, d *alert.Decision) map[string]any {
	decidedBy := string(d.Source)
	if d.RuleID != "" {
		decidedBy = fmt.Sprintf("%s (%s)", d.Source, d.RuleID)
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Scenario:* %s", a.Scenario),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Customer:* %s", a.CustomerID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Account:* %s", a.AccountID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Action:* %s", d.Recommendation),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %.0f%%", d.Confidence*100),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Decided by:* %s", decidedBy),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func rationaleBlock(rationale string) map[string]any {
	text := truncate(rationale, maxRationaleLen)
	if text == "" {
		text = "_No rationale recorded._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Rationale*\n\n%s", text),
		},
	}
}

func malfunctionMessage(m *resilience.Malfunction) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			malfunctionHeader(m),
			{"type": "divider"},
			malfunctionFields(m),
			{"type": "divider"},
			malfunctionDetails(m),
			{"type": "divider"},
			contextBlock("malfunction "+m.ID, m.OccurredAt),
		},
	}
}

func malfunctionHeader(m *resilience.Malfunction) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("\U0001f534 System Malfunction: %s", m.Type),
		},
	}
}

func malfunctionFields(m *resilience.Malfunction) map[string]any {
	alertRef := m.AlertID
	if alertRef == "" {
		alertRef = "-"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Component:* %s", m.Component),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", m.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alert:* %s", alertRef),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Type:* %s", m.Type),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func malfunctionDetails(m *resilience.Malfunction) map[string]any {
	text := truncate(m.Message, maxRationaleLen)
	if text == "" {
		text = "_No detail available._"
	}
	if len(m.Remediation) > 0 {
		text += "\n\n*Remediation*\n• " + strings.Join(m.Remediation, "\n• ")
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Details*\n\n%s", text),
		},
	}
}

func contextBlock(ref string, ts time.Time) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("arbiter • %s • %s", ref, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func severityEmoji(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical, alert.SeverityHigh:
		return "\U0001f534" // red circle
	case alert.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
