package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config holds arbiter-specific settings. Shared concerns (HTTP server,
// middleware, logging, ops endpoint, profiling, tracing) register their
// own flag sets next to this one.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL string

	LLMEnabled   bool
	LLMMaxTokens int
	ClaudeAPIKey string
	ClaudeModel  string

	OverrideCompetes bool
	EnrichRationale  bool

	ScreeningEndpoint string
	OSINTEnabled      bool

	SlackWebhookURL string

	SMTPHost           string
	SMTPPort           int
	SMTPUsername       string
	SMTPPassword       string
	MailFrom           string
	MailFromName       string
	MailBlockedDomains string
	MailMaxPerHour     int
	MailMaxPerDay      int

	BreakerFailureThreshold int
	BreakerResetSeconds     int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token for mutating and operator API routes (empty = unauthenticated)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.BoolVar(&c.LLMEnabled, "llm-enabled", false, "consult the LLM advisor during rule evaluation and proof judgment")
	fs.IntVar(&c.LLMMaxTokens, "llm-max-tokens", 0, "max tokens per LLM completion (0 = package default)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.BoolVar(&c.OverrideCompetes, "override-competes", false, "let advisor overrides compete with matched rules on confidence")
	fs.BoolVar(&c.EnrichRationale, "enrich-rationale", true, "rewrite decision rationales through the LLM advisor when enabled")
	fs.StringVar(&c.ScreeningEndpoint, "screening-endpoint", "", "sanctions screening service URL (empty = screening disabled)")
	fs.BoolVar(&c.OSINTEnabled, "osint-enabled", false, "enable the adverse-media search used by KYC investigations")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.SMTPHost, "smtp-host", "", "SMTP relay host for RFI email (empty = console fallback)")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "SMTP relay TCP port (1..65535)")
	fs.StringVar(&c.SMTPUsername, "smtp-username", "", "SMTP auth username")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "SMTP auth password")
	fs.StringVar(&c.MailFrom, "mail-from", "", "sender address on outgoing RFI mail (empty = SMTP username)")
	fs.StringVar(&c.MailFromName, "mail-from-name", "", "display name on outgoing RFI mail")
	fs.StringVar(&c.MailBlockedDomains, "mail-blocked-domains", "", "comma-separated recipient domains RFI mail must never reach")
	fs.IntVar(&c.MailMaxPerHour, "mail-max-per-hour", 0, "RFI mails per recipient per hour (0 = package default)")
	fs.IntVar(&c.MailMaxPerDay, "mail-max-per-day", 0, "RFI mails per recipient per day (0 = package default)")
	fs.IntVar(&c.BreakerFailureThreshold, "breaker-failure-threshold", 0, "consecutive failures before a circuit opens (0 = package default)")
	fs.IntVar(&c.BreakerResetSeconds, "breaker-reset-seconds", 0, "seconds an open circuit waits before probing (0 = package default)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// The advisor cannot run without provider credentials
	if c.LLMEnabled && c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required when LLM_ENABLED is set"))
	}
	if c.LLMEnabled && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when LLM_ENABLED is set"))
	}
	if c.LLMMaxTokens < 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_MAX_TOKENS %d (must not be negative)", c.LLMMaxTokens))
	}

	// SMTP settings are checked only when a relay is configured
	if c.SMTPHost != "" && (c.SMTPPort <= 0 || c.SMTPPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.SMTPPort))
	}
	if c.MailMaxPerHour < 0 {
		errs = append(errs, fmt.Errorf("invalid MAIL_MAX_PER_HOUR %d (must not be negative)", c.MailMaxPerHour))
	}
	if c.MailMaxPerDay < 0 {
		errs = append(errs, fmt.Errorf("invalid MAIL_MAX_PER_DAY %d (must not be negative)", c.MailMaxPerDay))
	}

	if c.BreakerFailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("invalid BREAKER_FAILURE_THRESHOLD %d (must not be negative)", c.BreakerFailureThreshold))
	}
	if c.BreakerResetSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid BREAKER_RESET_SECONDS %d (must not be negative)", c.BreakerResetSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// BlockedDomains parses MailBlockedDomains into a clean slice.
func (c *Config) BlockedDomains() []string {
	if c.MailBlockedDomains == "" {
		return nil
	}
	var out []string
	for _, d := range strings.Split(c.MailBlockedDomains, ",") {
		d = strings.TrimSpace(d)
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
