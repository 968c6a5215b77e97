// Package mail delivers customer RFI requests over SMTP with recipient
// validation and per-recipient rate limits.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/arbiter/internal/action"
)

const (
	// DefaultMaxPerHour and DefaultMaxPerDay cap RFI deliveries to one
	// recipient. Repeated sends beyond these are operator error, not a
	// legitimate investigation.
	DefaultMaxPerHour = 5
	DefaultMaxPerDay  = 10

	maxAttempts       = 3
	defaultRetryDelay = 1 * time.Second
	sendTimeout       = 15 * time.Second
)

// Config holds SMTP connection settings and delivery guardrails.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender address; falls back to Username
	FromName string // display name on outgoing mail

	MaxPerHour     int
	MaxPerDay      int
	BlockedDomains []string
}

// Sender sends RFI emails. It implements action.Mailer.
type Sender struct {
	cfg        Config
	blocked    map[string]struct{}
	limit      *limiter
	retryDelay time.Duration
	now        func() time.Time
}

// New creates a Sender. Callers should only construct one when an SMTP
// host is configured; without a mailer the dispatcher falls back to the
// console.
func New(cfg Config) *Sender {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.FromName == "" {
		cfg.FromName = "Compliance Team"
	}
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = DefaultMaxPerHour
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = DefaultMaxPerDay
	}

	blocked := make(map[string]struct{}, len(cfg.BlockedDomains))
	for _, d := range cfg.BlockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blocked[d] = struct{}{}
		}
	}

	now := time.Now
	return &Sender{
		cfg:        cfg,
		blocked:    blocked,
		limit:      newLimiter(cfg.MaxPerHour, cfg.MaxPerDay, now),
		retryDelay: defaultRetryDelay,
		now:        now,
	}
}

// SendRFI validates the recipient, checks rate limits, and delivers the
// request letter, retrying transient SMTP failures with backoff.
func (s *Sender) SendRFI(ctx context.Context, rfi action.RFI) error {
	if err := s.validate(rfi.To); err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	if err := s.limit.allow(rfi.To); err != nil {
		return fmt.Errorf("mail: %w", err)
	}

	msg := s.message(rfi)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, s.retryDelay<<(attempt-1)); err != nil {
				return fmt.Errorf("mail: %w", err)
			}
		}
		if lastErr = s.deliver(ctx, rfi.To, msg); lastErr == nil {
			s.limit.record(rfi.To)
			return nil
		}
	}
	return fmt.Errorf("mail: send after %d attempts: %w", maxAttempts, lastErr)
}

var addressRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func (s *Sender) validate(to string) error {
	if !addressRe.MatchString(to) {
		return fmt.Errorf("invalid recipient address %q", to)
	}
	domain := strings.ToLower(to[strings.LastIndex(to, "@")+1:])
	if _, ok := s.blocked[domain]; ok {
		return fmt.Errorf("recipient domain %s is blocked", domain)
	}
	return nil
}

// message renders the RFI letter. The letter stays generic: decision
// rationale is internal and never leaves the bank.
func (s *Sender) message(rfi action.RFI) []byte {
	now := s.now().UTC()

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", s.cfg.FromName, s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", rfi.To)
	b.WriteString("Subject: Request for Transaction Information\r\n")
	fmt.Fprintf(&b, "X-Alert-ID: %s\r\n", rfi.AlertID)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Dear %s,\r\n\r\n", rfi.Name)
	b.WriteString("We are reaching out to request clarification regarding recent transactions on your account.\r\n\r\n")
	fmt.Fprintf(&b, "Alert ID: %s\r\n", rfi.AlertID)
	fmt.Fprintf(&b, "Date: %s\r\n\r\n", now.Format("2006-01-02"))
	b.WriteString("Please provide the following information:\r\n")
	b.WriteString("1. Source of funds for the recent transactions\r\n")
	b.WriteString("2. Purpose of these transactions\r\n")
	b.WriteString("3. Any additional context that may be relevant\r\n\r\n")
	b.WriteString("Please respond at your earliest convenience. If you have any questions, please contact our compliance team.\r\n\r\n")
	b.WriteString("Regards,\r\n")
	fmt.Fprintf(&b, "%s\r\n", s.cfg.FromName)
	b.WriteString("Compliance Department\r\n")

	return []byte(b.String())
}

// deliver speaks one SMTP transaction. STARTTLS is used when the server
// advertises it; credentials are only presented when both are configured.
func (s *Sender) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	deadline := s.now().Add(sendTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// limiter tracks send timestamps per recipient. Entries older than 24h
// are pruned on every check.
type limiter struct {
	mu      sync.Mutex
	sends   map[string][]time.Time
	perHour int
	perDay  int
	now     func() time.Time
}

func newLimiter(perHour, perDay int, now func() time.Time) *limiter {
	return &limiter{
		sends:   make(map[string][]time.Time),
		perHour: perHour,
		perDay:  perDay,
		now:     now,
	}
}

func (l *limiter) allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.sends[key][:0]
	for _, ts := range l.sends[key] {
		if now.Sub(ts) < 24*time.Hour {
			kept = append(kept, ts)
		}
	}
	l.sends[key] = kept

	var lastHour int
	for _, ts := range kept {
		if now.Sub(ts) < time.Hour {
			lastHour++
		}
	}
	if lastHour >= l.perHour {
		return fmt.Errorf("hourly rate limit exceeded (%d emails/hour)", l.perHour)
	}
	if len(kept) >= l.perDay {
		return fmt.Errorf("daily rate limit exceeded (%d emails/day)", l.perDay)
	}
	return nil
}

func (l *limiter) record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends[key] = append(l.sends[key], l.now())
}
