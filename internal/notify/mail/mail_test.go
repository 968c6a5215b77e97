package mail

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/arbiter/internal/action"
)

type smtpMessage struct {
	from string
	rcpt string
	data string
}

// smtpServer is a plaintext fake that records delivered messages. The
// first failFirst connections reject MAIL FROM with a transient 451.
type smtpServer struct {
	addr      string
	failFirst int

	mu       sync.Mutex
	conns    int
	messages []smtpMessage
}

func startSMTP(t *testing.T, failFirst int) *smtpServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	s := &smtpServer{addr: ln.Addr().String(), failFirst: failFirst}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()
	return s
}

func (s *smtpServer) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.conns++
	fail := s.conns <= s.failFirst
	s.mu.Unlock()

	br := bufio.NewReader(conn)
	write := func(line string) { fmt.Fprintf(conn, "%s\r\n", line) }
	write("220 mail.test ESMTP")

	var msg smtpMessage
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250 mail.test")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			if fail {
				write("451 try again later")
				continue
			}
			msg.from = strings.TrimSpace(line)
			write("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			msg.rcpt = strings.TrimSpace(line)
			write("250 OK")
		case cmd == "DATA":
			write("354 end with .")
			var data strings.Builder
			for {
				dl, err := br.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(dl, "\r\n") == "." {
					break
				}
				data.WriteString(dl)
			}
			msg.data = data.String()
			s.mu.Lock()
			s.messages = append(s.messages, msg)
			s.mu.Unlock()
			write("250 queued")
		case cmd == "QUIT":
			write("221 bye")
			return
		default:
			write("250 OK")
		}
	}
}

func (s *smtpServer) delivered() []smtpMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]smtpMessage(nil), s.messages...)
}

func (s *smtpServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func newTestSender(t *testing.T, srv *smtpServer, cfg Config) *Sender {
	t.Helper()

	host, portStr, err := net.SplitHostPort(srv.addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	cfg.Host = host
	cfg.Port = port
	if cfg.From == "" {
		cfg.From = "compliance@bank.test"
	}
	s := New(cfg)
	s.retryDelay = time.Millisecond
	return s
}

func testRFI() action.RFI {
	return action.RFI{
		To:      "pat@example.com",
		Name:    "Pat Ortiz",
		AlertID: "AL-1",
	}
}

func TestSendRFI(t *testing.T) {
	t.Parallel()

	srv := startSMTP(t, 0)
	s := newTestSender(t, srv, Config{})

	if err := s.SendRFI(context.Background(), testRFI()); err != nil {
		t.Fatalf("SendRFI: %v", err)
	}

	msgs := srv.delivered()
	if len(msgs) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if !strings.Contains(m.from, "compliance@bank.test") {
		t.Errorf("MAIL FROM = %q, want configured sender", m.from)
	}
	if !strings.Contains(m.rcpt, "pat@example.com") {
		t.Errorf("RCPT TO = %q, want recipient", m.rcpt)
	}
	for _, want := range []string{
		"Subject: Request for Transaction Information",
		"X-Alert-ID: AL-1",
		"Dear Pat Ortiz,",
		"Source of funds",
	} {
		if !strings.Contains(m.data, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendRFI_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	srv := startSMTP(t, 1)
	s := newTestSender(t, srv, Config{})

	if err := s.SendRFI(context.Background(), testRFI()); err != nil {
		t.Fatalf("SendRFI should succeed on retry: %v", err)
	}
	if got := srv.connections(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
	if len(srv.delivered()) != 1 {
		t.Errorf("delivered %d messages, want 1", len(srv.delivered()))
	}
}

func TestSendRFI_FailsAfterRetries(t *testing.T) {
	t.Parallel()

	srv := startSMTP(t, 100)
	s := newTestSender(t, srv, Config{})

	err := s.SendRFI(context.Background(), testRFI())
	if err == nil {
		t.Fatal("SendRFI should fail when every attempt is rejected")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error = %v, want attempt count", err)
	}
	if got := srv.connections(); got != 3 {
		t.Errorf("connections = %d, want 3", got)
	}
}

func TestSendRFI_InvalidAddress(t *testing.T) {
	t.Parallel()

	s := New(Config{Host: "127.0.0.1", Port: 1, From: "compliance@bank.test"})

	for _, to := range []string{"", "not-an-email", "missing-domain@", "@no-local.test"} {
		rfi := testRFI()
		rfi.To = to
		err := s.SendRFI(context.Background(), rfi)
		if err == nil || !strings.Contains(err.Error(), "invalid recipient address") {
			t.Errorf("SendRFI(%q) = %v, want validation error", to, err)
		}
	}
}

func TestSendRFI_BlockedDomain(t *testing.T) {
	t.Parallel()

	s := New(Config{
		Host:           "127.0.0.1",
		Port:           1,
		From:           "compliance@bank.test",
		BlockedDomains: []string{" Spam.Example "},
	})

	rfi := testRFI()
	rfi.To = "someone@spam.example"
	err := s.SendRFI(context.Background(), rfi)
	if err == nil || !strings.Contains(err.Error(), "is blocked") {
		t.Errorf("SendRFI = %v, want blocked-domain error", err)
	}
}

func TestSendRFI_RateLimited(t *testing.T) {
	t.Parallel()

	srv := startSMTP(t, 0)
	s := newTestSender(t, srv, Config{MaxPerHour: 1})

	if err := s.SendRFI(context.Background(), testRFI()); err != nil {
		t.Fatalf("first SendRFI: %v", err)
	}
	err := s.SendRFI(context.Background(), testRFI())
	if err == nil || !strings.Contains(err.Error(), "hourly rate limit exceeded") {
		t.Errorf("second SendRFI = %v, want rate limit error", err)
	}
	if len(srv.delivered()) != 1 {
		t.Errorf("delivered %d messages, want 1", len(srv.delivered()))
	}
}

func TestLimiterWindows(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(2, 3, func() time.Time { return now })

	if err := l.allow("k"); err != nil {
		t.Fatalf("allow on empty limiter: %v", err)
	}
	l.record("k")
	l.record("k")
	if err := l.allow("k"); err == nil || !strings.Contains(err.Error(), "hourly") {
		t.Errorf("allow = %v, want hourly limit", err)
	}

	// The hourly window clears but both sends still count toward the day.
	now = now.Add(2 * time.Hour)
	if err := l.allow("k"); err != nil {
		t.Fatalf("allow after hourly window: %v", err)
	}
	l.record("k")
	if err := l.allow("k"); err == nil || !strings.Contains(err.Error(), "daily") {
		t.Errorf("allow = %v, want daily limit", err)
	}

	now = now.Add(25 * time.Hour)
	if err := l.allow("k"); err != nil {
		t.Errorf("allow after 24h prune: %v", err)
	}

	if err := l.allow("other"); err != nil {
		t.Errorf("allow for separate recipient: %v", err)
	}
}
