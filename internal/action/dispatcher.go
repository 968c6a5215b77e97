// Package action executes adjudicated recommendations: RFI delivery, IVR
// call initiation, SAR-prep routing, account blocks, and closes.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/evidence"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

// Execution statuses recorded on action results.
const (
	StatusEmailSent       = "EMAIL_SENT"
	StatusExecutedConsole = "EXECUTED_CONSOLE"
	StatusCallInitiated   = "CALL_INITIATED"
	StatusRoutedToQueue   = "ROUTED_TO_QUEUE"
	StatusAccountBlocked  = "ACCOUNT_BLOCKED"
	StatusClosed          = "CLOSED"
)

// ivrScriptID selects the simple-verification script on the IVR platform.
const ivrScriptID = 3

// RFI is one request-for-information delivery.
type RFI struct {
	To        string
	Name      string
	AlertID   string
	Rationale string
}

// Mailer delivers RFI requests to customers. A returned error triggers the
// console fallback.
type Mailer interface {
	SendRFI(ctx context.Context, rfi RFI) error
}

// AlertSource resolves alert IDs to their subject references.
type AlertSource interface {
	GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error)
}

// Profiles resolves customer IDs to contact details.
type Profiles interface {
	Profile(ctx context.Context, customerID string) (*evidence.Profile, error)
}

// Recorder persists malfunction records for degradations that do not fail
// the pipeline.
type Recorder interface {
	RecordMalfunction(ctx context.Context, m *resilience.Malfunction) error
}

// Dispatcher turns decisions into executed actions. Mailer and Recorder
// are optional: without a mailer every RFI lands on the console.
type Dispatcher struct {
	alerts   AlertSource
	profiles Profiles
	mailer   Mailer
	recorder Recorder
	log      log.Logger
}

// NewDispatcher builds a Dispatcher. The alert source and profiles are
// required.
func NewDispatcher(alerts AlertSource, profiles Profiles, mailer Mailer, recorder Recorder, logger log.Logger) *Dispatcher {
	if alerts == nil {
		panic(xerrors.New("action: nil alert source"))
	}
	if profiles == nil {
		panic(xerrors.New("action: nil profiles"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		alerts:   alerts,
		profiles: profiles,
		mailer:   mailer,
		recorder: recorder,
		log:      logger.With("component", "action"),
	}
}

// Execute runs the decided action. Unrecognized recommendations fall back
// to RFI, the safe information-gathering default.
func (d *Dispatcher) Execute(ctx context.Context, alertID string, dec alert.Decision) (*alert.ActionResult, error) {
	switch dec.Recommendation.Normalize() {
	case alert.RecommendIVR:
		return d.ivr(ctx, alertID)
	case alert.RecommendEscalate:
		return d.sarPrep(ctx, alertID, dec)
	case alert.RecommendBlock:
		return d.block(ctx, alertID, dec)
	case alert.RecommendClose:
		return d.closeAlert(ctx, alertID, dec)
	default:
		return d.rfi(ctx, alertID, dec)
	}
}

// contact resolves the customer behind an alert. Lookup failures degrade to
// placeholder contact details; action execution never fails on a missing
// profile.
func (d *Dispatcher) contact(ctx context.Context, alertID string) evidence.Profile {
	fallback := evidence.Profile{Name: "Valued Customer", Email: "unknown@example.com"}

	al, ok, err := d.alerts.GetAlert(ctx, alertID)
	if err != nil || !ok || al.CustomerID == "" {
		d.log.Warn(ctx, "customer lookup failed, using placeholder contact", "alert_id", alertID)
		return fallback
	}
	p, err := d.profiles.Profile(ctx, al.CustomerID)
	if err != nil || p == nil {
		d.log.Warn(ctx, "profile lookup failed, using placeholder contact",
			"alert_id", alertID, "customer_id", al.CustomerID)
		return fallback
	}
	if p.Name == "" {
		p.Name = fallback.Name
	}
	if p.Email == "" {
		p.Email = fallback.Email
	}
	return *p
}

func (d *Dispatcher) rfi(ctx context.Context, alertID string, dec alert.Decision) (*alert.ActionResult, error) {
	c := d.contact(ctx, alertID)

	if d.mailer != nil {
		err := d.mailer.SendRFI(ctx, RFI{
			To:        c.Email,
			Name:      c.Name,
			AlertID:   alertID,
			Rationale: dec.Rationale,
		})
		if err == nil {
			d.log.Info(ctx, "rfi email sent", "alert_id", alertID, "to", c.Email)
			return result("RFI", StatusEmailSent), nil
		}
		d.log.Warn(ctx, "rfi email failed, falling back to console",
			"alert_id", alertID, "error", err.Error())
		// Degraded delivery still completes the investigation; the
		// malfunction log keeps the trail.
		if d.recorder != nil {
			m := resilience.Classify("action", alertID, fmt.Errorf("rfi email: %w", err))
			m.Severity = resilience.SeverityMedium
			if recErr := d.recorder.RecordMalfunction(ctx, m); recErr != nil {
				d.log.Error(ctx, recErr, "record email malfunction", "alert_id", alertID)
			}
		}
	}

	d.log.Info(ctx, "rfi issued on console",
		"alert_id", alertID,
		"customer", c.Name,
		"email", c.Email,
		"request", rfiLetter(c.Name))
	return result("RFI", StatusExecutedConsole), nil
}

func (d *Dispatcher) ivr(ctx context.Context, alertID string) (*alert.ActionResult, error) {
	c := d.contact(ctx, alertID)

	d.log.Info(ctx, "ivr call initiated",
		"alert_id", alertID,
		"customer", c.Name,
		"phone", c.Phone,
		"script_id", ivrScriptID)
	return result("IVR", StatusCallInitiated), nil
}

func (d *Dispatcher) sarPrep(ctx context.Context, alertID string, dec alert.Decision) (*alert.ActionResult, error) {
	c := d.contact(ctx, alertID)

	d.log.Info(ctx, "case routed to sar prep queue",
		"alert_id", alertID,
		"customer_id", c.CustomerID,
		"customer", c.Name,
		"rationale", dec.Rationale,
		"confidence", dec.Confidence)
	return result("SAR_PREP", StatusRoutedToQueue), nil
}

func (d *Dispatcher) block(ctx context.Context, alertID string, dec alert.Decision) (*alert.ActionResult, error) {
	c := d.contact(ctx, alertID)

	d.log.Info(ctx, "account blocked pending review",
		"alert_id", alertID,
		"customer", c.Name,
		"rationale", dec.Rationale)
	return result("BLOCK", StatusAccountBlocked), nil
}

func (d *Dispatcher) closeAlert(ctx context.Context, alertID string, dec alert.Decision) (*alert.ActionResult, error) {
	d.log.Info(ctx, "alert closed as false positive",
		"alert_id", alertID,
		"rationale", dec.Rationale,
		"confidence", dec.Confidence)
	return result("CLOSE", StatusClosed), nil
}

func result(actionType, status string) *alert.ActionResult {
	return &alert.ActionResult{
		ActionType: actionType,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	}
}

func rfiLetter(name string) string {
	return fmt.Sprintf("Dear %s, we are reaching out to request clarification regarding recent "+
		"transactions on your account. Please provide the source of funds and purpose of these "+
		"transactions at your earliest convenience. Regards, Compliance Team", name)
}
