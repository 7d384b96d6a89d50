// Package runner drives campaigns: it walks a campaign's accounts in order,
// opens a browser session per account, drains that account's pending leads
// through it, records every outcome in the ledger, and emits live progress.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	"social-outreach/internal/models"
	"social-outreach/internal/progress"
	"social-outreach/internal/session"
	"social-outreach/internal/store"
	"social-outreach/internal/telemetry"
)

// Ledger is the slice of the store the runner needs. Every write is durable
// before the next lead is touched, so a crashed run resumes cleanly.
type Ledger interface {
	GetCampaign(ctx context.Context, id int64) (models.Campaign, error)
	GetAccount(ctx context.Context, id int64) (models.Account, error)
	CampaignAccounts(ctx context.Context, campaignID int64) ([]models.CampaignAccount, error)
	PendingLeads(ctx context.Context, campaignID, accountID int64) ([]models.Lead, error)
	CountPendingLeads(ctx context.Context, campaignID int64) (int, error)
	MarkLeadOutcome(ctx context.Context, leadID int64, sent bool, errorMessage string) error
	IncrementMessagesSent(ctx context.Context, campaignAccountID int64) error
	SetCampaignStatus(ctx context.Context, id int64, status string) error
}

// errNotRunnable marks a pre-flight validation miss: the campaign row,
// accounts, or pending leads the run needs are not there. The run ends with
// an error event only; campaign status is left untouched.
var errNotRunnable = errors.New("campaign not runnable")

// Runner executes one campaign to completion or cancellation.
type Runner struct {
	campaignID int64
	metricID   string
	ledger     Ledger
	publisher  progress.Publisher
	dialer     session.Dialer

	// sleep is swappable in tests; the default waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration)
}

func New(campaignID int64, ledger Ledger, publisher progress.Publisher, dialer session.Dialer) *Runner {
	return &Runner{
		campaignID: campaignID,
		metricID:   strconv.FormatInt(campaignID, 10),
		ledger:     ledger,
		publisher:  publisher,
		dialer:     dialer,
		sleep:      ctxSleep,
	}
}

// Run drives the campaign and finalizes its status. Cancellation of ctx is
// the cooperative stop signal: it is observed at every account and lead
// boundary, never mid-send.
func (r *Runner) Run(ctx context.Context) {
	telemetry.CampaignsRunning.Inc()
	defer telemetry.CampaignsRunning.Dec()

	err := r.run(ctx)

	if errors.Is(err, errNotRunnable) {
		// The error event is already out; there is no state to finalize.
		return
	}

	final := models.CampaignCompleted
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		final = models.CampaignFailed
		r.emit(nil, fmt.Sprintf("Error: %v", err), progress.SeverityError)
	case ctx.Err() != nil:
		final = models.CampaignStopped
	}

	// Finalize with a fresh context: the run context may already be cancelled.
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.ledger.SetCampaignStatus(finalCtx, r.campaignID, final); err != nil {
		log.Printf("campaign %d: finalize status %s: %v", r.campaignID, final, err)
	}

	telemetry.LeadsPending.DeleteLabelValues(r.metricID)

	severity := progress.SeveritySuccess
	if final != models.CampaignCompleted {
		severity = progress.SeverityWarning
	}
	r.emit(nil, "Campaign "+final, severity)
}

// run returns nil when all accounts were drained, context.Canceled when the
// stop signal was observed, errNotRunnable on a validation miss, and any
// other error on a fatal fault.
func (r *Runner) run(ctx context.Context) error {
	campaign, err := r.ledger.GetCampaign(ctx, r.campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.emit(nil, "Campaign not found", progress.SeverityError)
			return errNotRunnable
		}
		return fmt.Errorf("load campaign: %w", err)
	}

	accounts, err := r.ledger.CampaignAccounts(ctx, r.campaignID)
	if err != nil {
		return fmt.Errorf("load campaign accounts: %w", err)
	}
	if len(accounts) == 0 {
		r.emit(nil, "No accounts found for campaign", progress.SeverityError)
		return fmt.Errorf("no accounts assigned: %w", errNotRunnable)
	}

	pending, err := r.ledger.CountPendingLeads(ctx, r.campaignID)
	if err != nil {
		return fmt.Errorf("count pending leads: %w", err)
	}
	if pending == 0 {
		r.emit(nil, "No pending leads found for campaign", progress.SeverityError)
		return fmt.Errorf("no pending leads: %w", errNotRunnable)
	}
	telemetry.LeadsPending.WithLabelValues(r.metricID).Set(float64(pending))

	r.emit(nil, "Campaign started", progress.SeverityInfo)

	for _, ca := range accounts {
		if ctx.Err() != nil {
			return context.Canceled
		}
		if err := r.runAccount(ctx, campaign, ca); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return context.Canceled
	}
	return nil
}

// runAccount drains one account's assigned leads through a fresh session.
// Session and login failures are per-account: they are surfaced and skipped,
// leaving the account's leads pending for a later run. The returned error is
// either context.Canceled or a fatal ledger fault.
func (r *Runner) runAccount(ctx context.Context, campaign models.Campaign, ca models.CampaignAccount) error {
	account, err := r.ledger.GetAccount(ctx, ca.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", ca.AccountID, err)
	}
	if !account.IsActive {
		r.emit(&account.ID, fmt.Sprintf("Skipping inactive account %s", account.Login), progress.SeverityWarning)
		return nil
	}

	leads, err := r.ledger.PendingLeads(ctx, r.campaignID, ca.AccountID)
	if err != nil {
		return fmt.Errorf("load pending leads: %w", err)
	}
	if len(leads) == 0 {
		return nil
	}

	r.emit(&account.ID, fmt.Sprintf("Starting browser for account %s...", account.Login), progress.SeverityInfo)

	sess, err := r.dialer.Open(ctx, session.Credentials{Login: account.Login, Password: account.Password}, proxyFor(account))
	if err != nil {
		telemetry.SessionFailures.Inc()
		r.emit(&account.ID, "Failed to initialize browser", progress.SeverityError)
		return nil
	}
	defer sess.Close()

	if !sess.Login(ctx, account.Login, account.Password) {
		telemetry.LoginFailures.Inc()
		r.emit(&account.ID, "Failed to login", progress.SeverityError)
		return nil
	}

	for _, lead := range leads {
		if ctx.Err() != nil {
			r.emit(&account.ID, "Campaign stopped by user.", progress.SeverityWarning)
			return context.Canceled
		}

		sent := sess.Send(ctx, lead.ProfileURL, campaign.MessageTemplate)

		if err := r.settle(lead.ID, ca.ID, sent); err != nil {
			if errors.Is(err, store.ErrLeadSettled) {
				// Another run already settled this lead; its outcome stands.
				continue
			}
			return err
		}
		telemetry.LeadsPending.WithLabelValues(r.metricID).Dec()

		if sent {
			telemetry.MessagesSent.Inc()
			r.emit(&account.ID, "Message sent to "+lead.ProfileURL, progress.SeveritySuccess)
			r.sleep(ctx, pacingDelay(campaign.MinDelay, campaign.MaxDelay))
		} else {
			telemetry.MessagesFailed.Inc()
			r.emit(&account.ID, "Message failed for "+lead.ProfileURL, progress.SeverityError)
		}
	}

	return nil
}

// settle records one send's outcome in the ledger. It runs on its own context
// because the run context may be cancelled while the send is in flight, and an
// invoked send must always reach the ledger before the flag is observed.
func (r *Runner) settle(leadID, campaignAccountID int64, sent bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sendErr := ""
	if !sent {
		sendErr = "Failed to send message"
	}
	if err := r.ledger.MarkLeadOutcome(ctx, leadID, sent, sendErr); err != nil {
		if errors.Is(err, store.ErrLeadSettled) {
			return err
		}
		return fmt.Errorf("mark lead %d: %w", leadID, err)
	}
	if sent {
		if err := r.ledger.IncrementMessagesSent(ctx, campaignAccountID); err != nil {
			return fmt.Errorf("increment sent counter: %w", err)
		}
	}
	return nil
}

func (r *Runner) emit(accountID *int64, message, severity string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.publisher.Publish(ctx, progress.Event{
		CampaignID: r.campaignID,
		AccountID:  accountID,
		Message:    message,
		Severity:   severity,
	})
}

func proxyFor(a models.Account) *session.Proxy {
	if a.ProxyType == nil || a.ProxyHost == nil || a.ProxyPort == nil {
		return nil
	}
	p := &session.Proxy{
		Type: *a.ProxyType,
		Host: *a.ProxyHost,
		Port: *a.ProxyPort,
	}
	if a.ProxyUsername != nil && a.ProxyPassword != nil {
		p.Username = *a.ProxyUsername
		p.Password = *a.ProxyPassword
	}
	return p
}

// pacingDelay draws a uniform duration from [min, max] seconds.
func pacingDelay(minSec, maxSec int) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec) * time.Second
	}
	spread := float64(maxSec - minSec)
	return time.Duration((float64(minSec) + rand.Float64()*spread) * float64(time.Second))
}

func ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
