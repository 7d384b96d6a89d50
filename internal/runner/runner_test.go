package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"social-outreach/internal/models"
	"social-outreach/internal/progress"
	"social-outreach/internal/session"
	"social-outreach/internal/store"
	"social-outreach/internal/telemetry"
)

// fakeLedger is an in-memory Ledger mirroring the store's semantics. With
// strictCtx set, writes refuse a done context the way pgx does.
type fakeLedger struct {
	mu        sync.Mutex
	strictCtx bool
	campaign  models.Campaign
	accounts  map[int64]models.Account
	cas       []models.CampaignAccount
	leads     []models.Lead
	statusLog []string
}

func newFakeLedger(campaign models.Campaign) *fakeLedger {
	return &fakeLedger{campaign: campaign, accounts: make(map[int64]models.Account)}
}

func (f *fakeLedger) addAccount(a models.Account, leadURLs ...string) {
	f.accounts[a.ID] = a
	f.cas = append(f.cas, models.CampaignAccount{
		ID:         int64(len(f.cas) + 1),
		CampaignID: f.campaign.ID,
		AccountID:  a.ID,
		LeadsCount: len(leadURLs),
	})
	for _, u := range leadURLs {
		f.leads = append(f.leads, models.Lead{
			ID:         int64(len(f.leads) + 1),
			CampaignID: f.campaign.ID,
			AccountID:  a.ID,
			ProfileURL: u,
			Status:     models.LeadPending,
		})
	}
}

func (f *fakeLedger) GetCampaign(_ context.Context, id int64) (models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.campaign.ID {
		return models.Campaign{}, store.ErrNotFound
	}
	return f.campaign, nil
}

func (f *fakeLedger) GetAccount(_ context.Context, id int64) (models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return models.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeLedger) CampaignAccounts(_ context.Context, campaignID int64) ([]models.CampaignAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.CampaignAccount, len(f.cas))
	copy(out, f.cas)
	return out, nil
}

func (f *fakeLedger) PendingLeads(_ context.Context, campaignID, accountID int64) ([]models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Lead
	for _, l := range f.leads {
		if l.AccountID == accountID && l.Status == models.LeadPending {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLedger) CountPendingLeads(_ context.Context, campaignID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.leads {
		if l.Status == models.LeadPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) MarkLeadOutcome(ctx context.Context, leadID int64, sent bool, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.strictCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	for i := range f.leads {
		if f.leads[i].ID != leadID {
			continue
		}
		if f.leads[i].Status != models.LeadPending {
			return store.ErrLeadSettled
		}
		if sent {
			f.leads[i].Status = models.LeadCompleted
		} else {
			f.leads[i].Status = models.LeadFailed
			f.leads[i].ErrorMessage = &errorMessage
		}
		f.leads[i].MessageSent = sent
		now := time.Now()
		f.leads[i].ProcessedAt = &now
		return nil
	}
	return store.ErrNotFound
}

func (f *fakeLedger) IncrementMessagesSent(ctx context.Context, campaignAccountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.strictCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	for i := range f.cas {
		if f.cas[i].ID == campaignAccountID {
			f.cas[i].MessagesSent++
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeLedger) SetCampaignStatus(_ context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaign.Status = status
	f.statusLog = append(f.statusLog, status)
	return nil
}

func (f *fakeLedger) leadStatuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.leads))
	for i, l := range f.leads {
		out[i] = l.Status
	}
	return out
}

func (f *fakeLedger) sentCount(caID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ca := range f.cas {
		if ca.ID == caID {
			return ca.MessagesSent
		}
	}
	return -1
}

// capturePublisher records events in emission order.
type capturePublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *capturePublisher) Publish(_ context.Context, e progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Message
	}
	return out
}

// fakeSession scripts per-send behavior.
type fakeSession struct {
	loginOK bool
	onSend  func(target string) bool

	mu     sync.Mutex
	sends  []string
	closed int
}

func (s *fakeSession) Login(_ context.Context, _, _ string) bool { return s.loginOK }

func (s *fakeSession) Send(_ context.Context, target, _ string) bool {
	s.mu.Lock()
	s.sends = append(s.sends, target)
	s.mu.Unlock()
	if s.onSend != nil {
		return s.onSend(target)
	}
	return true
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

// fakeDialer hands out sessions keyed by login; a missing key fails the open.
type fakeDialer struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	opened   []string
}

func (d *fakeDialer) Open(_ context.Context, creds session.Credentials, _ *session.Proxy) (session.Session, error) {
	d.mu.Lock()
	d.opened = append(d.opened, creds.Login)
	d.mu.Unlock()
	s, ok := d.sessions[creds.Login]
	if !ok {
		return nil, errors.New("browser failed to start")
	}
	return s, nil
}

func testCampaign() models.Campaign {
	return models.Campaign{
		ID:              1,
		Name:            "spring outreach",
		MessageTemplate: "hello there",
		MinDelay:        0,
		MaxDelay:        0,
		Status:          models.CampaignRunning,
	}
}

func newTestRunner(ledger Ledger, pub progress.Publisher, dialer session.Dialer) *Runner {
	r := New(1, ledger, pub, dialer)
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

func TestRunCompletesAllLeads(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1", "p2", "p3")
	ledger.addAccount(models.Account{ID: 11, Login: "bob", IsActive: true}, "p4", "p5")

	aliceSess := &fakeSession{loginOK: true}
	bobSess := &fakeSession{loginOK: true}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"alice": aliceSess, "bob": bobSess}}
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(context.Background())

	for i, st := range ledger.leadStatuses() {
		if st != models.LeadCompleted {
			t.Fatalf("lead %d status = %s, want completed", i, st)
		}
	}
	if got := ledger.sentCount(1); got != 3 {
		t.Fatalf("alice messages_sent = %d, want 3", got)
	}
	if got := ledger.sentCount(2); got != 2 {
		t.Fatalf("bob messages_sent = %d, want 2", got)
	}
	if ledger.campaign.Status != models.CampaignCompleted {
		t.Fatalf("campaign status = %s, want completed", ledger.campaign.Status)
	}
	if aliceSess.closed == 0 || bobSess.closed == 0 {
		t.Fatal("sessions were not closed")
	}

	// Accounts run strictly in creation order.
	if dialer.opened[0] != "alice" || dialer.opened[1] != "bob" {
		t.Fatalf("accounts opened out of order: %v", dialer.opened)
	}
}

func TestSendFailureIsIsolatedPerLead(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1", "p2", "p3")

	sess := &fakeSession{loginOK: true, onSend: func(target string) bool { return target != "p2" }}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"alice": sess}}
	pub := &capturePublisher{}

	var slept int
	r := New(1, ledger, pub, dialer)
	r.sleep = func(context.Context, time.Duration) { slept++ }
	r.Run(context.Background())

	want := []string{models.LeadCompleted, models.LeadFailed, models.LeadCompleted}
	for i, st := range ledger.leadStatuses() {
		if st != want[i] {
			t.Fatalf("lead %d status = %s, want %s", i, st, want[i])
		}
	}
	if ledger.leads[1].ErrorMessage == nil || *ledger.leads[1].ErrorMessage == "" {
		t.Fatal("failed lead has no error message")
	}
	if got := ledger.sentCount(1); got != 2 {
		t.Fatalf("messages_sent = %d, want 2", got)
	}
	// Pacing applies after successful sends only.
	if slept != 2 {
		t.Fatalf("slept %d times, want 2", slept)
	}
	if ledger.campaign.Status != models.CampaignCompleted {
		t.Fatalf("campaign status = %s, want completed", ledger.campaign.Status)
	}
}

func TestLoginFailureLeavesLeadsPending(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1", "p2")
	ledger.addAccount(models.Account{ID: 11, Login: "bob", IsActive: true}, "p3", "p4")

	aliceSess := &fakeSession{loginOK: false}
	bobSess := &fakeSession{loginOK: true}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"alice": aliceSess, "bob": bobSess}}
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(context.Background())

	want := []string{models.LeadPending, models.LeadPending, models.LeadCompleted, models.LeadCompleted}
	for i, st := range ledger.leadStatuses() {
		if st != want[i] {
			t.Fatalf("lead %d status = %s, want %s", i, st, want[i])
		}
	}
	// Login failure is per-account; the campaign still completes.
	if ledger.campaign.Status != models.CampaignCompleted {
		t.Fatalf("campaign status = %s, want completed", ledger.campaign.Status)
	}
	if aliceSess.closed == 0 {
		t.Fatal("failed session was not closed")
	}

	found := false
	for _, m := range pub.messages() {
		if m == "Failed to login" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no login failure event in %v", pub.messages())
	}
}

func TestSessionOpenFailureSkipsAccount(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1")
	ledger.addAccount(models.Account{ID: 11, Login: "bob", IsActive: true}, "p2")

	bobSess := &fakeSession{loginOK: true}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"bob": bobSess}} // alice's open fails
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(context.Background())

	statuses := ledger.leadStatuses()
	if statuses[0] != models.LeadPending {
		t.Fatalf("alice's lead = %s, want pending", statuses[0])
	}
	if statuses[1] != models.LeadCompleted {
		t.Fatalf("bob's lead = %s, want completed", statuses[1])
	}
	if ledger.campaign.Status != models.CampaignCompleted {
		t.Fatalf("campaign status = %s, want completed", ledger.campaign.Status)
	}
}

func TestStopMidAccountLeavesRemainderPending(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1", "p2", "p3", "p4", "p5")

	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{loginOK: true}
	sess.onSend = func(target string) bool {
		if target == "p2" {
			cancel() // stop request lands while lead 2 is in flight
		}
		return true
	}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"alice": sess}}
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(ctx)

	// The in-flight send completes; the flag is observed at the next lead
	// boundary, so leads 3-5 stay pending.
	want := []string{models.LeadCompleted, models.LeadCompleted, models.LeadPending, models.LeadPending, models.LeadPending}
	for i, st := range ledger.leadStatuses() {
		if st != want[i] {
			t.Fatalf("lead %d status = %s, want %s", i, st, want[i])
		}
	}
	if ledger.campaign.Status != models.CampaignStopped {
		t.Fatalf("campaign status = %s, want stopped", ledger.campaign.Status)
	}

	found := false
	for _, m := range pub.messages() {
		if m == "Campaign stopped by user." {
			found = true
		}
	}
	if !found {
		t.Fatalf("no stop event in %v", pub.messages())
	}
	if len(sess.sends) != 2 {
		t.Fatalf("sent %d messages after stop, want 2", len(sess.sends))
	}
}

func TestStopMidSendStillRecordsDelivery(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.strictCtx = true
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1", "p2", "p3")

	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{loginOK: true}
	sess.onSend = func(target string) bool {
		if target == "p2" {
			cancel() // stop lands while the send is in flight; it still delivers
		}
		return true
	}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"alice": sess}}
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(ctx)

	// The delivered message must be in the ledger even though the run
	// context was already done when the outcome was written.
	want := []string{models.LeadCompleted, models.LeadCompleted, models.LeadPending}
	for i, st := range ledger.leadStatuses() {
		if st != want[i] {
			t.Fatalf("lead %d status = %s, want %s", i, st, want[i])
		}
	}
	if got := ledger.sentCount(1); got != 2 {
		t.Fatalf("messages_sent = %d, want 2", got)
	}
	if ledger.campaign.Status != models.CampaignStopped {
		t.Fatalf("campaign status = %s, want stopped", ledger.campaign.Status)
	}
}

func TestInactiveAccountIsSkipped(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: false}, "p1")
	ledger.addAccount(models.Account{ID: 11, Login: "bob", IsActive: true}, "p2")

	bobSess := &fakeSession{loginOK: true}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"bob": bobSess}}
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(context.Background())

	if got := dialer.opened; len(got) != 1 || got[0] != "bob" {
		t.Fatalf("opened sessions = %v, want only bob", got)
	}
	if ledger.leadStatuses()[0] != models.LeadPending {
		t.Fatal("inactive account's lead should stay pending")
	}
}

func TestSettledLeadIsNeverRewritten(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1", "p2")
	// p1 was already settled by an earlier run.
	ledger.leads[0].Status = models.LeadFailed

	sess := &fakeSession{loginOK: true}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"alice": sess}}
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(context.Background())

	statuses := ledger.leadStatuses()
	if statuses[0] != models.LeadFailed {
		t.Fatalf("settled lead was rewritten to %s", statuses[0])
	}
	if statuses[1] != models.LeadCompleted {
		t.Fatalf("pending lead = %s, want completed", statuses[1])
	}
	// Only the still-pending lead was sent to.
	if len(sess.sends) != 1 || sess.sends[0] != "p2" {
		t.Fatalf("sends = %v, want [p2]", sess.sends)
	}
}

func TestNoPendingLeadsLeavesStatusUntouched(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true})

	dialer := &fakeDialer{sessions: map[string]*fakeSession{}}
	pub := &capturePublisher{}

	newTestRunner(ledger, pub, dialer).Run(context.Background())

	// A validation miss emits an error event and finalizes nothing.
	if len(ledger.statusLog) != 0 {
		t.Fatalf("status writes on validation miss: %v", ledger.statusLog)
	}
	if ledger.campaign.Status != models.CampaignRunning {
		t.Fatalf("campaign status = %s, want running (untouched)", ledger.campaign.Status)
	}
	found := false
	for _, m := range pub.messages() {
		if m == "No pending leads found for campaign" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing validation event in %v", pub.messages())
	}
}

func TestPendingLeadsGaugeClearedAfterRun(t *testing.T) {
	ledger := newFakeLedger(testCampaign())
	ledger.addAccount(models.Account{ID: 10, Login: "alice", IsActive: true}, "p1", "p2")

	dialer := &fakeDialer{sessions: map[string]*fakeSession{"alice": {loginOK: true}}}
	newTestRunner(ledger, &capturePublisher{}, dialer).Run(context.Background())

	if n := testutil.CollectAndCount(telemetry.LeadsPending); n != 0 {
		t.Fatalf("%d stale pending-leads series after run, want 0", n)
	}
}
