package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"social-outreach/internal/models"
	"social-outreach/internal/plan"
	"social-outreach/internal/progress"
	"social-outreach/internal/session"
)

var (
	ErrAlreadyRunning = errors.New("campaign is already running")
	ErrNotRunning     = errors.New("campaign is not running")
)

// Manager is the campaign control plane: it owns the registry of active
// runners, enforces one runner per campaign, and hands out the cooperative
// stop signal. Start and Stop return immediately; terminal campaign status is
// always written by the runner itself.
type Manager struct {
	ledger    Ledger
	publisher progress.Publisher
	dialer    session.Dialer

	// baseCtx parents every runner so process shutdown stops them all.
	baseCtx context.Context

	mu     sync.Mutex
	active map[int64]context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(baseCtx context.Context, ledger Ledger, publisher progress.Publisher, dialer session.Dialer) *Manager {
	return &Manager{
		ledger:    ledger,
		publisher: publisher,
		dialer:    dialer,
		baseCtx:   baseCtx,
		active:    make(map[int64]context.CancelFunc),
	}
}

// Start validates the campaign and spawns its runner. Rejections leave all
// state untouched. A non-nil return is definitive; success means the campaign
// is running.
func (m *Manager) Start(ctx context.Context, campaignID int64) error {
	campaign, err := m.ledger.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignRunning {
		return ErrAlreadyRunning
	}

	accounts, err := m.ledger.CampaignAccounts(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign accounts: %w", err)
	}
	if len(accounts) == 0 {
		return plan.ErrNoAccounts
	}
	pending, err := m.ledger.CountPendingLeads(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("count pending leads: %w", err)
	}
	if pending == 0 {
		return plan.ErrNoLeads
	}

	m.mu.Lock()
	if _, ok := m.active[campaignID]; ok {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	if err := m.ledger.SetCampaignStatus(ctx, campaignID, models.CampaignRunning); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("set campaign running: %w", err)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.active[campaignID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	r := New(campaignID, m.ledger, m.publisher, m.dialer)
	go func() {
		defer m.wg.Done()
		defer m.finish(campaignID, cancel)
		r.Run(runCtx)
	}()

	return nil
}

// Stop signals the campaign's runner to wind down at its next checkpoint and
// returns immediately. The running -> stopped transition happens later, when
// the runner observes the signal.
func (m *Manager) Stop(campaignID int64) error {
	m.mu.Lock()
	cancel, ok := m.active[campaignID]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// Running reports whether a runner is active for the campaign.
func (m *Manager) Running(campaignID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[campaignID]
	return ok
}

// Shutdown stops every active runner and waits for them to finalize.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// finish removes the registry entry once a runner returns, on every exit path.
func (m *Manager) finish(campaignID int64, cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	delete(m.active, campaignID)
	m.mu.Unlock()
}
