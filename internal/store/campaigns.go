package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"social-outreach/internal/models"
	"social-outreach/internal/plan"
)

const campaignColumns = `id, name, message_template, min_delay, max_delay, status, started_at, stopped_at, created_at, updated_at`

// CreateCampaignParams collects inputs required to create a campaign with its
// planned distribution.
type CreateCampaignParams struct {
	Name            string
	MessageTemplate string
	MinDelay        int
	MaxDelay        int
	Assignments     []plan.Assignment
}

// CreateCampaign inserts the campaign, its campaign_accounts rows with planned
// leads_count, and all leads in assignment order, atomically.
func (s *Store) CreateCampaign(ctx context.Context, p CreateCampaignParams) (models.Campaign, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Campaign{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var c models.Campaign
	c.Name = p.Name
	c.MessageTemplate = p.MessageTemplate
	c.MinDelay = p.MinDelay
	c.MaxDelay = p.MaxDelay
	c.Status = models.CampaignPending

	err = tx.QueryRow(ctx, `
		INSERT INTO campaigns (name, message_template, min_delay, max_delay, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.Name, p.MessageTemplate, p.MinDelay, p.MaxDelay, c.Status).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}

	for _, a := range p.Assignments {
		_, err = tx.Exec(ctx, `
			INSERT INTO campaign_accounts (campaign_id, account_id, leads_count, messages_sent)
			VALUES ($1, $2, $3, 0)
		`, c.ID, a.AccountID, len(a.Leads))
		if err != nil {
			return models.Campaign{}, fmt.Errorf("insert campaign account: %w", err)
		}
		for _, profile := range a.Leads {
			_, err = tx.Exec(ctx, `
				INSERT INTO leads (campaign_id, account_id, profile_url, status)
				VALUES ($1, $2, $3, $4)
			`, c.ID, a.AccountID, profile, models.LeadPending)
			if err != nil {
				return models.Campaign{}, fmt.Errorf("insert lead: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Campaign{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// GetCampaign fetches a campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id int64) (models.Campaign, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// ListCampaigns returns all campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCampaign removes a campaign and, via cascade, its campaign_accounts
// and leads. Running campaigns are refused.
func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM campaigns WHERE id = $1 AND status <> $2
	`, id, models.CampaignRunning)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a running campaign from a missing one.
		if _, err := s.GetCampaign(ctx, id); err == nil {
			return ErrCampaignRunning
		}
		return ErrNotFound
	}
	return nil
}

// SetCampaignStatus transitions a campaign's status, stamping started_at on
// entry to running and stopped_at on entry to a terminal state.
func (s *Store) SetCampaignStatus(ctx context.Context, id int64, status string) error {
	var query string
	switch status {
	case models.CampaignRunning:
		query = `UPDATE campaigns SET status = $2, started_at = NOW(), stopped_at = NULL, updated_at = NOW() WHERE id = $1`
	case models.CampaignCompleted, models.CampaignStopped, models.CampaignFailed:
		query = `UPDATE campaigns SET status = $2, stopped_at = NOW(), updated_at = NOW() WHERE id = $1`
	default:
		query = `UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1`
	}
	tag, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CampaignStats aggregates lead outcomes and sent counters for one campaign.
func (s *Store) CampaignStats(ctx context.Context, id int64) (models.CampaignStats, error) {
	var stats models.CampaignStats
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM leads WHERE campaign_id = $1 GROUP BY status
	`, id)
	if err != nil {
		return stats, fmt.Errorf("query lead stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan lead stats: %w", err)
		}
		switch status {
		case models.LeadPending:
			stats.PendingLeads = count
		case models.LeadCompleted:
			stats.CompletedLeads = count
		case models.LeadFailed:
			stats.FailedLeads = count
		}
		stats.TotalLeads += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(messages_sent), 0) FROM campaign_accounts WHERE campaign_id = $1
	`, id).Scan(&stats.MessagesSent)
	if err != nil {
		return stats, fmt.Errorf("sum messages sent: %w", err)
	}
	return stats, nil
}

// CampaignDistribution reports per-account planning and progress.
func (s *Store) CampaignDistribution(ctx context.Context, id int64) ([]models.AccountDistribution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ca.account_id, a.login, ca.leads_count, ca.messages_sent,
		       (SELECT COUNT(*) FROM leads l
		        WHERE l.campaign_id = ca.campaign_id AND l.account_id = ca.account_id AND l.status <> $2)
		FROM campaign_accounts ca
		JOIN accounts a ON a.id = ca.account_id
		WHERE ca.campaign_id = $1
		ORDER BY ca.id
	`, id, models.LeadPending)
	if err != nil {
		return nil, fmt.Errorf("query distribution: %w", err)
	}
	defer rows.Close()

	var out []models.AccountDistribution
	for rows.Next() {
		var d models.AccountDistribution
		if err := rows.Scan(&d.AccountID, &d.AccountLogin, &d.LeadsCount, &d.MessagesSent, &d.Processed); err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanCampaign(row rowScanner) (models.Campaign, error) {
	var c models.Campaign
	var started, stopped pgtype.Timestamptz

	err := row.Scan(&c.ID, &c.Name, &c.MessageTemplate, &c.MinDelay, &c.MaxDelay, &c.Status,
		&started, &stopped, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Campaign{}, ErrNotFound
	}
	if err != nil {
		return models.Campaign{}, fmt.Errorf("scan campaign: %w", err)
	}

	c.StartedAt = tsPtr(started)
	c.StoppedAt = tsPtr(stopped)
	return c, nil
}

func tsPtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
