package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"social-outreach/internal/models"
)

// CampaignAccounts returns a campaign's account joins in creation order. The
// runner processes accounts in exactly this order.
func (s *Store) CampaignAccounts(ctx context.Context, campaignID int64) ([]models.CampaignAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, account_id, leads_count, messages_sent, created_at
		FROM campaign_accounts
		WHERE campaign_id = $1
		ORDER BY id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query campaign accounts: %w", err)
	}
	defer rows.Close()

	var out []models.CampaignAccount
	for rows.Next() {
		var ca models.CampaignAccount
		if err := rows.Scan(&ca.ID, &ca.CampaignID, &ca.AccountID, &ca.LeadsCount, &ca.MessagesSent, &ca.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign account: %w", err)
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}

// PendingLeads returns the account's unprocessed leads in ledger (id) order.
func (s *Store) PendingLeads(ctx context.Context, campaignID, accountID int64) ([]models.Lead, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, account_id, profile_url, status, message_sent, processed_at, error_message, created_at, updated_at
		FROM leads
		WHERE campaign_id = $1 AND account_id = $2 AND status = $3
		ORDER BY id
	`, campaignID, accountID, models.LeadPending)
	if err != nil {
		return nil, fmt.Errorf("query pending leads: %w", err)
	}
	defer rows.Close()

	var out []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountPendingLeads counts a campaign's unprocessed leads across all accounts.
func (s *Store) CountPendingLeads(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM leads WHERE campaign_id = $1 AND status = $2
	`, campaignID, models.LeadPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending leads: %w", err)
	}
	return n, nil
}

// MarkLeadOutcome settles one lead: pending -> completed when sent, otherwise
// pending -> failed with the captured error. A lead that already left pending
// is left untouched and reported as ErrLeadSettled.
func (s *Store) MarkLeadOutcome(ctx context.Context, leadID int64, sent bool, errorMessage string) error {
	status := models.LeadCompleted
	var errMsg *string
	if !sent {
		status = models.LeadFailed
		errMsg = &errorMessage
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE leads
		SET status = $2, message_sent = $3, processed_at = NOW(), error_message = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, leadID, status, sent, errMsg, models.LeadPending)
	if err != nil {
		return fmt.Errorf("mark lead outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadSettled
	}
	return nil
}

// IncrementMessagesSent bumps the account's monotonic sent counter.
func (s *Store) IncrementMessagesSent(ctx context.Context, campaignAccountID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE campaign_accounts SET messages_sent = messages_sent + 1 WHERE id = $1
	`, campaignAccountID)
	if err != nil {
		return fmt.Errorf("increment messages sent: %w", err)
	}
	return nil
}

func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	var processedAt pgtype.Timestamptz
	var errMsg pgtype.Text

	err := row.Scan(&l.ID, &l.CampaignID, &l.AccountID, &l.ProfileURL, &l.Status,
		&l.MessageSent, &processedAt, &errMsg, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return models.Lead{}, fmt.Errorf("scan lead: %w", err)
	}

	l.ProcessedAt = tsPtr(processedAt)
	l.ErrorMessage = textPtr(errMsg)
	return l, nil
}
