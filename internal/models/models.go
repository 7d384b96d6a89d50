package models

import (
	"time"
)

// Campaign lifecycle states persisted in Postgres.
const (
	CampaignPending   = "pending"
	CampaignRunning   = "running"
	CampaignStopped   = "stopped"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
	// CampaignPaused is a reserved status value. No transition enters it.
	CampaignPaused = "paused"
)

// Lead outcome states.
const (
	LeadPending   = "pending"
	LeadCompleted = "completed"
	LeadFailed    = "failed"
)

// LoginType distinguishes phone and email logins.
const (
	LoginPhone = "phone"
	LoginEmail = "email"
)

// Supported proxy protocols.
const (
	ProxyHTTP   = "http"
	ProxyHTTPS  = "https"
	ProxySOCKS4 = "socks4"
	ProxySOCKS5 = "socks5"
)

// Account is a messaging account owned by the CRUD layer and referenced by campaigns.
type Account struct {
	ID            int64     `json:"id"`
	LoginType     string    `json:"login_type"`
	Login         string    `json:"login"`
	Password      string    `json:"-"`
	ProxyType     *string   `json:"proxy_type,omitempty"`
	ProxyHost     *string   `json:"proxy_host,omitempty"`
	ProxyPort     *int      `json:"proxy_port,omitempty"`
	ProxyUsername *string   `json:"proxy_username,omitempty"`
	ProxyPassword *string   `json:"-"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Campaign is one outreach run: a message template fanned out across accounts.
type Campaign struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	MessageTemplate string     `json:"message_template"`
	MinDelay        int        `json:"min_delay"`
	MaxDelay        int        `json:"max_delay"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CampaignAccount joins a campaign to one of its accounts with planning and
// progress counters. leads_count is fixed at creation; messages_sent only grows.
type CampaignAccount struct {
	ID           int64     `json:"id"`
	CampaignID   int64     `json:"campaign_id"`
	AccountID    int64     `json:"account_id"`
	LeadsCount   int       `json:"leads_count"`
	MessagesSent int       `json:"messages_sent"`
	CreatedAt    time.Time `json:"created_at"`
}

// Lead is one target profile, owned by a campaign and assigned to one account.
// Once status leaves pending it is never rewritten.
type Lead struct {
	ID           int64      `json:"id"`
	CampaignID   int64      `json:"campaign_id"`
	AccountID    int64      `json:"account_id"`
	ProfileURL   string     `json:"profile_url"`
	Status       string     `json:"status"`
	MessageSent  bool       `json:"message_sent"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CampaignStats aggregates lead outcomes for reporting.
type CampaignStats struct {
	TotalLeads     int `json:"total_leads"`
	PendingLeads   int `json:"pending_leads"`
	CompletedLeads int `json:"completed_leads"`
	FailedLeads    int `json:"failed_leads"`
	MessagesSent   int `json:"messages_sent"`
}

// AccountDistribution reports per-account planning and progress for one campaign.
type AccountDistribution struct {
	AccountID    int64  `json:"account_id"`
	AccountLogin string `json:"account_login"`
	LeadsCount   int    `json:"leads_count"`
	MessagesSent int    `json:"messages_sent"`
	Processed    int    `json:"processed"`
}

// IsTerminal reports whether a campaign status allows a new start.
func IsTerminal(status string) bool {
	switch status {
	case CampaignCompleted, CampaignStopped, CampaignFailed:
		return true
	}
	return false
}

// ValidProxyType reports whether t names a supported proxy protocol.
func ValidProxyType(t string) bool {
	switch t {
	case ProxyHTTP, ProxyHTTPS, ProxySOCKS4, ProxySOCKS5:
		return true
	}
	return false
}
