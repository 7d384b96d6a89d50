// Package progress streams live campaign events to subscribers. Delivery is
// fire-and-forget: subscribers not connected at publish time miss the event,
// and the lead ledger stays the durable source of truth.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event severities.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is one live progress update for a campaign, optionally scoped to an
// account. Events are never persisted.
type Event struct {
	CampaignID int64     `json:"campaign_id"`
	AccountID  *int64    `json:"account_id,omitempty"`
	Message    string    `json:"message"`
	Severity   string    `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits events. Implementations must never block the caller on slow
// or absent subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

const (
	// FirehoseChannel carries every event across all campaigns.
	FirehoseChannel = "outreach:progress"
	channelPrefix   = "outreach:progress:"
)

// CampaignChannel names the per-campaign pub/sub channel.
func CampaignChannel(campaignID int64) string {
	return fmt.Sprintf("%s%d", channelPrefix, campaignID)
}

// RedisPublisher publishes events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends the event to the campaign channel and the firehose. Errors are
// logged and swallowed; progress loss is acceptable by contract.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("progress: marshal event: %v", err)
		return
	}
	if err := p.client.Publish(ctx, CampaignChannel(e.CampaignID), payload).Err(); err != nil {
		log.Printf("progress: publish campaign %d: %v", e.CampaignID, err)
	}
	if err := p.client.Publish(ctx, FirehoseChannel, payload).Err(); err != nil {
		log.Printf("progress: publish firehose: %v", err)
	}
}

// LogPublisher writes events to the process log. Used when Redis is not
// configured and in tests.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) {
	if e.AccountID != nil {
		log.Printf("campaign %d account %d [%s] %s", e.CampaignID, *e.AccountID, e.Severity, e.Message)
		return
	}
	log.Printf("campaign %d [%s] %s", e.CampaignID, e.Severity, e.Message)
}
