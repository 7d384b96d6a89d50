package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisPublisherDeliversToSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sub := client.Subscribe(ctx, CampaignChannel(7))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	accountID := int64(3)
	pub := NewRedisPublisher(client)
	pub.Publish(ctx, Event{
		CampaignID: 7,
		AccountID:  &accountID,
		Message:    "Message sent to profile-1",
		Severity:   SeveritySuccess,
	})

	msg, err := sub.ReceiveTimeout(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	payload, ok := msg.(*redis.Message)
	if !ok {
		t.Fatalf("unexpected message type %T", msg)
	}

	var got Event
	if err := json.Unmarshal([]byte(payload.Payload), &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.CampaignID != 7 || got.Severity != SeveritySuccess {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.AccountID == nil || *got.AccountID != 3 {
		t.Fatalf("expected account id 3, got %v", got.AccountID)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}
}

func TestRedisPublisherIsFireAndForget(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close() // publisher must swallow connection errors

	pub := NewRedisPublisher(client)
	pub.Publish(context.Background(), Event{CampaignID: 1, Message: "started", Severity: SeverityInfo})
}
