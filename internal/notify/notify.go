// Package notify pushes visit summaries to live dashboards over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"visitguard/internal/model"
)

// Redis publishes each summary on <prefix><websiteId>.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Channel returns the channel a website's summaries are published on.
func (r *Redis) Channel(websiteID string) string {
	return r.prefix + websiteID
}

func (r *Redis) Publish(ctx context.Context, s model.LiveSummary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode live summary: %w", err)
	}
	return r.client.Publish(ctx, r.Channel(s.WebsiteID), payload).Err()
}

// Nop discards summaries. It is used when no Redis is configured.
type Nop struct{}

func (Nop) Publish(context.Context, model.LiveSummary) error { return nil }
