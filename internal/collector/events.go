package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/market-service/internal/model"
)

// EventJobsCollected is published on Redis after every collection run.
const EventJobsCollected = "EVENT_JOBS_COLLECTED"

// Publisher delivers run events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes on Redis pub/sub channels.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", channel, err)
	}
	return nil
}

type runEvent struct {
	Type           string                  `json:"type"`
	RunID          string                  `json:"runId"`
	TotalCollected int                     `json:"totalCollected"`
	Roles          model.CollectionSummary `json:"roles"`
	At             string                  `json:"at"`
}

func (c *Collector) publishRun(ctx context.Context, runID string, summary model.CollectionSummary) {
	if c.events == nil {
		return
	}
	event, _ := json.Marshal(runEvent{
		Type:           EventJobsCollected,
		RunID:          runID,
		TotalCollected: summary.TotalCollected(),
		Roles:          summary,
		At:             c.now().Format(time.RFC3339),
	})
	if err := c.events.Publish(ctx, EventJobsCollected, event); err != nil {
		c.log.Warn("publish "+EventJobsCollected+" failed", "err", err)
	}
}
