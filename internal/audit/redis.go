// Package audit keeps a Redis trail of completed reminder fires. Entries
// expire after the retention window; the trail is operational evidence, not a
// delivery guarantee.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tannybot/remindd/internal/domain"
)

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisSink{client: client, retention: retention}
}

// Record writes one fire entry. Errors are logged and swallowed; auditing
// never affects dispatch correctness.
func (s *RedisSink) Record(ctx context.Context, event domain.FireEvent, attempted, failed int) {
	key := buildKey(event)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"event_id", event.EventID,
		"kind", string(event.Kind),
		"trigger_time", event.TriggerTime.UTC().Format(time.RFC3339),
		"fired_at", event.FiredAt.UTC().Format(time.RFC3339),
		"attempted", attempted,
		"failed", failed,
	)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("audit: record job=%s error: %v", event.JobID, err)
	}
}

func buildKey(event domain.FireEvent) string {
	return "fire:" + event.JobID
}
