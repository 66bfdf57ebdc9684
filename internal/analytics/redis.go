// Package analytics keeps per-day delivery counters in Redis for dashboards.
// Counters are best effort and never gate a delivery.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/morning-brief/internal/domain"
)

// DefaultRetention is how long a day's counters are kept.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    redis.UniversalClient
	retention time.Duration
}

func NewRedisSink(client redis.UniversalClient, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

// Record increments the outcome counter for the result's day and channel,
// and the narrative source counter when a narrative was produced.
func (s *RedisSink) Record(ctx context.Context, res domain.DeliveryResult) error {
	pipe := s.client.Pipeline()

	key := OutcomeKey(res.CalendarDay, res.Channel, res.Outcome)
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if res.NarrativeSource != "" {
		nkey := NarrativeKey(res.CalendarDay, res.NarrativeSource)
		pipe.Incr(ctx, nkey)
		pipe.Expire(ctx, nkey, s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// DayCounts reads the outcome counters for one day and channel.
func (s *RedisSink) DayCounts(ctx context.Context, day string, ch domain.Channel) (map[domain.Outcome]int64, error) {
	outcomes := []domain.Outcome{domain.OutcomeDelivered, domain.OutcomeFailed, domain.OutcomeSkipped}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(outcomes))
	for i, o := range outcomes {
		cmds[i] = pipe.Get(ctx, OutcomeKey(day, ch, o))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline: %w", err)
	}

	out := make(map[domain.Outcome]int64, len(outcomes))
	for i, o := range outcomes {
		n, err := cmds[i].Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", o, err)
		}
		out[o] = n
	}
	return out, nil
}

// OutcomeKey names the counter for one day, channel and outcome.
func OutcomeKey(day string, ch domain.Channel, outcome domain.Outcome) string {
	if ch == "" {
		ch = "none"
	}
	return fmt.Sprintf("brief:%s:%s:%s", day, ch, outcome)
}

// NarrativeKey names the counter for one day and narrative source.
func NarrativeKey(day string, source domain.NarrativeSource) string {
	return fmt.Sprintf("brief:%s:narrative:%s", day, source)
}
