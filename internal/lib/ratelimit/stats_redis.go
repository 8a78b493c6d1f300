package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one limiter decision.
type Event struct {
	Key     string
	Allowed bool
	Method  string
	Route   string
	At      time.Time
}

// StatsRecorder persists decisions. Errors are best effort and never fail
// the request.
type StatsRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// RedisStats keeps allowed/denied counters in hashes: a cumulative total, a
// per-minute bucket and a per-route breakdown.
type RedisStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStats(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStats {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "modtok:ratelimit"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStats{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Keys reports the hash keys an event at t touches.
func (s *RedisStats) Keys(t time.Time) (total, minute, route string) {
	return s.prefix + ":total",
		fmt.Sprintf("%s:minute:%s", s.prefix, t.UTC().Format("200601021504")),
		s.prefix + ":route"
}

func (s *RedisStats) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}
	totalKey, minuteKey, routeKey := s.Keys(at)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	pipe.Expire(ctx, minuteKey, s.ttl)
	if routeField := strings.TrimSpace(ev.Method + " " + ev.Route); routeField != "" {
		pipe.HIncrBy(ctx, routeKey, routeField+":"+field, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit stats: %w", err)
	}
	return nil
}
