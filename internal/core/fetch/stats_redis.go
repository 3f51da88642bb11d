package fetch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStats keeps counters in Redis hashes so several processes share them.
//
//	<prefix>:endpoints                 set of endpoints seen
//	<prefix>:endpoint:<host>           hash outcome -> count (no expiry)
//	<prefix>:minute:<yyyymmddhhmm>     hash <host>:<outcome> -> count (expires)
type RedisStats struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisStatsOption configures RedisStats.
type RedisStatsOption func(*RedisStats)

// WithStatsPrefix sets the key prefix.
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) {
		if trimmed := strings.Trim(prefix, ":"); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// WithStatsTTL sets the expiry of per-minute buckets.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

// NewRedisStats wraps an existing client.
func NewRedisStats(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "riskledger:fetch",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRedisStats parses a redis:// URL, checks connectivity and returns the recorder.
func OpenRedisStats(ctx context.Context, rawURL string, opts ...RedisStatsOption) (*RedisStats, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStats(client, opts...), nil
}

// Record increments the endpoint's outcome counter and its per-minute bucket.
func (s *RedisStats) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, s.prefix+":endpoints", ev.Endpoint)
	pipe.HIncrBy(ctx, s.endpointKey(ev.Endpoint), ev.Outcome, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, ev.Endpoint+":"+ev.Outcome, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals returns the accumulated outcome counts per endpoint, sorted by endpoint.
func (s *RedisStats) Totals(ctx context.Context) ([]EndpointStats, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}

	endpoints, err := s.rdb.SMembers(ctx, s.prefix+":endpoints").Result()
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	sort.Strings(endpoints)

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(endpoints))
	for i, endpoint := range endpoints {
		cmds[i] = pipe.HGetAll(ctx, s.endpointKey(endpoint))
	}
	if len(endpoints) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("read counters: %w", err)
		}
	}

	out := make([]EndpointStats, 0, len(endpoints))
	for i, endpoint := range endpoints {
		outcomes := make(map[string]int64)
		for outcome, raw := range cmds[i].Val() {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			outcomes[outcome] = n
		}
		out = append(out, EndpointStats{Endpoint: endpoint, Outcomes: outcomes})
	}
	return out, nil
}

// Close releases the underlying client.
func (s *RedisStats) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStats) endpointKey(endpoint string) string {
	return s.prefix + ":endpoint:" + endpoint
}
