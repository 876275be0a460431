// Package rediscache keeps shared counters in redis.
package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/ratelimit"
)

const keyPrefix = "ratelimit:"

// incrScript counts a hit and starts the window expiry on the first one. It returns the
// count and the remaining window in milliseconds.
const incrScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`

type evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// RateLimitStore is a ratelimit.Store shared by every API instance.
type RateLimitStore struct {
	client evaler
}

var _ ratelimit.Store = (*RateLimitStore)(nil) // interface compliance check

func NewRateLimitStore(client evaler) *RateLimitStore {
	return &RateLimitStore{client: client}
}

func (s *RateLimitStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	vals, err := s.client.Eval(ctx, incrScript, []string{keyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, "incrementing rate limit counter")
	}
	if len(vals) != 2 {
		return 0, time.Time{}, errors.Errorf("unexpected rate limit script reply %v", vals)
	}
	return vals[0], now.Add(time.Duration(vals[1]) * time.Millisecond), nil
}

// NewClient connects to the configured redis server.
func NewClient(ctx context.Context, conf *core.Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        conf.Redis.Addr,
		Password:    conf.Redis.Password,
		DB:          conf.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}
