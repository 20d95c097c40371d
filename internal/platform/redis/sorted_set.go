package redis

import (
	"context"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// retrySet is the sorted-set surface the RetryScheduler needs. Scores are
// Unix milliseconds.
type retrySet interface {
	Add(ctx context.Context, member string, score int64) error

	// Due returns up to limit members scored at or below max, lowest first.
	Due(ctx context.Context, max int64, limit int) ([]string, error)

	// Claim moves member to lease if its score is still at or below due,
	// and reports whether it did. Replicas racing for a member see exactly
	// one true.
	Claim(ctx context.Context, member string, due, lease int64) (bool, error)

	Remove(ctx context.Context, member string) error
	Len(ctx context.Context) (int64, error)
}

// claimScript re-scores a due member in one round trip.
var claimScript = goredis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
	return 1
end
return 0
`)

// sortedSet implements retrySet on a Redis sorted set.
type sortedSet struct {
	client *goredis.Client
	key    string
}

func (s *sortedSet) Add(ctx context.Context, member string, score int64) error {
	return s.client.ZAdd(ctx, s.key, goredis.Z{Score: float64(score), Member: member}).Err()
}

func (s *sortedSet) Due(ctx context.Context, max int64, limit int) ([]string, error) {
	return s.client.ZRangeByScore(ctx, s.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(max, 10),
		Count: int64(limit),
	}).Result()
}

func (s *sortedSet) Claim(ctx context.Context, member string, due, lease int64) (bool, error) {
	n, err := claimScript.Run(ctx, s.client, []string{s.key}, member, due, lease).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sortedSet) Remove(ctx context.Context, member string) error {
	return s.client.ZRem(ctx, s.key, member).Err()
}

func (s *sortedSet) Len(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.key).Result()
}
