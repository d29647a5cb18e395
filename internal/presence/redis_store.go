package presence

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "chat:online:"

// DECR and DEL run as one script so no other instance can observe or bump
// a counter that is about to be removed.
var decrScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
end
return n
`)

type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Incr(ctx context.Context, userID int64) (int64, error) {
	return s.rdb.Incr(ctx, s.key(userID)).Result()
}

func (s *RedisStore) Decr(ctx context.Context, userID int64) (int64, error) {
	return decrScript.Run(ctx, s.rdb, []string{s.key(userID)}).Int64()
}

func (s *RedisStore) Online(ctx context.Context) ([]int64, error) {
	var out []int64
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		id, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), s.prefix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + strconv.FormatInt(userID, 10)
}
