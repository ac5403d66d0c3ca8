package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/amirphl/Kura/models"
	"github.com/redis/go-redis/v9"
)

const counterExhaustedReply = "COUNTER_EXHAUSTED"

// KEYS[1] counters hash, ARGV[1] field, ARGV[2] delta, ARGV[3] initial value.
// Returns the value after the increment as a string. Arithmetic stays in HINCRBY so values
// never pass through Lua numbers; HINCRBY refuses to overflow and leaves the field unchanged.
var allocateCounterScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[3])
local res = redis.pcall('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if type(res) == 'table' and res.err then
  if string.find(res.err, 'overflow') then
    return redis.error_reply('` + counterExhaustedReply + `')
  end
  return res
end
return redis.call('HGET', KEYS[1], ARGV[1])
`)

// RedisCounterRepository keeps every counter as a field of one redis hash
type RedisCounterRepository struct {
	client *redis.Client
	hash   string
}

// NewRedisCounterRepository creates a counter repository over the hash <prefix>counters
func NewRedisCounterRepository(client *redis.Client, prefix string) CounterRepository {
	return &RedisCounterRepository{
		client: client,
		hash:   prefix + models.CounterRecord{}.TableName(),
	}
}

func (r *RedisCounterRepository) Peek(ctx context.Context, key string) (int64, error) {
	v, err := r.client.HGet(ctx, r.hash, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.InitialCounterValue, nil
		}
		return 0, newStoreError("peek counter", key, err)
	}
	return v, nil
}

func (r *RedisCounterRepository) Allocate(ctx context.Context, key string, delta int64) (int64, error) {
	if err := checkDelta(delta); err != nil {
		return 0, err
	}

	raw, err := allocateCounterScript.Run(ctx, r.client, []string{r.hash},
		key, strconv.FormatInt(delta, 10), strconv.FormatInt(models.InitialCounterValue, 10)).Text()
	if err != nil {
		if strings.Contains(err.Error(), counterExhaustedReply) {
			return 0, ErrCounterExhausted
		}
		return 0, newStoreError("allocate counter", key, err)
	}
	next, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, newStoreError("allocate counter", key, err)
	}
	return next - delta, nil
}

func (r *RedisCounterRepository) Set(ctx context.Context, key string, value int64) error {
	if err := r.client.HSet(ctx, r.hash, key, value).Err(); err != nil {
		return newStoreError("set counter", key, err)
	}
	return nil
}
