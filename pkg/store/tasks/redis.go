package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// registerScript stores a task unless it already exists.
// KEYS[1] = task hash key
// KEYS[2] = timeout sorted set
// ARGV[1] = task id
// ARGV[2] = payload
// ARGV[3] = timeout (epoch seconds)
var registerScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "task", ARGV[2], "retryCount", 0)
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// grabScript leases expired tasks atomically.
// KEYS[1] = timeout sorted set
// ARGV[1] = now (epoch seconds)
// ARGV[2] = count
// ARGV[3] = new timeout
// ARGV[4] = task hash key prefix
var grabScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
    local key = ARGV[4] .. id
    redis.call("ZADD", KEYS[1], ARGV[3], id)
    local retries = redis.call("HINCRBY", key, "retryCount", 1)
    local task = redis.call("HGET", key, "task")
    table.insert(out, id)
    table.insert(out, task)
    table.insert(out, retries)
end
return out
`)

// RedisStore is a Store backed by one hash per task plus a sorted set of
// timeouts.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    Clock
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreWithClient(rdb, "dwn:tasks:")
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) taskKey(id string) string { return s.prefix + "task:" + id }
func (s *RedisStore) timeoutsKey() string      { return s.prefix + "timeouts" }

func (s *RedisStore) Register(ctx context.Context, task json.RawMessage, timeoutSeconds int64) (*ManagedResumableTask, error) {
	payload, id, err := Prepare(task)
	if err != nil {
		return nil, err
	}
	keys := []string{s.taskKey(id), s.timeoutsKey()}
	if err := registerScript.Run(ctx, s.client, keys, id, string(payload), s.now().Unix()+timeoutSeconds).Err(); err != nil {
		return nil, fmt.Errorf("tasks: redis register %s: %w", id, err)
	}
	return s.Read(ctx, id)
}

func (s *RedisStore) Grab(ctx context.Context, count int, timeoutSeconds int64) ([]ManagedResumableTask, error) {
	now := s.now().Unix()
	res, err := grabScript.Run(ctx, s.client, []string{s.timeoutsKey()},
		now, count, now+timeoutSeconds, s.prefix+"task:").Slice()
	if err != nil {
		return nil, fmt.Errorf("tasks: redis grab: %w", err)
	}
	if len(res)%3 != 0 {
		return nil, fmt.Errorf("tasks: invalid response from grab script")
	}

	out := make([]ManagedResumableTask, 0, len(res)/3)
	for i := 0; i < len(res); i += 3 {
		id, _ := res[i].(string)
		task, _ := res[i+1].(string)
		retries, _ := res[i+2].(int64)
		out = append(out, ManagedResumableTask{
			ID:         id,
			Task:       json.RawMessage(task),
			Timeout:    now + timeoutSeconds,
			RetryCount: int(retries),
		})
	}
	return out, nil
}

func (s *RedisStore) Read(ctx context.Context, id string) (*ManagedResumableTask, error) {
	fields, err := s.client.HMGet(ctx, s.taskKey(id), "task", "retryCount").Result()
	if err != nil {
		return nil, fmt.Errorf("tasks: redis read %s: %w", id, err)
	}
	task, ok := fields[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	var retries int
	if rc, ok := fields[1].(string); ok {
		_, _ = fmt.Sscan(rc, &retries)
	}

	timeout, err := s.client.ZScore(ctx, s.timeoutsKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: redis read timeout %s: %w", id, err)
	}

	return &ManagedResumableTask{
		ID:         id,
		Task:       json.RawMessage(task),
		Timeout:    int64(timeout),
		RetryCount: retries,
	}, nil
}

func (s *RedisStore) Extend(ctx context.Context, id string, timeoutSeconds int64) error {
	exists, err := s.client.Exists(ctx, s.taskKey(id)).Result()
	if err != nil {
		return fmt.Errorf("tasks: redis extend %s: %w", id, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	err = s.client.ZAddXX(ctx, s.timeoutsKey(), redis.Z{
		Score:  float64(s.now().Unix() + timeoutSeconds),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("tasks: redis extend %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.taskKey(id))
	pipe.ZRem(ctx, s.timeoutsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tasks: redis delete %s: %w", id, err)
	}
	return nil
}
