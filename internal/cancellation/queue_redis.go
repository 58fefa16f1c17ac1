package cancellation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps the queue in a list, task bodies in a hash and in-flight ids in a
// set, so pending cancellations survive a restart.
type RedisQueue struct {
	rdb      redis.UniversalClient
	list     string
	tasks    string
	inflight string
}

func NewRedisQueue(rdb redis.UniversalClient, prefix string) *RedisQueue {
	return &RedisQueue{
		rdb:      rdb,
		list:     prefix + "cancel:queue",
		tasks:    prefix + "cancel:tasks",
		inflight: prefix + "cancel:inflight",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	added, err := q.rdb.HSetNX(ctx, q.tasks, t.BookingID, raw).Result()
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	return q.rdb.RPush(ctx, q.list, t.BookingID).Err()
}

// drainScript empties the list and marks every id in flight atomically.
var drainScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
if #ids == 0 then return ids end
redis.call('DEL', KEYS[1])
redis.call('SADD', KEYS[2], unpack(ids))
return ids
`)

func (q *RedisQueue) Drain(ctx context.Context) ([]Task, error) {
	ids, err := drainScript.Run(ctx, q.rdb, []string{q.list, q.inflight}).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raws, err := q.rdb.HMGet(ctx, q.tasks, ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(raws))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, bookingID string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, q.tasks, bookingID)
		p.SRem(ctx, q.inflight, bookingID)
		return nil
	})
	return err
}

func (q *RedisQueue) Requeue(ctx context.Context, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.tasks, t.BookingID, raw)
		p.SRem(ctx, q.inflight, t.BookingID)
		p.RPush(ctx, q.list, t.BookingID)
		return nil
	})
	return err
}

func (q *RedisQueue) Lookup(ctx context.Context, bookingID string) (Task, bool, error) {
	raw, err := q.rdb.HGet(ctx, q.tasks, bookingID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, false, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.list).Result()
	return int(n), err
}

// Restore puts tasks left in flight by a stopped process back on the queue.
func (q *RedisQueue) Restore(ctx context.Context) (int, error) {
	ids, err := q.rdb.SMembers(ctx, q.inflight).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, q.list, members...)
		p.Del(ctx, q.inflight)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
