package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// list is the subset of *redis.Client the queue needs.
type list interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

type RedisQueue struct {
	rdb       list
	queueName string
}

func NewRedisQueue(rdb list, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

func (q *RedisQueue) Name() string { return q.queueName }

// Options returns the client options the intake needs. Blocking pops only
// honour the caller's deadline with ContextTimeoutEnabled.
func Options(addr string) *redis.Options {
	return &redis.Options{Addr: addr, ContextTimeoutEnabled: true}
}

// window is the BRPOP timeout for ctx: the whole seconds left before its
// deadline, at least one, so the server answers nil before ctx expires.
// Without a deadline it is zero and BRPOP waits for the context.
func window(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return max(time.Until(deadline).Truncate(time.Second), time.Second)
}

// Pop bloquea hasta que exista un elemento (BRPOP) o venza la ventana de ctx.
// An empty window returns redis.Nil.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	res, err := q.rdb.BRPop(ctx, window(ctx), q.queueName).Result()
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Push encola al final opuesto de Pop, así el orden es FIFO.
func (q *RedisQueue) Push(ctx context.Context, payload string) error {
	return q.rdb.LPush(ctx, q.queueName, payload).Err()
}
