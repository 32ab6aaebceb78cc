package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/util"
	"github.com/redis/go-redis/v9"
)

// promoteScript moves up to ARGV[2] due members of the delayed set onto the
// ready list in a single step.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

type RedisConfig struct {
	KeyPrefix    string        // default "hookrelay:queue:"
	PollInterval time.Duration // BLMOVE timeout and delayed-set scan period, default 1s
	PromoteBatch int           // default 100
}

// Redis is a durable delayed queue:
//
//	<prefix>delayed     ZSET scored by due time (unix ms)
//	<prefix>ready       LIST, producers LPUSH
//	<prefix>processing  LIST, fetched and not yet acknowledged
type Redis struct {
	rdb *redis.Client
	cfg RedisConfig

	delayedKey    string
	readyKey      string
	processingKey string

	closed atomic.Bool
	now    func() time.Time
}

func NewRedis(rdb *redis.Client, cfg RedisConfig) *Redis {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "hookrelay:queue:"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PromoteBatch <= 0 {
		cfg.PromoteBatch = 100
	}
	return &Redis{
		rdb:           rdb,
		cfg:           cfg,
		delayedKey:    cfg.KeyPrefix + "delayed",
		readyKey:      cfg.KeyPrefix + "ready",
		processingKey: cfg.KeyPrefix + "processing",
		now:           time.Now,
	}
}

var _ Queue = (*Redis)(nil)

func (q *Redis) Enqueue(ctx context.Context, job model.DeliveryJob, delay time.Duration) error {
	if q.closed.Load() {
		return ErrClosed
	}
	raw, err := encode(util.New(), job)
	if err != nil {
		return err
	}
	if delay <= 0 {
		return q.rdb.LPush(ctx, q.readyKey, raw).Err()
	}
	due := q.now().Add(delay).UnixMilli()
	return q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: raw}).Err()
}

func (q *Redis) Fetch(ctx context.Context) (Message, error) {
	for {
		if q.closed.Load() {
			return Message{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		if _, err := q.promote(ctx); err != nil {
			return Message{}, err
		}

		raw, err := q.rdb.BLMove(ctx, q.readyKey, q.processingKey, "RIGHT", "LEFT", q.cfg.PollInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Message{}, err
		}

		m, err := decode(raw)
		if err != nil {
			// poison: drop it from processing so it is not recovered forever
			_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
			return Message{}, err
		}
		return m, nil
	}
}

func (q *Redis) promote(ctx context.Context) (int64, error) {
	n, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.delayedKey, q.readyKey},
		strconv.FormatInt(q.now().UnixMilli(), 10), q.cfg.PromoteBatch,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

func (q *Redis) Ack(ctx context.Context, m Message) error {
	if m.raw == "" {
		return nil
	}
	return q.rdb.LRem(ctx, q.processingKey, 1, m.raw).Err()
}

// Nack moves m from the processing list back to the delayed set in one
// transaction. A message no longer in flight is left alone.
func (q *Redis) Nack(ctx context.Context, m Message, delay time.Duration) error {
	if m.raw == "" {
		return nil
	}
	due := q.now().Add(delay).UnixMilli()
	var removed *redis.IntCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.LRem(ctx, q.processingKey, 1, m.raw)
		pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: m.raw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("nack job %s: %w", m.ID, err)
	}
	if removed.Val() == 0 {
		// acknowledged or recovered elsewhere meanwhile
		return q.rdb.ZRem(ctx, q.delayedKey, m.raw).Err()
	}
	return nil
}

// RecoverInflight moves jobs left in the processing list by a crashed worker
// back to the ready list. Call it before any worker of the deployment starts
// fetching, otherwise jobs still being delivered are duplicated.
func (q *Redis) RecoverInflight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey, q.readyKey, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Close stops Fetch and Enqueue; the redis client is owned by the caller.
func (q *Redis) Close() error {
	q.closed.Store(true)
	return nil
}
