package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/authportal/internal/jobs"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmpty is returned by Dequeue when nothing became ready before the
	// timeout.
	ErrEmpty = errors.New("queue empty")

	// ErrClaimLost means the claim was no longer in its processing list,
	// usually because orphan recovery already put the job back.
	ErrClaimLost = errors.New("claim lost")
)

const DefaultPrefix = "authportal:mail:"

// promoteBatch bounds how many delayed jobs one PromoteDue call moves.
const promoteBatch = 100

// Moves due members of the delayed set onto the ready list in one step.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// Settles a claim into the delayed set. KEYS: processing, delayed.
// ARGV: claimed raw, new raw, score.
var retryScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1
`)

// Settles a claim into a list. KEYS: processing, target. ARGV: claimed raw,
// new raw.
var moveScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

// Queue is a Redis-backed job queue. Ready jobs sit in a list; a consumer
// claims one by moving it into its own processing list, and the claim stays
// there until it is acknowledged, retried through the delayed set (scored by
// run-at in unix ms) or dead-lettered. Consumers keep a heartbeat; the
// processing lists of consumers whose heartbeat expired are put back on the
// ready list, so a crashed worker's jobs run again.
type Queue struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Claim is a job held in a consumer's processing list.
type Claim struct {
	Job      jobs.Job
	Consumer string
	// Raw is the payload exactly as claimed; settling removes it by value.
	Raw string
}

func New(rdb redis.UniversalClient, prefix string) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{rdb: rdb, prefix: prefix, now: time.Now}
}

func (q *Queue) readyKey() string     { return q.prefix + "ready" }
func (q *Queue) delayedKey() string   { return q.prefix + "delayed" }
func (q *Queue) deadKey() string      { return q.prefix + "dead" }
func (q *Queue) consumersKey() string { return q.prefix + "consumers" }

func (q *Queue) processingKey(consumer string) string {
	return q.prefix + "processing:" + consumer
}

func (q *Queue) heartbeatKey(consumer string) string {
	return q.prefix + "heartbeat:" + consumer
}

// Enqueue pushes j onto the ready list, or into the delayed set when its
// RunAt lies in the future.
func (q *Queue) Enqueue(ctx context.Context, j jobs.Job) error {
	b, err := j.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if j.RunAt.After(q.now()) {
		return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: b,
		}).Err()
	}
	return q.rdb.LPush(ctx, q.readyKey(), b).Err()
}

// Dequeue blocks up to timeout for the next ready job and claims it for
// consumer.
func (q *Queue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (Claim, error) {
	processing := q.processingKey(consumer)

	raw, err := q.rdb.BLMove(ctx, q.readyKey(), processing, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Claim{}, ErrEmpty
		}
		return Claim{}, err
	}

	j, err := jobs.Unmarshal([]byte(raw))
	if err != nil {
		// keep the raw bytes around for inspection rather than dropping them
		if moveErr := moveScript.Run(ctx, q.rdb, []string{processing, q.deadKey()}, raw, raw).Err(); moveErr != nil {
			return Claim{}, fmt.Errorf("dead-letter undecodable job: %w", moveErr)
		}
		return Claim{}, fmt.Errorf("%w: %v", jobs.ErrInvalidJobPayload, err)
	}
	return Claim{Job: j, Consumer: consumer, Raw: raw}, nil
}

// Ack drops a delivered claim.
func (q *Queue) Ack(ctx context.Context, c Claim) error {
	n, err := q.rdb.LRem(ctx, q.processingKey(c.Consumer), 1, c.Raw).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

// Retry moves the claim into the delayed set until runAt, carrying the
// updated c.Job.
func (q *Queue) Retry(ctx context.Context, c Claim, runAt time.Time) error {
	j := c.Job
	j.RunAt = runAt.UTC()
	b, err := j.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	moved, err := retryScript.Run(ctx, q.rdb,
		[]string{q.processingKey(c.Consumer), q.delayedKey()},
		c.Raw, string(b), runAt.UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return ErrClaimLost
	}
	return nil
}

// DeadLetter moves the claim, with the updated c.Job, to the dead list.
func (q *Queue) DeadLetter(ctx context.Context, c Claim) error {
	b, err := c.Job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	moved, err := moveScript.Run(ctx, q.rdb,
		[]string{q.processingKey(c.Consumer), q.deadKey()},
		c.Raw, string(b),
	).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return ErrClaimLost
	}
	return nil
}

// PromoteDue moves delayed jobs whose run-at has passed onto the ready list.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	return promoteScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.readyKey()},
		q.now().UnixMilli(), promoteBatch,
	).Int()
}

// Heartbeat registers consumer and keeps it alive for ttl.
func (q *Queue) Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, q.consumersKey(), consumer)
		p.Set(ctx, q.heartbeatKey(consumer), q.now().UnixMilli(), ttl)
		return nil
	})
	return err
}

// RecoverOrphans returns the claims of every consumer whose heartbeat has
// expired to the ready list and forgets those consumers.
func (q *Queue) RecoverOrphans(ctx context.Context) (int, error) {
	consumers, err := q.rdb.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, consumer := range consumers {
		alive, err := q.rdb.Exists(ctx, q.heartbeatKey(consumer)).Result()
		if err != nil {
			return recovered, err
		}
		if alive > 0 {
			continue
		}

		n, err := q.release(ctx, consumer)
		recovered += n
		if err != nil {
			return recovered, err
		}
		if err := q.rdb.SRem(ctx, q.consumersKey(), consumer).Err(); err != nil {
			return recovered, err
		}
	}
	return recovered, nil
}

// release moves consumer's processing list back onto the consuming end of
// the ready list, one atomic LMOVE per job.
func (q *Queue) release(ctx context.Context, consumer string) (int, error) {
	processing := q.processingKey(consumer)

	moved := 0
	for {
		err := q.rdb.LMove(ctx, processing, q.readyKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

type Depth struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
}

func (q *Queue) Depth(ctx context.Context) (Depth, error) {
	var ready, delayed, dead *redis.IntCmd

	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		ready = p.LLen(ctx, q.readyKey())
		delayed = p.ZCard(ctx, q.delayedKey())
		dead = p.LLen(ctx, q.deadKey())
		return nil
	})
	if err != nil {
		return Depth{}, err
	}

	return Depth{Ready: ready.Val(), Delayed: delayed.Val(), Dead: dead.Val()}, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
