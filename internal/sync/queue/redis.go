package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgredis "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/redis"
)

// RedisConfig configures a Redis queue.
type RedisConfig struct {
	// Name namespaces every key, so several queues can share a database.
	Name         string
	StallTimeout time.Duration
}

// Redis is a Queue stored in Redis. Waiting jobs sit in a list moved
// atomically to an active list on dequeue; leases, delayed retries and
// retained finished jobs are sorted sets scored by unix milliseconds; each
// job's fields live in a hash. Lifecycle events go out over pub/sub so every
// process sees them.
type Redis struct {
	rdb    *redis.Client
	cfg    RedisConfig
	local  *broadcaster
	logger *slog.Logger
}

var _ Queue = (*Redis)(nil)

// NewRedis creates a Redis queue on client.
func NewRedis(client *pkgredis.Client, cfg RedisConfig) *Redis {
	if cfg.Name == "" {
		cfg.Name = "search-sync"
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Minute
	}
	logger := slog.Default().With("component", "redis-queue", "queue", cfg.Name)
	return &Redis{
		rdb:    client.Redis(),
		cfg:    cfg,
		local:  newBroadcaster(logger),
		logger: logger,
	}
}

func (q *Redis) key(parts ...string) string {
	k := "searchsync:" + q.cfg.Name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Redis) jobKey(id string) string { return q.key("job", id) }

// promoteScript moves due delayed jobs to the wait list. KEYS: delayed, wait.
// ARGV: now in unix ms, job hash prefix, waiting state.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local moved = 0
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	if redis.call('EXISTS', ARGV[2] .. id) == 1 then
		redis.call('HSET', ARGV[2] .. id, 'state', ARGV[3])
		redis.call('LPUSH', KEYS[2], id)
		moved = moved + 1
	end
end
return moved
`)

// heartbeatScript extends a lease only while it is still held. KEYS: leases.
// ARGV: job id, new deadline in unix ms.
var heartbeatScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
return 1
`)

// drainScript removes every waiting and delayed job with its hash.
// KEYS: wait, delayed. ARGV: job hash prefix.
var drainScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
	table.insert(ids, id)
end
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1], KEYS[2])
return #ids
`)

func (q *Redis) Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	opts = normalizeOptions(opts)
	id := uuid.NewString()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), map[string]any{
			"type":             jobType,
			"payload":          string(raw),
			"state":            string(StateWaiting),
			"attempts_made":    0,
			"max_attempts":     opts.Attempts,
			"backoff_type":     string(opts.Backoff.Type),
			"backoff_delay_ms": opts.Backoff.Delay.Milliseconds(),
			"retain_complete":  boolFlag(opts.RetainOnComplete),
			"retain_fail":      boolFlag(opts.RetainOnFail),
			"created_at":       time.Now().UnixMilli(),
		})
		pipe.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		return "", queueError("enqueue", err)
	}
	return id, nil
}

func (q *Redis) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	paused, err := q.rdb.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return nil, q.brokerError("checking pause flag", err)
	}
	if paused > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return nil, nil
		}
	}
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, q.brokerError("promoting delayed jobs", err)
	}

	id, err := q.rdb.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, q.brokerError("dequeue", err)
	}

	now := time.Now()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateActive), "processed_at", now.UnixMilli())
		pipe.HIncrBy(ctx, q.jobKey(id), "attempts_made", 1)
		pipe.ZAdd(ctx, q.key("leases"), redis.Z{Score: float64(now.Add(q.cfg.StallTimeout).UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return nil, q.brokerError("activating job", err)
	}
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil || job.Type == "" {
		// Drained between the move and the activation.
		q.rdb.LRem(ctx, q.key("active"), 1, id)
		q.rdb.ZRem(ctx, q.key("leases"), id)
		q.rdb.Del(ctx, q.jobKey(id))
		return nil, nil
	}
	q.publish(ctx, Event{Type: EventActive, JobID: id, JobType: job.Type, Attempt: job.AttemptsMade, Timestamp: now})
	return job, nil
}

func (q *Redis) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	keys := []string{q.key("delayed"), q.key("wait")}
	return promoteScript.Run(ctx, q.rdb, keys, now, q.jobKey(""), string(StateWaiting)).Err()
}

func (q *Redis) Heartbeat(ctx context.Context, id string) error {
	until := time.Now().Add(q.cfg.StallTimeout).UnixMilli()
	held, err := heartbeatScript.Run(ctx, q.rdb, []string{q.key("leases")}, id, until).Int()
	if err != nil {
		return queueError("heartbeat", err)
	}
	if held == 0 {
		return fmt.Errorf("heartbeat %s: %w", id, ErrJobNotFound)
	}
	return nil
}

func (q *Redis) Complete(ctx context.Context, id string, result any) error {
	raw, err := marshalPayload(result)
	if err != nil {
		return fmt.Errorf("encoding result of %s: %w", id, err)
	}
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("completing %s: %w", id, ErrJobNotFound)
	}
	now := time.Now()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, id)
		pipe.ZRem(ctx, q.key("leases"), id)
		if job.RetainOnComplete {
			pipe.HSet(ctx, q.jobKey(id), "state", string(StateCompleted), "result", string(raw), "finished_at", now.UnixMilli())
			pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		} else {
			pipe.Del(ctx, q.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return queueError("complete", err)
	}
	q.publish(ctx, Event{Type: EventCompleted, JobID: id, JobType: job.Type, Attempt: job.AttemptsMade, Result: raw, Timestamp: now})
	return nil
}

func (q *Redis) Fail(ctx context.Context, id string, cause error, retryable bool) error {
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("failing %s: %w", id, ErrJobNotFound)
	}
	now := time.Now()
	reason := errorText(cause)
	trace, err := json.Marshal(append(job.Stacktrace, reason))
	if err != nil {
		return fmt.Errorf("encoding stacktrace of %s: %w", id, err)
	}
	willRetry := retryable && job.AttemptsMade < job.MaxAttempts
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, id)
		pipe.ZRem(ctx, q.key("leases"), id)
		switch {
		case willRetry:
			ready := now.Add(job.Backoff.After(job.AttemptsMade)).UnixMilli()
			pipe.HSet(ctx, q.jobKey(id), "state", string(StateDelayed), "failed_reason", reason, "stacktrace", string(trace))
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(ready), Member: id})
		case job.RetainOnFail:
			pipe.HSet(ctx, q.jobKey(id), "state", string(StateFailed), "failed_reason", reason, "stacktrace", string(trace), "finished_at", now.UnixMilli())
			pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		default:
			pipe.Del(ctx, q.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return queueError("fail", err)
	}
	q.publish(ctx, Event{Type: EventFailed, JobID: id, JobType: job.Type, Attempt: job.AttemptsMade, Error: reason, WillRetry: willRetry, Timestamp: now})
	return nil
}

func (q *Redis) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, queueError("get job", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeJob(id, fields), nil
}

func (q *Redis) Counts(ctx context.Context) (Counts, error) {
	var waiting, active, delayed, completed, failed, paused *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key("wait"))
		active = pipe.LLen(ctx, q.key("active"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		completed = pipe.ZCard(ctx, q.key("completed"))
		failed = pipe.ZCard(ctx, q.key("failed"))
		paused = pipe.Exists(ctx, q.key("paused"))
		return nil
	})
	if err != nil {
		return Counts{}, queueError("counts", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Paused:    paused.Val() > 0,
	}, nil
}

func (q *Redis) Pause(ctx context.Context) error {
	if err := q.rdb.Set(ctx, q.key("paused"), "1", 0).Err(); err != nil {
		return queueError("pause", err)
	}
	return nil
}

func (q *Redis) Resume(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.key("paused")).Err(); err != nil {
		return queueError("resume", err)
	}
	return nil
}

func (q *Redis) Drain(ctx context.Context) (int, error) {
	keys := []string{q.key("wait"), q.key("delayed")}
	n, err := drainScript.Run(ctx, q.rdb, keys, q.jobKey("")).Int()
	if err != nil {
		return 0, queueError("drain", err)
	}
	return n, nil
}

func (q *Redis) Clean(ctx context.Context, state State) (int, error) {
	if err := checkCleanState(state); err != nil {
		return 0, err
	}
	set := q.key(string(state))
	ids, err := q.rdb.ZRange(ctx, set, 0, -1).Result()
	if err != nil {
		return 0, queueError("clean", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, q.jobKey(id))
			pipe.ZRem(ctx, set, id)
		}
		return nil
	})
	if err != nil {
		return 0, queueError("clean", err)
	}
	return len(ids), nil
}

func (q *Redis) RecoverStalled(ctx context.Context) (int, error) {
	now := time.Now()
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("leases"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, queueError("checking stalled jobs", err)
	}
	recovered := 0
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.key("leases"), id).Result()
		if err != nil {
			return recovered, queueError("checking stalled jobs", err)
		}
		if removed == 0 {
			continue
		}
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key("active"), 1, id)
			pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
			pipe.RPush(ctx, q.key("wait"), id)
			return nil
		})
		if err != nil {
			return recovered, queueError("requeueing stalled job", err)
		}
		recovered++
		q.logger.Warn("job stalled, returned to waiting", "job_id", id)
		jobType, _ := q.rdb.HGet(ctx, q.jobKey(id), "type").Result()
		q.publish(ctx, Event{Type: EventStalled, JobID: id, JobType: jobType, Timestamp: now})
	}
	return recovered, nil
}

// Events merges lifecycle events published by every process using this
// queue with broker errors seen by this process.
func (q *Redis) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, subscriberBuffer)
	local := q.local.subscribe(ctx)
	sub := q.rdb.Subscribe(ctx, q.key("events"))
	if _, err := sub.Receive(ctx); err != nil {
		q.logger.Error("subscribing to queue events", "error", err)
	}

	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			var ev Event
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					q.logger.Error("decoding queue event", "error", err)
					continue
				}
			case e, ok := <-local:
				if !ok {
					return
				}
				ev = e
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (q *Redis) Close() error {
	q.local.closeAll()
	return nil
}

func (q *Redis) publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		q.logger.Error("encoding queue event", "error", err)
		return
	}
	if err := q.rdb.Publish(ctx, q.key("events"), data).Err(); err != nil {
		q.logger.Error("publishing queue event", "event", string(ev.Type), "job_id", ev.JobID, "error", err)
	}
}

func (q *Redis) brokerError(op string, err error) error {
	wrapped := queueError(op, err)
	q.local.publish(Event{Type: EventError, Error: wrapped.Error(), Timestamp: time.Now()})
	return wrapped
}

func decodeJob(id string, f map[string]string) *Job {
	job := &Job{
		ID:               id,
		Type:             f["type"],
		State:            State(f["state"]),
		AttemptsMade:     atoi(f["attempts_made"]),
		MaxAttempts:      atoi(f["max_attempts"]),
		Backoff:          Backoff{Type: BackoffType(f["backoff_type"]), Delay: time.Duration(atoi(f["backoff_delay_ms"])) * time.Millisecond},
		RetainOnComplete: f["retain_complete"] == "1",
		RetainOnFail:     f["retain_fail"] == "1",
		FailedReason:     f["failed_reason"],
		CreatedAt:        millis(f["created_at"]),
		ProcessedAt:      millis(f["processed_at"]),
		FinishedAt:       millis(f["finished_at"]),
	}
	if p := f["payload"]; p != "" {
		job.Payload = json.RawMessage(p)
	}
	if r := f["result"]; r != "" {
		job.Result = json.RawMessage(r)
	}
	if t := f["stacktrace"]; t != "" {
		_ = json.Unmarshal([]byte(t), &job.Stacktrace)
	}
	return job
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func millis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
