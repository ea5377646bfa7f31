package redisqueue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultPrefix       = "tq"
	defaultPollInterval = 500 * time.Millisecond
)

type Config struct {
	Prefix       string
	PollInterval time.Duration
	// Now is the queue clock. Defaults to time.Now.
	Now func() time.Time
}

// Queue is a durable queue kept in Redis. Waiting ids live in a list, active
// ids in a sorted set scored by visibility deadline, retries in a sorted set
// scored by ready time. Finished messages stay in the completed and failed
// sets with their hashes for later inspection.
type Queue struct {
	client redis.UniversalClient
	name   string
	policy queue.Policy
	poll   time.Duration
	now    func() time.Time

	waitKey      string
	activeKey    string
	delayedKey   string
	completedKey string
	failedKey    string
	msgPrefix    string

	closeOnce sync.Once
	closed    chan struct{}
}

func New(client redis.UniversalClient, name string, policy queue.Policy, cfg Config) (*Queue, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	base := prefix + ":" + name
	return &Queue{
		client:       client,
		name:         name,
		policy:       policy,
		poll:         poll,
		now:          now,
		waitKey:      base + ":wait",
		activeKey:    base + ":active",
		delayedKey:   base + ":delayed",
		completedKey: base + ":completed",
		failedKey:    base + ":failed",
		msgPrefix:    base + ":msg:",
		closed:       make(chan struct{}),
	}, nil
}

// Factory opens registry queues on a shared client.
func Factory(client redis.UniversalClient, cfg Config) queue.Factory {
	return func(name string, policy queue.Policy) (queue.Queue, error) {
		return New(client, name, policy, cfg)
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) msgKey(id string) string {
	return q.msgPrefix + id
}

func (q *Queue) nowMillis() int64 {
	return q.now().UnixMilli()
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *Queue) Publish(ctx context.Context, payload []byte, opts queue.Options) (string, error) {
	if q.isClosed() {
		return "", queue.ErrClosed
	}
	id := opts.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	p := q.policy.WithOptions(opts)
	_, err := publishScript.Run(ctx, q.client,
		[]string{q.waitKey, q.msgKey(id)},
		id, payload, p.Attempts, p.BackoffBase.Milliseconds(), q.nowMillis(),
	).Result()
	if err != nil {
		return "", errors.Wrapf(err, "redisqueue.Publish.%s", q.name)
	}
	return id, nil
}

// Consume polls until a message is claimed, ctx is done or the queue is closed.
func (q *Queue) Consume(ctx context.Context) (queue.Delivery, error) {
	for {
		if q.isClosed() {
			return nil, queue.ErrClosed
		}
		d, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.closed:
			timer.Stop()
			return nil, queue.ErrClosed
		case <-timer.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context) (*delivery, error) {
	token := uuid.NewString()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.waitKey, q.activeKey, q.delayedKey, q.failedKey},
		q.nowMillis(), q.policy.Visibility.Milliseconds(), token, q.msgPrefix,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redisqueue.Consume.%s", q.name)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return nil, fmt.Errorf("redisqueue.Consume.%s: unexpected reply %v", q.name, res)
	}
	id, _ := vals[0].(string)
	payload, _ := vals[1].(string)
	attempt, _ := strconv.Atoi(fmt.Sprint(vals[2]))
	maxAttempts, _ := strconv.Atoi(fmt.Sprint(vals[3]))
	return &delivery{
		q:           q,
		id:          id,
		payload:     []byte(payload),
		attempt:     attempt,
		maxAttempts: maxAttempts,
		token:       token,
	}, nil
}

func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	pipe := q.client.TxPipeline()
	waiting := pipe.LLen(ctx, q.waitKey)
	active := pipe.ZCard(ctx, q.activeKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	completed := pipe.ZCard(ctx, q.completedKey)
	failed := pipe.ZCard(ctx, q.failedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Stats{}, errors.Wrapf(err, "redisqueue.Stats.%s", q.name)
	}
	return queue.Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (q *Queue) Lookup(ctx context.Context, id string) (*queue.MessageInfo, error) {
	fields, err := q.client.HGetAll(ctx, q.msgKey(id)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redisqueue.Lookup.%s", q.name)
	}
	if len(fields) == 0 {
		return nil, queue.ErrNotFound
	}
	info := &queue.MessageInfo{
		ID:           id,
		State:        queue.State(fields["state"]),
		Payload:      []byte(fields["payload"]),
		FailedReason: fields["failed_reason"],
	}
	info.Attempts, _ = strconv.Atoi(fields["attempts"])
	info.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	info.Progress, _ = strconv.ParseFloat(fields["progress"], 64)
	info.ProcessedOn = parseMillis(fields["processed_on"])
	info.FinishedOn = parseMillis(fields["finished_on"])
	return info, nil
}

func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

func parseMillis(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

type delivery struct {
	q           *Queue
	id          string
	payload     []byte
	attempt     int
	maxAttempts int
	token       string
}

func (d *delivery) ID() string       { return d.id }
func (d *delivery) Payload() []byte  { return d.payload }
func (d *delivery) Attempt() int     { return d.attempt }
func (d *delivery) MaxAttempts() int { return d.maxAttempts }

func (d *delivery) fenced(ctx context.Context, script *redis.Script, op string, keys []string, extra ...interface{}) (interface{}, error) {
	args := append([]interface{}{d.id, d.token, d.q.nowMillis()}, extra...)
	res, err := script.Run(ctx, d.q.client, keys, args...).Result()
	if err == redis.Nil {
		return nil, queue.ErrLostDelivery
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redisqueue.%s.%s", op, d.q.name)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return nil, queue.ErrLostDelivery
	}
	return res, nil
}

func (d *delivery) Progress(ctx context.Context, percent float64) error {
	_, err := d.fenced(ctx, progressScript, "Progress",
		[]string{d.q.activeKey, d.q.msgKey(d.id)},
		strconv.FormatFloat(percent, 'f', 2, 64),
	)
	return err
}

func (d *delivery) Extend(ctx context.Context) error {
	_, err := d.fenced(ctx, extendScript, "Extend",
		[]string{d.q.activeKey, d.q.msgKey(d.id)},
		d.q.policy.Visibility.Milliseconds(),
	)
	return err
}

func (d *delivery) Ack(ctx context.Context) error {
	_, err := d.fenced(ctx, ackScript, "Ack",
		[]string{d.q.activeKey, d.q.msgKey(d.id), d.q.completedKey},
	)
	return err
}

func (d *delivery) Nack(ctx context.Context, cause error, retry bool) (queue.State, error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	flag := "0"
	if retry {
		flag = "1"
	}
	res, err := d.fenced(ctx, nackScript, "Nack",
		[]string{d.q.activeKey, d.q.msgKey(d.id), d.q.delayedKey, d.q.failedKey},
		flag, reason,
	)
	if err != nil {
		return "", err
	}
	state, _ := res.(string)
	return queue.State(state), nil
}
