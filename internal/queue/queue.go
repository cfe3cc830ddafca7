package queue

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/votelab/votepipe/internal/config"
	"github.com/votelab/votepipe/internal/model"
)

// Error wraps any failure talking to the queue. The consumer treats it
// as a signal to reconnect rather than retry the same handle.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Queue is a handle on the list-backed vote queue. Producers push onto
// the tail, the worker pops from the head, so the list behaves as a
// FIFO. A handle that has seen an I/O failure flips to not-ready and
// fails fast until it is replaced.
type Queue struct {
	client *redis.Client
	key    string

	mu    sync.Mutex
	ready bool
}

// Connect resolves the queue host, opens a client and verifies it with
// a ping. Host resolution is checked explicitly because container DNS
// can lag service startup; the supervisor retries resolution failures
// like any other connect failure.
func Connect(ctx context.Context, cfg config.Redis) (*Queue, error) {
	if _, err := net.DefaultResolver.LookupHost(ctx, cfg.Host); err != nil {
		return nil, &Error{Op: "resolve", Err: err}
	}

	c := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: 5 * time.Second,
		ReadTimeout: 5 * time.Second,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, &Error{Op: "ping", Err: err}
	}

	return &Queue{client: c, key: cfg.Key, ready: true}, nil
}

func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

func (q *Queue) markNotReady() {
	q.mu.Lock()
	q.ready = false
	q.mu.Unlock()
}

// TryPop takes the next entry off the head of the queue without
// blocking. The second return is false when the queue is empty; the
// caller supplies its own idle delay.
func (q *Queue) TryPop(ctx context.Context) ([]byte, bool, error) {
	if !q.Ready() {
		return nil, false, &Error{Op: "pop", Err: errNotReady}
	}
	payload, err := q.client.LPop(ctx, q.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		q.markNotReady()
		return nil, false, &Error{Op: "pop", Err: err}
	}
	return payload, true, nil
}

// Push appends a vote event to the tail of the queue. Used by the vote
// front end and the load generator; the worker only pops.
func (q *Queue) Push(ctx context.Context, event model.VoteEvent) error {
	if !q.Ready() {
		return &Error{Op: "push", Err: errNotReady}
	}
	payload, err := event.Encode()
	if err != nil {
		return &Error{Op: "push", Err: err}
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		q.markNotReady()
		return &Error{Op: "push", Err: err}
	}
	return nil
}

// Len reports the number of entries currently waiting in the queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, &Error{Op: "llen", Err: err}
	}
	return n, nil
}

// Check implements health.Checker.
func (q *Queue) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.client.Ping(ctx).Err(); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

func (q *Queue) Close() error {
	q.markNotReady()
	if err := q.client.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

var errNotReady = fmt.Errorf("handle not ready")
