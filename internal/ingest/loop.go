package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/votelab/votepipe/internal/metrics"
	"github.com/votelab/votepipe/internal/model"
	"github.com/votelab/votepipe/internal/supervisor"
)

// EventQueue is the slice of the queue adapter the loop consumes.
type EventQueue interface {
	Ready() bool
	TryPop(ctx context.Context) ([]byte, bool, error)
	Close() error
}

// VoteStore is the slice of the durable store the loop writes to.
type VoteStore interface {
	HealthCheck(ctx context.Context) bool
	UpsertVote(ctx context.Context, voterID string, choice model.Choice) error
	Close() error
}

// State of the ingestion loop. Transitions:
// Initializing -> Running -> (RecoveringQueue | RecoveringStore) -> Running.
type State int32

const (
	Initializing State = iota
	Running
	RecoveringQueue
	RecoveringStore
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case RecoveringQueue:
		return "recovering-queue"
	case RecoveringStore:
		return "recovering-store"
	}
	return "unknown"
}

const (
	// DefaultIdleInterval is the pause between iterations when the queue
	// is empty.
	DefaultIdleInterval = 100 * time.Millisecond
	// DefaultErrorThreshold is the run of consecutive processing errors
	// that escalates to a full reconnect of both adapters.
	DefaultErrorThreshold = 5
)

// Params wires a Loop. OpenQueue and OpenStore are handed to the
// connection supervisor, which retries them forever with backoff.
type Params struct {
	OpenQueue func(ctx context.Context) (EventQueue, error)
	OpenStore func(ctx context.Context) (VoteStore, error)
	Metrics   *metrics.WorkerMetrics

	IdleInterval   time.Duration
	ErrorThreshold int
}

// Loop drains vote events from the queue and upserts them into the
// durable store. It owns both adapter handles exclusively and heals
// each of them independently when it observes them unusable. The
// contract is at-least-once: an event popped right before a crash may
// be lost or reprocessed, which the idempotent upsert tolerates.
type Loop struct {
	openQueue func(ctx context.Context) (EventQueue, error)
	openStore func(ctx context.Context) (VoteStore, error)
	metrics   *metrics.WorkerMetrics

	idle      time.Duration
	threshold int

	state atomic.Int32

	queue EventQueue
	store VoteStore

	// pending is the popped event not yet durably stored. It is held
	// across store failures and reconnects so a transient outage never
	// drops an event that already left the queue.
	pending  *model.VoteEvent
	errCount int
}

func New(p Params) *Loop {
	if p.IdleInterval <= 0 {
		p.IdleInterval = DefaultIdleInterval
	}
	if p.ErrorThreshold <= 0 {
		p.ErrorThreshold = DefaultErrorThreshold
	}
	return &Loop{
		openQueue: p.OpenQueue,
		openStore: p.OpenStore,
		metrics:   p.Metrics,
		idle:      p.IdleInterval,
		threshold: p.ErrorThreshold,
	}
}

// State reports the loop's current state. Safe to call from other
// goroutines.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run drives the loop until ctx is cancelled. It returns nil on
// graceful shutdown and an error only for unrecoverable configuration
// failures, in which case the process should exit non-zero.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(Initializing)
	if err := l.acquireQueue(ctx); err != nil {
		return l.exit(ctx, err)
	}
	if err := l.acquireStore(ctx); err != nil {
		return l.exit(ctx, err)
	}
	l.setState(Running)
	log.Info("ingestion loop running")

	for {
		select {
		case <-ctx.Done():
			l.closeHandles()
			log.Info("ingestion loop stopped")
			return nil
		default:
		}

		if err := l.iterate(ctx); err != nil {
			return l.exit(ctx, err)
		}
	}
}

// iterate performs one Running-state step. A non-nil return means an
// unrecoverable acquisition failure bubbled up from the supervisor.
func (l *Loop) iterate(ctx context.Context) error {
	if !l.queue.Ready() {
		return l.recoverQueue(ctx)
	}

	if l.pending == nil {
		payload, ok, err := l.queue.TryPop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("queue pop failed")
			return l.recoverQueue(ctx)
		}
		if !ok {
			// Idle tick. Use the quiet moment to confirm the store is
			// still alive so a dead connection is noticed before the
			// next burst of events.
			if !l.store.HealthCheck(ctx) {
				if ctx.Err() != nil {
					return nil
				}
				return l.recoverStore(ctx)
			}
			l.sleep(ctx)
			return nil
		}

		event, err := model.ParseVoteEvent(payload)
		if err != nil {
			l.metrics.MalformedEvents.Inc()
			log.WithError(err).Warn("dropping malformed vote event")
			return nil
		}
		l.pending = &event
	}

	return l.process(ctx)
}

// process upserts the pending event, tracking the consecutive-error
// run and escalating to a full reset when it crosses the threshold.
func (l *Loop) process(ctx context.Context) error {
	start := time.Now()

	if !l.store.HealthCheck(ctx) {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.recoverStore(ctx); err != nil {
			return err
		}
	}

	event := *l.pending
	if err := l.store.UpsertVote(ctx, event.VoterID, event.Vote); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.errCount++
		l.metrics.UpsertFailures.Inc()
		l.metrics.ConsecutiveErrors.Set(float64(l.errCount))
		log.WithError(err).WithField("consecutive_errors", l.errCount).
			Warnf("failed to upsert vote for voter %s", event.VoterID)

		if l.errCount >= l.threshold {
			return l.fullReset(ctx)
		}
		return nil
	}

	l.pending = nil
	l.errCount = 0
	l.metrics.ConsecutiveErrors.Set(0)
	l.metrics.VotesDrained.WithLabelValues(string(event.Vote)).Inc()
	l.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	log.Debugf("recorded vote by %s for %s", event.VoterID, event.Vote)
	return nil
}

func (l *Loop) recoverQueue(ctx context.Context) error {
	l.setState(RecoveringQueue)
	l.metrics.QueueConnected.Set(0)
	if l.queue != nil {
		_ = l.queue.Close()
		l.queue = nil
	}
	if err := l.acquireQueue(ctx); err != nil {
		return err
	}
	l.setState(Running)
	return nil
}

func (l *Loop) recoverStore(ctx context.Context) error {
	l.setState(RecoveringStore)
	l.metrics.StoreConnected.Set(0)
	if l.store != nil {
		_ = l.store.Close()
		l.store = nil
	}
	if err := l.acquireStore(ctx); err != nil {
		return err
	}
	l.setState(Running)
	return nil
}

// fullReset treats a long run of processing errors as systemic: both
// handles are torn down and reacquired through the supervisor. The
// pending event survives the reset and is retried afterwards.
func (l *Loop) fullReset(ctx context.Context) error {
	log.Warnf("%d consecutive errors, reconnecting both adapters", l.errCount)
	l.metrics.FullResets.Inc()
	l.closeHandles()
	l.setState(Initializing)
	if err := l.acquireQueue(ctx); err != nil {
		return err
	}
	if err := l.acquireStore(ctx); err != nil {
		return err
	}
	l.errCount = 0
	l.metrics.ConsecutiveErrors.Set(0)
	l.setState(Running)
	return nil
}

func (l *Loop) acquireQueue(ctx context.Context) error {
	q, err := supervisor.Acquire(ctx, "vote queue", l.openQueue)
	if err != nil {
		return errors.WithMessage(err, "acquiring queue adapter")
	}
	l.queue = q
	l.metrics.QueueConnected.Set(1)
	return nil
}

func (l *Loop) acquireStore(ctx context.Context) error {
	s, err := supervisor.Acquire(ctx, "vote store", l.openStore)
	if err != nil {
		return errors.WithMessage(err, "acquiring store adapter")
	}
	l.store = s
	l.metrics.StoreConnected.Set(1)
	return nil
}

func (l *Loop) closeHandles() {
	if l.queue != nil {
		_ = l.queue.Close()
		l.queue = nil
	}
	if l.store != nil {
		_ = l.store.Close()
		l.store = nil
	}
	l.metrics.QueueConnected.Set(0)
	l.metrics.StoreConnected.Set(0)
}

// exit maps an acquisition failure to the loop's exit contract: nil
// when the context was cancelled (graceful shutdown), the error itself
// otherwise (fatal configuration problem).
func (l *Loop) exit(ctx context.Context, err error) error {
	l.closeHandles()
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Loop) sleep(ctx context.Context) {
	t := time.NewTimer(l.idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
