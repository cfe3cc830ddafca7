package tabulate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/votelab/votepipe/internal/metrics"
	"github.com/votelab/votepipe/internal/model"
)

// TallySource is the slice of the durable store the broadcaster reads.
type TallySource interface {
	Tally(ctx context.Context) (model.Tally, error)
}

// DefaultInterval is the broadcast tick period.
const DefaultInterval = time.Second

// Broadcaster polls the aggregate tally on a fixed period and pushes it
// to every live subscriber. Plain polling keeps it fully decoupled from
// the ingestion loop; the two share nothing but the database.
type Broadcaster struct {
	source   TallySource
	hub      Hub
	metrics  *metrics.WorkerMetrics
	interval time.Duration

	mu   sync.RWMutex
	last model.Tally
}

// Hub is the fan-out the broadcaster publishes into.
type Hub interface {
	Broadcast(payload []byte)
}

func New(source TallySource, hub Hub, m *metrics.WorkerMetrics, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{source: source, hub: hub, metrics: m, interval: interval}
}

// Last returns the most recently computed tally.
func (b *Broadcaster) Last() model.Tally {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// Run ticks until ctx is cancelled. A failed read skips the tick and
// keeps the previous tally; it never stops the broadcaster.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	log.Infof("tabulation broadcaster running, tick every %s", b.interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("tabulation broadcaster stopped")
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context) {
	tally, err := b.source.Tally(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("tally read failed, skipping tick")
		}
		return
	}
	b.mu.Lock()
	b.last = tally
	b.mu.Unlock()

	payload, err := json.Marshal(tally)
	if err != nil {
		log.WithError(err).Error("failed to encode tally")
		return
	}
	b.hub.Broadcast(payload)

	b.metrics.TallyBroadcasts.Inc()
	b.metrics.VotesByOption.WithLabelValues(string(model.ChoiceA)).Set(float64(tally.A))
	b.metrics.VotesByOption.WithLabelValues(string(model.ChoiceB)).Set(float64(tally.B))
}
