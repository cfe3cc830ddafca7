package ingest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votelab/votepipe/internal/config"
	"github.com/votelab/votepipe/internal/metrics"
	"github.com/votelab/votepipe/internal/model"
	"github.com/votelab/votepipe/internal/pubsub"
	"github.com/votelab/votepipe/internal/queue"
	"github.com/votelab/votepipe/internal/tabulate"
)

// Tally lets the fake store double as the broadcaster's source.
func (s *fakeStore) Tally(ctx context.Context) (model.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t model.Tally
	for _, choice := range s.records {
		switch choice {
		case model.ChoiceA:
			t.A++
		case model.ChoiceB:
			t.B++
		}
	}
	return t, nil
}

// Full path: events pushed through the real queue adapter are drained
// by the loop, collapsed by the upsert, and the broadcaster publishes
// the resulting tally.
func TestPipelineEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	redisCfg := config.Redis{Host: mr.Host(), Port: port, Key: "votes"}

	ctx := context.Background()
	producer, err := queue.Connect(ctx, redisCfg)
	require.NoError(t, err)
	defer producer.Close()

	events := []model.VoteEvent{
		{VoterID: "v1", Vote: model.ChoiceA},
		{VoterID: "v2", Vote: model.ChoiceB},
		{VoterID: "v1", Vote: model.ChoiceB},
	}
	for _, e := range events {
		require.NoError(t, producer.Push(ctx, e))
	}

	s := newFakeStore()
	m := metrics.NewWorkerMetrics(prometheus.NewRegistry(), "test")
	loop := New(Params{
		OpenQueue: func(ctx context.Context) (EventQueue, error) {
			return queue.Connect(ctx, redisCfg)
		},
		OpenStore: func(ctx context.Context) (VoteStore, error) {
			return s, nil
		},
		Metrics:      m,
		IdleInterval: time.Millisecond,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(runCtx) }()

	require.Eventually(t, func() bool { return s.calls() >= 3 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, map[string]model.Choice{
		"v1": model.ChoiceB,
		"v2": model.ChoiceB,
	}, s.snapshot())

	hub := pubsub.NewHub()
	go hub.Run(runCtx)
	sub := hub.Subscribe()
	go tabulate.New(s, hub, m, 10*time.Millisecond).Run(runCtx)

	select {
	case payload := <-sub.Send:
		assert.JSONEq(t, `{"a":0,"b":2}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("no tally broadcast received")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}
