package tabulate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votelab/votepipe/internal/metrics"
	"github.com/votelab/votepipe/internal/model"
)

// scriptedSource returns each queued result once, then repeats the last.
type scriptedSource struct {
	mu      sync.Mutex
	results []result
}

type result struct {
	tally model.Tally
	err   error
}

func (s *scriptedSource) Tally(ctx context.Context) (model.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return head.tally, head.err
}

type captureHub struct {
	mu       sync.Mutex
	payloads []string
}

func (h *captureHub) Broadcast(payload []byte) {
	h.mu.Lock()
	h.payloads = append(h.payloads, string(payload))
	h.mu.Unlock()
}

func (h *captureHub) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.payloads))
	copy(out, h.payloads)
	return out
}

func newTestMetrics() *metrics.WorkerMetrics {
	return metrics.NewWorkerMetrics(prometheus.NewRegistry(), "test")
}

func TestBroadcastsTallyEachTick(t *testing.T) {
	source := &scriptedSource{results: []result{
		{tally: model.Tally{A: 0, B: 2}},
	}}
	hub := &captureHub{}
	m := newTestMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(source, hub, m, 10*time.Millisecond).Run(ctx)

	require.Eventually(t, func() bool { return len(hub.seen()) >= 2 }, 5*time.Second, time.Millisecond)
	cancel()

	assert.JSONEq(t, `{"a":0,"b":2}`, hub.seen()[0])
	assert.Equal(t, float64(0), testutil.ToFloat64(m.VotesByOption.WithLabelValues("a")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.VotesByOption.WithLabelValues("b")))
}

func TestFailedReadSkipsTickAndKeepsLastTally(t *testing.T) {
	source := &scriptedSource{results: []result{
		{tally: model.Tally{A: 3, B: 1}},
		{err: fmt.Errorf("connection lost")},
		{err: fmt.Errorf("connection lost")},
		{tally: model.Tally{A: 4, B: 1}},
	}}
	hub := &captureHub{}
	m := newTestMetrics()
	b := New(source, hub, m, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.Eventually(t, func() bool {
		seen := hub.seen()
		return len(seen) >= 2 && seen[len(seen)-1] == `{"a":4,"b":1}`
	}, 5*time.Second, time.Millisecond)
	cancel()

	// Failed ticks broadcast nothing; the last good value carries over.
	seen := hub.seen()
	assert.Equal(t, `{"a":3,"b":1}`, seen[0])
	for _, payload := range seen {
		assert.NotContains(t, payload, "connection lost")
	}
	assert.Equal(t, model.Tally{A: 4, B: 1}, b.Last())
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &scriptedSource{results: []result{{tally: model.Tally{}}}}
	m := newTestMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(source, &captureHub{}, m, time.Millisecond).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcaster did not stop on cancel")
	}
}
