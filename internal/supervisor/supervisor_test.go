package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votelab/votepipe/internal/config"
)

func TestAcquireImmediateSuccess(t *testing.T) {
	calls := 0
	got, err := Acquire(context.Background(), "thing", func(ctx context.Context) (string, error) {
		calls++
		return "resource", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resource", got)
	assert.Equal(t, 1, calls)
}

func TestAcquireRetriesUntilSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("waits through real backoff delays")
	}

	calls := 0
	start := time.Now()
	got, err := Acquire(context.Background(), "thing", func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, fmt.Errorf("connection refused")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
	// One failure means one backoff delay before the second attempt.
	assert.GreaterOrEqual(t, time.Since(start), InitialDelay)
}

func TestAcquireConfigurationErrorIsNotRetried(t *testing.T) {
	calls := 0
	cfgErr := &config.Error{Field: "DATABASE_PORT", Reason: "not an integer"}

	_, err := Acquire(context.Background(), "store", func(ctx context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("opening store: %w", cfgErr)
	})
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*config.Error))
	assert.Equal(t, 1, calls, "configuration errors must fail immediately")
}

func TestAcquireStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Acquire(ctx, "thing", func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("still down")
	})
	require.Error(t, err)
	// Cancellation must cut the backoff wait short.
	assert.Less(t, time.Since(start), InitialDelay)
}
