package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/votelab/votepipe/internal/model"
)

// setupStore starts a throwaway postgres and returns a connected Store.
// Requires a Docker daemon; skipped in -short runs.
func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("votes"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, EnsureSchema(ctx, db))
	// Calling it twice must be harmless; it runs on every reconnect.
	require.NoError(t, EnsureSchema(ctx, db))

	return NewWithDB(db)
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVote(ctx, "v1", model.ChoiceA))
	require.NoError(t, s.UpsertVote(ctx, "v1", model.ChoiceA))

	tally, err := s.Tally(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Tally{A: 1, B: 0}, tally)
}

func TestUpsertLastWriteWins(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVote(ctx, "v1", model.ChoiceA))
	require.NoError(t, s.UpsertVote(ctx, "v1", model.ChoiceB))

	tally, err := s.Tally(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Tally{A: 0, B: 1}, tally, "the later choice must replace the earlier one")
}

func TestTallyCountsByChoice(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	voters := []struct {
		id     string
		choice model.Choice
	}{
		{"v1", model.ChoiceA},
		{"v2", model.ChoiceA},
		{"v3", model.ChoiceA},
		{"v4", model.ChoiceB},
		{"v5", model.ChoiceB},
	}
	for _, v := range voters {
		require.NoError(t, s.UpsertVote(ctx, v.id, v.choice))
	}

	tally, err := s.Tally(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Tally{A: 3, B: 2}, tally)
}

func TestTallyEmptyStore(t *testing.T) {
	s := setupStore(t)

	tally, err := s.Tally(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Tally{}, tally)
}

func TestHealthCheck(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	assert.True(t, s.HealthCheck(ctx))
	assert.NoError(t, s.Check())

	require.NoError(t, s.Close())
	assert.False(t, s.HealthCheck(ctx), "a closed handle must report unhealthy, not error")
}
