package taskstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slackreports/pkg/models"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	url := os.Getenv("SLACKREPORTS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SLACKREPORTS_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, Schema)
	require.NoError(t, err)
	return pool
}

func TestPostgres_Lifecycle(t *testing.T) {
	exerciseLifecycle(t, NewPostgres(testPool(t)))
}

func TestPostgres_Failure(t *testing.T) {
	exerciseFailure(t, NewPostgres(testPool(t)))
}

func TestPostgres_ResultIsJSON(t *testing.T) {
	ctx := context.Background()
	store := NewPostgres(testPool(t))

	id, err := store.Create(ctx, models.KindSummarizeThread)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, id, models.SummaryResult{Summary: "short"}))

	status, err := store.Get(ctx, id)
	require.NoError(t, err)
	raw, ok := status.Result.(json.RawMessage)
	require.True(t, ok)

	var decoded models.SummaryResult
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "short", decoded.Summary)
}

func TestPostgres_MalformedID(t *testing.T) {
	store := NewPostgres(testPool(t))
	_, err := store.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}
