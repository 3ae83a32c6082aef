//go:build integration_test || all_tests

package site

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/2beens/sitegate/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoolSetup(t *testing.T) *pgxpool.Pool {
	t.Helper()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	t.Logf("using postres host: %s", host)

	dbPool, err := db.NewDBPool(timeoutCtx, db.NewDBPoolParams{
		DBHost: host,
		DBPort: "5432",
		DBName: "personal_site",
	})
	require.NoError(t, err)
	require.NoError(t, db.ApplySchema(timeoutCtx, dbPool))

	_, err = dbPool.Exec(timeoutCtx, `DELETE FROM contact_message; DELETE FROM newsletter_subscriber;`)
	require.NoError(t, err)

	t.Cleanup(dbPool.Close)
	return dbPool
}

func TestPsqlContactRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewPsqlContactRepo(testPoolSetup(t))

	msg, err := repo.Add(ctx, &ContactMessage{
		Name:      "Vera",
		Email:     "vera@example.org",
		Subject:   "Hello",
		Message:   "Nice site",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	})
	require.NoError(t, err)
	require.Positive(t, msg.ID)

	require.NoError(t, repo.MarkRead(ctx, msg.ID))
	require.NoError(t, repo.MarkReplied(ctx, msg.ID, time.Now()))

	stored, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nice site", stored.Message)
	assert.True(t, stored.Read)
	assert.NotNil(t, stored.RepliedAt)

	_, err = repo.Get(ctx, msg.ID+1000)
	assert.ErrorIs(t, err, ErrContactNotFound)
	assert.ErrorIs(t, repo.MarkRead(ctx, msg.ID+1000), ErrContactNotFound)
}

func TestPsqlSubscriberRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewPsqlSubscriberRepo(testPoolSetup(t))
	now := time.Now()

	require.NoError(t, repo.Subscribe(ctx, "a@example.org", "A", now))
	require.NoError(t, repo.Subscribe(ctx, "b@example.org", "", now.Add(time.Second)))
	assert.ErrorIs(t, repo.Subscribe(ctx, "a@example.org", "A", now), ErrAlreadySubscribed)

	require.NoError(t, repo.Unsubscribe(ctx, "a@example.org", now))
	assert.ErrorIs(t, repo.Unsubscribe(ctx, "a@example.org", now), ErrSubscriberNotFound)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b@example.org", active[0].Email)

	require.NoError(t, repo.Subscribe(ctx, "a@example.org", "A again", now.Add(2*time.Second)))
	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a@example.org", active[1].Email)
	assert.Nil(t, active[1].UnsubscribedAt)
}
