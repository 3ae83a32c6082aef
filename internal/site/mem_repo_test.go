package site

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSubscriberRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemSubscriberRepo()
	now := time.Now()

	var emails []string
	for i := 0; i < 5; i++ {
		email, err := NormalizeEmail(gofakeit.Email())
		require.NoError(t, err)
		emails = append(emails, email)
		require.NoError(t, repo.Subscribe(ctx, email, gofakeit.Name(), now))
	}

	assert.ErrorIs(t, repo.Subscribe(ctx, emails[0], "", now), ErrAlreadySubscribed)

	require.NoError(t, repo.Unsubscribe(ctx, emails[1], now))
	assert.ErrorIs(t, repo.Unsubscribe(ctx, emails[1], now), ErrSubscriberNotFound)
	assert.ErrorIs(t, repo.Unsubscribe(ctx, "nobody@example.org", now), ErrSubscriberNotFound)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 4)
	for _, s := range active {
		assert.NotEqual(t, emails[1], s.Email)
		assert.True(t, s.Active)
	}

	// resubscribe reactivates with the same id
	require.NoError(t, repo.Subscribe(ctx, emails[1], "Back Again", now))
	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 5)
	assert.Equal(t, emails[1], active[1].Email)
	assert.Equal(t, "Back Again", active[1].Name)
	assert.Nil(t, active[1].UnsubscribedAt)
}

func TestMemContactRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemContactRepo()

	_, err := repo.Add(ctx, &ContactMessage{Email: "a@example.org"})
	require.Error(t, err)

	msg, err := repo.Add(ctx, &ContactMessage{
		Name:      gofakeit.Name(),
		Email:     "a@example.org",
		Subject:   "Hi",
		Message:   gofakeit.Sentence(8),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, msg.ID)

	require.NoError(t, repo.MarkRead(ctx, msg.ID))
	repliedAt := time.Now()
	require.NoError(t, repo.MarkReplied(ctx, msg.ID, repliedAt))

	stored, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Read)
	require.NotNil(t, stored.RepliedAt)
	assert.Equal(t, repliedAt, *stored.RepliedAt)

	assert.ErrorIs(t, repo.MarkRead(ctx, 42), ErrContactNotFound)
	_, err = repo.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestNormalizeEmail(t *testing.T) {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Reader@Example.org", want: "reader@example.org"},
		{in: "  a.b+c@example.org ", want: "a.b+c@example.org"},
		{in: "", wantErr: true},
		{in: "not-an-email", wantErr: true},
		{in: "Reader <reader@example.org>", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeEmail(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEmail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
