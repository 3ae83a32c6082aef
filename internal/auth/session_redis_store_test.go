package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2beens/sitegate/pkg"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisSessionStore, redismock.ClientMock, time.Time) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := NewRedisSessionStore(rdb)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func testRecord(now time.Time, hash, adminID string, ttl time.Duration) SessionRecord {
	return SessionRecord{
		TokenHash:  hash,
		AdminID:    adminID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
	}
}

func TestRedisSessionStore_SaveGet(t *testing.T) {
	store, mock, now := newTestRedisStore(t)
	ctx := context.Background()

	rec := testRecord(now, "hash1", "serj", time.Hour)
	value, err := encodeRecord(rec)
	require.NoError(t, err)

	mock.ExpectSet(sessionKey("hash1"), value, time.Hour).SetVal("OK")
	mock.ExpectSAdd(sessionsSetKey, "hash1").SetVal(1)
	mock.ExpectHSet(sessionOwnersKey, "hash1", "serj").SetVal(1)
	mock.ExpectSAdd(adminSessionsKey("serj"), "hash1").SetVal(1)
	require.NoError(t, store.Save(ctx, rec))

	mock.ExpectGet(sessionKey("hash1")).SetVal(value)
	got, err := store.Get(ctx, "hash1")
	require.NoError(t, err)
	assert.Equal(t, "serj", got.AdminID)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))

	mock.ExpectGet(sessionKey("missing")).RedisNil()
	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSessionStore_Save_Expired(t *testing.T) {
	store, _, now := newTestRedisStore(t)
	err := store.Save(context.Background(), testRecord(now, "hash1", "serj", -time.Minute))
	require.Error(t, err)
}

func TestRedisSessionStore_Touch(t *testing.T) {
	store, mock, now := newTestRedisStore(t)
	ctx := context.Background()

	rec := testRecord(now, "hash1", "serj", time.Hour)
	value, err := encodeRecord(rec)
	require.NoError(t, err)

	touched := rec
	touched.LastSeenAt = now.Add(time.Minute)
	touchedValue, err := encodeRecord(touched)
	require.NoError(t, err)

	mock.ExpectGet(sessionKey("hash1")).SetVal(value)
	mock.ExpectSetXX(sessionKey("hash1"), touchedValue, redis.KeepTTL).SetVal(true)
	require.NoError(t, store.Touch(ctx, "hash1", now.Add(time.Minute)))

	// key vanished between get and set
	mock.ExpectGet(sessionKey("hash1")).SetVal(value)
	mock.ExpectSetXX(sessionKey("hash1"), touchedValue, redis.KeepTTL).SetVal(false)
	assert.ErrorIs(t, store.Touch(ctx, "hash1", now.Add(time.Minute)), ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSessionStore_Delete(t *testing.T) {
	store, mock, now := newTestRedisStore(t)
	ctx := context.Background()

	value, err := encodeRecord(testRecord(now, "hash1", "serj", time.Hour))
	require.NoError(t, err)

	mock.ExpectGet(sessionKey("hash1")).SetVal(value)
	mock.ExpectDel(sessionKey("hash1")).SetVal(1)
	mock.ExpectSRem(sessionsSetKey, "hash1").SetVal(1)
	mock.ExpectHDel(sessionOwnersKey, "hash1").SetVal(1)
	mock.ExpectSRem(adminSessionsKey("serj"), "hash1").SetVal(1)
	require.NoError(t, store.Delete(ctx, "hash1"))

	// idempotent
	mock.ExpectGet(sessionKey("hash1")).RedisNil()
	require.NoError(t, store.Delete(ctx, "hash1"))

	mock.ExpectGet(sessionKey("hash2")).SetErr(errors.New("conn refused"))
	require.Error(t, store.Delete(ctx, "hash2"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSessionStore_DeleteByAdmin(t *testing.T) {
	store, mock, _ := newTestRedisStore(t)
	ctx := context.Background()

	mock.ExpectSMembers(adminSessionsKey("serj")).SetVal([]string{"h1", "h2"})
	mock.ExpectDel(sessionKey("h1")).SetVal(1)
	mock.ExpectSRem(sessionsSetKey, "h1").SetVal(1)
	mock.ExpectHDel(sessionOwnersKey, "h1").SetVal(1)
	mock.ExpectDel(sessionKey("h2")).SetVal(0)
	mock.ExpectSRem(sessionsSetKey, "h2").SetVal(0)
	mock.ExpectHDel(sessionOwnersKey, "h2").SetVal(0)
	mock.ExpectDel(adminSessionsKey("serj")).SetVal(1)

	removed, err := store.DeleteByAdmin(ctx, "serj")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSessionStore_DeleteExpired(t *testing.T) {
	store, mock, now := newTestRedisStore(t)
	ctx := context.Background()

	// created 2h ago with a 1h ttl, key still around
	oldValue, err := encodeRecord(testRecord(now.Add(-2*time.Hour), "old", "serj", time.Hour))
	require.NoError(t, err)
	freshValue, err := encodeRecord(testRecord(now, "fresh", "serj", time.Hour))
	require.NoError(t, err)

	mock.ExpectSMembers(sessionsSetKey).SetVal([]string{"old", "fresh", "gone", "orphan"})
	mock.ExpectGet(sessionKey("old")).SetVal(oldValue)
	mock.ExpectDel(sessionKey("old")).SetVal(1)
	mock.ExpectSRem(sessionsSetKey, "old").SetVal(1)
	mock.ExpectHDel(sessionOwnersKey, "old").SetVal(1)
	mock.ExpectSRem(adminSessionsKey("serj"), "old").SetVal(1)
	mock.ExpectGet(sessionKey("fresh")).SetVal(freshValue)
	// natively expired by redis, the admin set still has to lose it
	mock.ExpectGet(sessionKey("gone")).RedisNil()
	mock.ExpectHGet(sessionOwnersKey, "gone").SetVal("serj")
	mock.ExpectDel(sessionKey("gone")).SetVal(0)
	mock.ExpectSRem(sessionsSetKey, "gone").SetVal(1)
	mock.ExpectHDel(sessionOwnersKey, "gone").SetVal(1)
	mock.ExpectSRem(adminSessionsKey("serj"), "gone").SetVal(1)
	// no owner recorded, only the global set member goes
	mock.ExpectGet(sessionKey("orphan")).RedisNil()
	mock.ExpectHGet(sessionOwnersKey, "orphan").RedisNil()
	mock.ExpectDel(sessionKey("orphan")).SetVal(0)
	mock.ExpectSRem(sessionsSetKey, "orphan").SetVal(1)
	mock.ExpectHDel(sessionOwnersKey, "orphan").SetVal(0)

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	mock.ExpectSCard(sessionsSetKey).SetVal(1)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionManager_WithRedisStore(t *testing.T) {
	store, mock, now := newTestRedisStore(t)
	ctx := context.Background()

	m := NewSessionManager(SessionManagerParams{Store: store, TTL: time.Hour})
	m.now = func() time.Time { return now }
	m.RandStringFunc = func(int) (string, error) {
		return "test_token", nil
	}

	hash := pkg.SHA256Hex("test_token")
	rec := testRecord(now, hash, "serj", time.Hour)
	value, err := encodeRecord(rec)
	require.NoError(t, err)

	mock.ExpectSet(sessionKey(hash), value, time.Hour).SetVal("OK")
	mock.ExpectSAdd(sessionsSetKey, hash).SetVal(1)
	mock.ExpectHSet(sessionOwnersKey, hash, "serj").SetVal(1)
	mock.ExpectSAdd(adminSessionsKey("serj"), hash).SetVal(1)
	s, err := m.Create(ctx, "serj")
	require.NoError(t, err)
	assert.Equal(t, "test_token", s.Token)

	// store errors collapse into an invalid session
	mock.ExpectGet(sessionKey(hash)).SetErr(errors.New("conn refused"))
	_, err = m.Resolve(ctx, "test_token")
	assert.Equal(t, ErrSessionInvalid, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
