package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	sessionKeyPrefix      = "sitegate-session||"
	adminSessionKeyPrefix = "sitegate-admin-sessions||"
	sessionsSetKey        = "sitegate-sessions"
	// token hash -> admin id, so a session redis expired on its own can
	// still be taken out of its admin's set
	sessionOwnersKey = "sitegate-session-owners"
)

var _ SessionStore = (*RedisSessionStore)(nil)

// RedisSessionStore keeps sessions in redis, so they survive restarts and can be
// shared. Every session key carries a native expiry equal to the session expiry.
type RedisSessionStore struct {
	redisClient *redis.Client
	now         func() time.Time
}

func NewRedisSessionStore(redisClient *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		redisClient: redisClient,
		now:         time.Now,
	}
}

func sessionKey(tokenHash string) string {
	return sessionKeyPrefix + tokenHash
}

func adminSessionsKey(adminID string) string {
	return adminSessionKeyPrefix + adminID
}

func encodeRecord(rec SessionRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *RedisSessionStore) Save(ctx context.Context, rec SessionRecord) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	value, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := s.redisClient.Set(ctx, sessionKey(rec.TokenHash), value, ttl).Err(); err != nil {
		return err
	}

	// add token hash to list of sessions
	if err := s.redisClient.SAdd(ctx, sessionsSetKey, rec.TokenHash).Err(); err != nil {
		return err
	}
	if err := s.redisClient.HSet(ctx, sessionOwnersKey, rec.TokenHash, rec.AdminID).Err(); err != nil {
		return err
	}
	if err := s.redisClient.SAdd(ctx, adminSessionsKey(rec.AdminID), rec.TokenHash).Err(); err != nil {
		return err
	}

	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, tokenHash string) (SessionRecord, error) {
	value, err := s.redisClient.Get(ctx, sessionKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionRecord{}, ErrSessionNotFound
		}
		return SessionRecord{}, err
	}

	var rec SessionRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return SessionRecord{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

func (s *RedisSessionStore) Touch(ctx context.Context, tokenHash string, lastSeen time.Time) error {
	rec, err := s.Get(ctx, tokenHash)
	if err != nil {
		return err
	}
	rec.LastSeenAt = lastSeen

	value, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// XX so a session deleted in the meantime is not brought back
	updated, err := s.redisClient.SetXX(ctx, sessionKey(tokenHash), value, redis.KeepTTL).Result()
	if err != nil {
		return err
	}
	if !updated {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, tokenHash string) error {
	rec, err := s.Get(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return s.remove(ctx, tokenHash, rec.AdminID)
}

func (s *RedisSessionStore) remove(ctx context.Context, tokenHash, adminID string) error {
	if err := s.redisClient.Del(ctx, sessionKey(tokenHash)).Err(); err != nil {
		return err
	}
	// remove token hash from the list of sessions
	if err := s.redisClient.SRem(ctx, sessionsSetKey, tokenHash).Err(); err != nil {
		return err
	}
	if err := s.redisClient.HDel(ctx, sessionOwnersKey, tokenHash).Err(); err != nil {
		return err
	}
	if adminID == "" {
		return nil
	}
	return s.redisClient.SRem(ctx, adminSessionsKey(adminID), tokenHash).Err()
}

func (s *RedisSessionStore) DeleteByAdmin(ctx context.Context, adminID string) (int, error) {
	tokenHashes, err := s.redisClient.SMembers(ctx, adminSessionsKey(adminID)).Result()
	if err != nil {
		return 0, err
	}

	for _, h := range tokenHashes {
		if err := s.redisClient.Del(ctx, sessionKey(h)).Err(); err != nil {
			return 0, err
		}
		if err := s.redisClient.SRem(ctx, sessionsSetKey, h).Err(); err != nil {
			return 0, err
		}
		if err := s.redisClient.HDel(ctx, sessionOwnersKey, h).Err(); err != nil {
			return 0, err
		}
	}

	if err := s.redisClient.Del(ctx, adminSessionsKey(adminID)).Err(); err != nil {
		return 0, err
	}

	return len(tokenHashes), nil
}

// DeleteExpired runs through all known sessions and drops the expired ones,
// including set members whose key redis has already expired. Those are taken
// out of their admin's set too, found through the owners hash.
func (s *RedisSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tokenHashes, err := s.redisClient.SMembers(ctx, sessionsSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("get sessions: %w", err)
	}

	removed := 0
	for _, h := range tokenHashes {
		rec, err := s.Get(ctx, h)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			owner, err := s.redisClient.HGet(ctx, sessionOwnersKey, h).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Errorf("=> redis session store, stale session owner: %s", err)
				continue
			}
			if err := s.remove(ctx, h, owner); err != nil {
				log.Errorf("=> redis session store, clean stale member: %s", err)
				continue
			}
			removed++
		case err != nil:
			log.Errorf("=> redis session store, scan session: %s", err)
		case rec.expired(now):
			if err := s.remove(ctx, h, rec.AdminID); err != nil {
				log.Errorf("=> redis session store, clean session: %s", err)
				continue
			}
			removed++
		}
	}

	return removed, nil
}

func (s *RedisSessionStore) Count(ctx context.Context) (int, error) {
	count, err := s.redisClient.SCard(ctx, sessionsSetKey).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
