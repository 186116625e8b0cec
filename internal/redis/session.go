// Package redis caches login cookies so a restarted process can resume a
// session without a fresh cookie from the operator.
package redis

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fewk2/panbutler/internal/errval"
)

type SessionStore struct {
	RedisClient *redis.Client
	ttl         time.Duration
}

func NewSessionStore(dsn string, ttl time.Duration) (*SessionStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opts)
	return &SessionStore{
		RedisClient: redisClient,
		ttl:         ttl,
	}, nil
}

func sessionKey(account string) string {
	return "session_cookie:" + account
}

func (s *SessionStore) SaveSession(ctx context.Context, account, cookie string) error {
	return s.RedisClient.SetEx(ctx, sessionKey(account), cookie, s.ttl).Err()
}

func (s *SessionStore) LoadSession(ctx context.Context, account string) (string, error) {
	cookie, err := s.RedisClient.Get(ctx, sessionKey(account)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errval.ErrNotFound
		}
		return "", err
	}

	return cookie, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, account string) error {
	return s.RedisClient.Del(ctx, sessionKey(account)).Err()
}

func (s *SessionStore) Ping(ctx context.Context) (err error) {
	err = s.RedisClient.Ping(ctx).Err()
	return err
}

func (s *SessionStore) Close() (err error) {
	err = s.RedisClient.Close()
	return err
}
