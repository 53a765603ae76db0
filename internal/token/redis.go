package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore keeps sessions as JSON values that expire with the session.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func redisKey(tokenHash string) string {
	return redisKeyPrefix + tokenHash
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("save session: already expired")
	}
	data, err := jsonEncode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKey(s.TokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Take uses GETDEL so the read and the delete are one atomic command.
func (r *RedisStore) Take(ctx context.Context, tokenHash string) (*Session, error) {
	data, err := r.client.GetDel(ctx, redisKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take session: %w", err)
	}
	return decodeSession(data)
}

func (r *RedisStore) Delete(ctx context.Context, tokenHash string) error {
	if err := r.client.Del(ctx, redisKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func jsonEncode(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*Session, error) {
	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}
