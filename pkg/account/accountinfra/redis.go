package accountinfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/coagline/coagline/pkg/account"
)

const (
	tokenKeyPrefix = "coagline:email-change:token:"
	indexKeyPrefix = "coagline:email-change:account:"
)

// RedisTokenStore implements account.TokenStore on Redis. The TTL on both
// keys is the only expiry mechanism; there is no sweeper.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

var _ account.TokenStore = (*RedisTokenStore)(nil)

func (s *RedisTokenStore) Put(ctx context.Context, token string, change account.PendingEmailChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshaling pending email change: %w", err)
	}

	indexKey := indexKeyPrefix + string(change.AccountID)

	// Drop the account's previous token so only the newest link works.
	prev, err := s.client.GetDel(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clearing previous email-change token: %w", err)
	}
	if prev != "" {
		if err := s.client.Del(ctx, tokenKeyPrefix+prev).Err(); err != nil {
			return fmt.Errorf("deleting previous email-change token: %w", err)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+token, payload, account.EmailChangeTTL)
	pipe.Set(ctx, indexKey, token, account.EmailChangeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing email-change token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Take(ctx context.Context, token string) (*account.PendingEmailChange, error) {
	payload, err := s.client.GetDel(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, account.ErrInvalidToken()
		}
		return nil, fmt.Errorf("taking email-change token: %w", err)
	}

	var change account.PendingEmailChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return nil, fmt.Errorf("unmarshaling pending email change: %w", err)
	}

	// Best effort; the index expires on its own either way.
	s.client.Del(ctx, indexKeyPrefix+string(change.AccountID))

	return &change, nil
}
