package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides Redis operations
type RedisService struct {
	client *redis.Client
}

// NewRedisService wraps client. A nil client yields a nil service; callers
// treat a nil *RedisService as "feature disabled".
func NewRedisService(client *redis.Client) *RedisService {
	if client == nil {
		return nil
	}
	return &RedisService{client: client}
}

// Allow counts one attempt against a fixed window and reports whether the
// attempt is within limit.
func (r *RedisService) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("rate_limit:%s:%s", scope, subject)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

// MarkEventSeen records a webhook event id for ttl. It reports true when the
// id had already been recorded.
func (r *RedisService) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("webhook_event:%s", eventID)
	set, err := r.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// ForgetEvent removes a webhook event id so a redelivery is processed again
func (r *RedisService) ForgetEvent(ctx context.Context, eventID string) error {
	return r.client.Del(ctx, fmt.Sprintf("webhook_event:%s", eventID)).Err()
}

// GetJSON decodes the cached value at key into dst. It reports false on a miss.
func (r *RedisService) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON caches value at key for ttl
func (r *RedisService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, raw, ttl).Err()
}

// Delete removes key
func (r *RedisService) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
