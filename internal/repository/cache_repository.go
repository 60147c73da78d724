package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// CacheRepository caches redirect data by alias. Only the fields a redirect
// needs are stored, none of them change without an explicit eviction.
type CacheRepository interface {
	Get(ctx context.Context, code string) (*models.ShortLink, error)
	Set(ctx context.Context, code string, link *models.ShortLink, ttl time.Duration) error
	Delete(ctx context.Context, codes ...string) error
}

type cachedLink struct {
	ID             int64      `json:"id"`
	OriginalURL    string     `json:"original_url"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) Get(ctx context.Context, code string) (*models.ShortLink, error) {
	data, err := r.redis.Client.Get(ctx, r.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var cached cachedLink
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal link: %w", err)
	}

	return &models.ShortLink{
		ID:             cached.ID,
		OriginalURL:    cached.OriginalURL,
		ExpirationDate: cached.ExpirationDate,
	}, nil
}

func (r *cacheRepository) Set(ctx context.Context, code string, link *models.ShortLink, ttl time.Duration) error {
	data, err := json.Marshal(cachedLink{
		ID:             link.ID,
		OriginalURL:    link.OriginalURL,
		ExpirationDate: link.ExpirationDate,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}

	return r.redis.Client.Set(ctx, r.key(code), data, ttl).Err()
}

func (r *cacheRepository) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = r.key(code)
	}
	return r.redis.Client.Del(ctx, keys...).Err()
}

func (r *cacheRepository) key(code string) string {
	return "link:" + code
}
