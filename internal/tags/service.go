package tags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"forum/api/internal/logger"
	"forum/api/internal/store"

	"github.com/redis/go-redis/v9"
)

const KeyTopTags = "forum:tags:top"

type source interface {
	TopTags(ctx context.Context, limit int) ([]store.TagCount, error)
}

// Service lists the most used tags. Results are cached in Redis for ttl;
// a Redis outage falls back to the database.
type Service struct {
	source source
	client *redis.Client
	ttl    time.Duration
	size   int
	log    logger.Logger
}

func NewService(src source, client *redis.Client, ttl time.Duration, size int, log logger.Logger) *Service {
	if size <= 0 {
		size = 50
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{source: src, client: client, ttl: ttl, size: size, log: log}
}

// TopTags returns tag names ordered by use.
func (s *Service) TopTags(ctx context.Context) ([]string, error) {
	if cached, ok := s.cached(ctx); ok {
		return cached, nil
	}

	counts, err := s.source.TopTags(ctx, s.size)
	if err != nil {
		return nil, fmt.Errorf("load top tags: %w", err)
	}
	names := make([]string, 0, len(counts))
	for _, item := range counts {
		names = append(names, item.Value)
	}

	if s.client != nil && s.ttl > 0 {
		payload, err := json.Marshal(names)
		if err == nil {
			err = s.client.Set(ctx, KeyTopTags, payload, s.ttl).Err()
		}
		if err != nil {
			s.log.Warn("cache top tags failed", logger.Error(err))
		}
	}
	return names, nil
}

// Invalidate drops the cached list, e.g. after a message's tags changed.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, KeyTopTags).Err(); err != nil {
		return fmt.Errorf("invalidate top tags: %w", err)
	}
	return nil
}

func (s *Service) cached(ctx context.Context) ([]string, bool) {
	if s.client == nil {
		return nil, false
	}
	payload, err := s.client.Get(ctx, KeyTopTags).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("read top tags cache failed", logger.Error(err))
		}
		return nil, false
	}
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, false
	}
	return names, true
}
