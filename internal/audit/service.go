package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service answers audit read queries. Timeline reads go through a short-TTL
// Redis cache keyed by tenant/entity/page; the cache is read-side only and
// tolerates staleness up to the TTL.
type Service struct {
	repo   Repository
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewService constructs the service. cache may be nil, which disables caching.
func NewService(repo Repository, cache *redis.Client, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, ttl: 30 * time.Second, logger: logger}
}

// Timeline returns the audit records for one entity in insertion order.
func (s *Service) Timeline(ctx context.Context, scope shared.Scope, entityType, entityID string, page shared.Page) ([]Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("audit:tl:%d:%s:%s:%d:%d", scope.TenantID, entityType, entityID, page.AfterID, page.Limit)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var cached []Record
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	records, err := s.repo.Timeline(ctx, scope, entityType, entityID, page)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(records); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
				s.logger.Warn("audit timeline cache set failed", slog.Any("error", err))
			}
		}
	}
	return records, nil
}

// Feed returns the tenant-wide audit stream in insertion order.
func (s *Service) Feed(ctx context.Context, scope shared.Scope, page shared.Page) ([]Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Feed(ctx, scope, page)
}
