package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns an error when the key is absent.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedRegistry adds read-aside caching to any DeviceRegistry. Writes go to
// the wrapped registry first and then invalidate the user's key.
type CachedRegistry struct {
	registry dispatch.DeviceRegistry
	cache    CacheClient
	ttl      time.Duration
	logger   *slog.Logger
}

func NewCachedRegistry(registry dispatch.DeviceRegistry, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedRegistry {
	return &CachedRegistry{
		registry: registry,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.With("component", "CachedRegistry"),
	}
}

func (s *CachedRegistry) Get(ctx context.Context, userID string) (*notification.Device, error) {
	key := cacheKey(userID)

	var cached notification.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	device, err := s.registry.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Best effort; a cache outage only costs a registry read.
	if err := s.cache.Set(ctx, key, device, s.ttl); err != nil {
		s.logger.Debug("Cache populate failed", "user_id", userID, "err", err)
	}
	return device, nil
}

func (s *CachedRegistry) Upsert(ctx context.Context, device notification.Device) (*notification.Device, error) {
	stored, err := s.registry.Upsert(ctx, device)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, device.UserID)
	return stored, nil
}

// Delete invalidates even when the registry reports not found so a stale
// cached entry cannot outlive its record.
func (s *CachedRegistry) Delete(ctx context.Context, userID string) error {
	err := s.registry.Delete(ctx, userID)
	s.invalidate(ctx, userID)
	return err
}

func (s *CachedRegistry) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Del(ctx, cacheKey(userID)); err != nil {
		s.logger.Warn("Cache invalidation failed", "user_id", userID, "err", err)
	}
}

func cacheKey(userID string) string {
	return "relay:device:" + userID
}
