package cache

import (
	"context"
	"time"

	"saboracampo/backend/internal/domain"
)

// ItemCache shortcut-caches catalog lookups by barcode so repeated scans at
// the register skip the database. Entries carry no stock counts.
type ItemCache interface {
	Get(ctx context.Context, key string) (*domain.CatalogItem, bool, error)
	Set(ctx context.Context, key string, value *domain.CatalogItem, ttl time.Duration) error
}

type NoopItemCache struct{}

func (NoopItemCache) Get(_ context.Context, _ string) (*domain.CatalogItem, bool, error) {
	return nil, false, nil
}

func (NoopItemCache) Set(_ context.Context, _ string, _ *domain.CatalogItem, _ time.Duration) error {
	return nil
}
