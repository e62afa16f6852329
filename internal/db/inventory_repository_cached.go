package db

import (
	"context"
	"errors"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SnapshotCache is the subset of cache.RedisCache used for inventory reads.
type SnapshotCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedInventoryRepository serves GetBySKU from the cache and evicts the
// SKU on every successful mutation.
type CachedInventoryRepository struct {
	repo   *InventoryRepository
	cache  SnapshotCache
	logger *zap.Logger
}

func NewCachedInventoryRepository(repo *InventoryRepository, cache SnapshotCache, logger *zap.Logger) *CachedInventoryRepository {
	return &CachedInventoryRepository{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// InventoryCachePattern matches every cached inventory snapshot.
const InventoryCachePattern = "inventory:sku:*"

func inventoryKey(sku string) string {
	return "inventory:sku:" + sku
}

func (r *CachedInventoryRepository) GetBySKU(ctx context.Context, sku string) (*models.Inventory, error) {
	key := inventoryKey(sku)

	var inv models.Inventory
	err := r.cache.Get(ctx, key, &inv)
	if err == nil {
		r.logger.Debug("Cache hit", zap.String("key", key))
		return &inv, nil
	}
	if !errors.Is(err, redis.Nil) {
		r.logger.Warn("Cache error", zap.String("key", key), zap.Error(err))
	}

	found, err := r.repo.GetBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, key, found); err != nil {
		r.logger.Warn("Failed to cache inventory", zap.String("key", key), zap.Error(err))
	}
	return found, nil
}

func (r *CachedInventoryRepository) CreateIfMissing(ctx context.Context, productID, sku string) (*models.Inventory, bool, error) {
	inv, created, err := r.repo.CreateIfMissing(ctx, productID, sku)
	if err == nil && created {
		r.evict(ctx, inv.SKU)
	}
	return inv, created, err
}

func (r *CachedInventoryRepository) Reserve(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.evictAfter(ctx)(r.repo.Reserve(ctx, productID, qty))
}

func (r *CachedInventoryRepository) Release(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.evictAfter(ctx)(r.repo.Release(ctx, productID, qty))
}

func (r *CachedInventoryRepository) Commit(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.evictAfter(ctx)(r.repo.Commit(ctx, productID, qty))
}

func (r *CachedInventoryRepository) SetQuantity(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.evictAfter(ctx)(r.repo.SetQuantity(ctx, productID, qty))
}

func (r *CachedInventoryRepository) ReserveForOrder(ctx context.Context, orderNumber string, item models.EventLineItem) (*models.Inventory, bool, error) {
	inv, applied, err := r.repo.ReserveForOrder(ctx, orderNumber, item)
	if err == nil && applied {
		r.evict(ctx, inv.SKU)
	}
	return inv, applied, err
}

func (r *CachedInventoryRepository) ReleaseForOrder(ctx context.Context, orderNumber string, events ...outbox.Message) ([]models.Reservation, error) {
	released, err := r.repo.ReleaseForOrder(ctx, orderNumber, events...)
	if err == nil && len(released) > 0 {
		skus := make([]string, 0, len(released))
		for _, res := range released {
			skus = append(skus, res.SKU)
		}
		r.evict(ctx, skus...)
	}
	return released, err
}

func (r *CachedInventoryRepository) CommitForOrder(ctx context.Context, orderNumber, sku string) (*models.Inventory, bool, error) {
	inv, applied, err := r.repo.CommitForOrder(ctx, orderNumber, sku)
	if err == nil && applied {
		r.evict(ctx, inv.SKU)
	}
	return inv, applied, err
}

func (r *CachedInventoryRepository) evictAfter(ctx context.Context) func(*models.Inventory, error) (*models.Inventory, error) {
	return func(inv *models.Inventory, err error) (*models.Inventory, error) {
		if err == nil {
			r.evict(ctx, inv.SKU)
		}
		return inv, err
	}
}

func (r *CachedInventoryRepository) evict(ctx context.Context, skus ...string) {
	keys := make([]string, 0, len(skus))
	for _, sku := range skus {
		keys = append(keys, inventoryKey(sku))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.logger.Warn("Failed to invalidate cache", zap.Strings("keys", keys), zap.Error(err))
		return
	}
	r.logger.Debug("Cache invalidated", zap.Strings("keys", keys))
}
