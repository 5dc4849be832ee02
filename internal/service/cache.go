package service

import (
	"context"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

// CachingOrderService is a decorator that adds in-memory caching of
// order lookups to an OrderService. Only terminal orders are cached,
// nothing can change them anymore so the cache never goes stale.
type CachingOrderService struct {
	OrderService
	cache  *LRUCache
	logger logger.Logger
}

// NewCachingOrderService creates a caching decorator for OrderService
func NewCachingOrderService(next OrderService, logger logger.Logger, entryCountCap, entrySizeCap int) *CachingOrderService {
	return &CachingOrderService{
		OrderService: next,
		cache:        NewLRUCache(entryCountCap, entrySizeCap),
		logger:       logger,
	}
}

// GetOrder checks the cache first and falls back to the wrapped service.
func (s *CachingOrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	start := time.Now()
	order, found := s.cache.Get(id)
	if found {
		metrics.CacheResponseTime.WithLabelValues("get_order").Observe(time.Since(start).Seconds())
		metrics.CacheHits.Inc()
		s.logger.Debugw("Cache hit", "order_id", id)
		return order, nil
	}

	metrics.CacheMisses.Inc()
	order, err := s.OrderService.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Status.IsTerminal() {
		start = time.Now()
		s.cache.Insert(order)
		metrics.CacheResponseTime.WithLabelValues("insert_order").Observe(time.Since(start).Seconds())
	}
	return order, nil
}
