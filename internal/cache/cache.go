package cache

import (
	"context"
	"time"

	"kitchensupply/backend/internal/domain"
)

// OrderCache holds assembled supply order views. Entries are dropped on every
// transition of the order.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*domain.SupplyOrder, bool, error)
	Set(ctx context.Context, order *domain.SupplyOrder, ttl time.Duration) error
	Delete(ctx context.Context, orderID string) error
}

type NoopOrderCache struct{}

func (NoopOrderCache) Get(_ context.Context, _ string) (*domain.SupplyOrder, bool, error) {
	return nil, false, nil
}

func (NoopOrderCache) Set(_ context.Context, _ *domain.SupplyOrder, _ time.Duration) error {
	return nil
}

func (NoopOrderCache) Delete(_ context.Context, _ string) error {
	return nil
}

func orderKey(orderID string) string {
	return "supply-order:" + orderID
}
