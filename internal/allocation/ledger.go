package allocation

import (
	"context"
	"fmt"

	"kitchensupply/backend/internal/store"
)

// AvailabilityFunc reports the allocatable central quantity of a product.
type AvailabilityFunc func(ctx context.Context, productID string) (int, error)

// CapacityError reports that the running total for a product passed what the
// central location holds.
type CapacityError struct {
	ProductID string
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cannot approve %d of product %s, only %d available", e.Requested, e.ProductID, e.Available)
}

func (e *CapacityError) Unwrap() error {
	return store.ErrInsufficientStock
}

// Ledger tracks how much of each product a single review call has already
// promised, so several items drawing on one product are checked against the
// running total rather than individually.
type Ledger struct {
	available AvailabilityFunc
	known     map[string]int
	reserved  map[string]int
}

func NewLedger(available AvailabilityFunc) *Ledger {
	return &Ledger{
		available: available,
		known:     make(map[string]int),
		reserved:  make(map[string]int),
	}
}

// Reserve adds qty to the product's running total and returns a
// *CapacityError once the total exceeds what is available. The available
// quantity is read once per product and reused for the rest of the call.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	available, ok := l.known[productID]
	if !ok {
		var err error
		available, err = l.available(ctx, productID)
		if err != nil {
			return err
		}
		l.known[productID] = available
	}

	total := l.reserved[productID] + qty
	if total > available {
		return &CapacityError{ProductID: productID, Requested: total, Available: available}
	}
	l.reserved[productID] = total
	return nil
}

// Reserved returns the running total for productID.
func (l *Ledger) Reserved(productID string) int {
	return l.reserved[productID]
}
