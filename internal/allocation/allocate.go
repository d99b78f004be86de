// Package allocation splits an approved quantity across central inventory
// rows, earliest expiry first.
package allocation

import (
	"fmt"
	"slices"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
)

// Line is one planned draw against a single inventory row.
type Line struct {
	InventoryID string
	BatchID     string
	Quantity    int
}

// ShortError reports that the candidate rows ran out before the requested
// quantity was covered.
type ShortError struct {
	ProductID string
	Needed    int
	Short     int
}

func (e *ShortError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("insufficient batch inventory: short by %d", e.Short)
	}
	return fmt.Sprintf("insufficient batch inventory for product %s: short by %d", e.ProductID, e.Short)
}

func (e *ShortError) Unwrap() error {
	return store.ErrInsufficientStock
}

// Allocate greedily takes min(remaining, row quantity) from each candidate in
// earliest-expiry-first order until needed is covered. The candidates slice
// is not modified.
func Allocate(productID string, needed int, candidates []domain.AllocatableBatch) ([]Line, error) {
	if needed <= 0 {
		return nil, fmt.Errorf("%w: allocation quantity must be positive", store.ErrInvalidTransaction)
	}

	rows := slices.Clone(candidates)
	SortFEFO(rows)

	lines := make([]Line, 0, 2)
	remaining := needed
	for _, row := range rows {
		if remaining == 0 {
			break
		}
		if row.Quantity <= 0 {
			continue
		}
		take := min(remaining, row.Quantity)
		lines = append(lines, Line{InventoryID: row.InventoryID, BatchID: row.BatchID, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, &ShortError{ProductID: productID, Needed: needed, Short: remaining}
	}
	return lines, nil
}

// SortFEFO orders rows by expiry ascending. Rows without an expiry go last,
// ties break on inventory id so the order is stable across stores.
func SortFEFO(rows []domain.AllocatableBatch) {
	slices.SortFunc(rows, compareFEFO)
}

func compareFEFO(a domain.AllocatableBatch, b domain.AllocatableBatch) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	switch {
	case a.InventoryID < b.InventoryID:
		return -1
	case a.InventoryID > b.InventoryID:
		return 1
	}
	return 0
}

// Total sums the quantities of lines.
func Total(lines []Line) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}
