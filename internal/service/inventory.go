package service

import (
	"context"
	"fmt"
	"strings"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
)

// ListInventory returns a store's inventory with batch and product detail.
// Store staff always see their own store; other roles default to the
// central kitchen.
func (s *Service) ListInventory(ctx context.Context, storeID string) (domain.InventoryListResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral, domain.RoleStore)
	if err != nil {
		return domain.InventoryListResponse{}, err
	}
	storeID = strings.TrimSpace(storeID)
	if actor.Role == domain.RoleStore {
		if storeID == "" {
			storeID = actor.StoreID
		}
		if err := requireOwnStore(actor, storeID); err != nil {
			return domain.InventoryListResponse{}, err
		}
	}
	if storeID == "" {
		storeID = s.centralStoreID
	}
	if _, err := s.repo.GetStore(ctx, storeID); err != nil {
		return domain.InventoryListResponse{}, err
	}

	rows, err := s.repo.ListInventory(ctx, storeID)
	if err != nil {
		return domain.InventoryListResponse{}, err
	}
	// statuses may lag behind the periodic sweep
	today := s.today()
	for i := range rows {
		rows[i].Status = domain.ComputeInventoryStatus(rows[i].Status, rows[i].ExpiryDate, today)
	}
	return domain.InventoryListResponse{StoreID: storeID, Inventory: rows}, nil
}

// DisposeInventory writes off an inventory row. An expired row is always
// disposed as EXPIRED. WRONG_DATA is reserved for admins. Store staff may only
// dispose their own store's rows and central staff only the kitchen's.
func (s *Service) DisposeInventory(ctx context.Context, inventoryID string, req domain.DisposeRequest) (domain.InventoryDetail, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral, domain.RoleStore)
	if err != nil {
		return domain.InventoryDetail{}, err
	}
	reason, ok := domain.ParseDisposalReason(string(req.Reason))
	if !ok {
		return domain.InventoryDetail{}, fmt.Errorf("%w: invalid disposed reason %q", store.ErrInvalidTransaction, req.Reason)
	}
	if reason == domain.DisposeWrongData && actor.Role != domain.RoleAdmin {
		return domain.InventoryDetail{}, fmt.Errorf("%w: only admins may dispose for WRONG_DATA", ErrForbidden)
	}

	var result *domain.InventoryDetail
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		row, err := tx.GetInventoryForUpdate(ctx, strings.TrimSpace(inventoryID))
		if err != nil {
			return err
		}
		switch actor.Role {
		case domain.RoleStore:
			if err := requireOwnStore(actor, row.StoreID); err != nil {
				return err
			}
		case domain.RoleCentral:
			if row.StoreID != s.centralStoreID {
				return fmt.Errorf("%w: central staff may only dispose central kitchen inventory", ErrForbidden)
			}
		}
		if row.Status == domain.InventoryDisposed {
			return fmt.Errorf("%w: inventory is already disposed", store.ErrInvalidState)
		}

		final := reason
		if domain.ComputeInventoryStatus(row.Status, row.ExpiryDate, s.today()) == domain.InventoryExpired {
			final = domain.DisposeExpired
		}
		at := s.now().UTC()
		if err := tx.DisposeInventory(ctx, row.ID, final, at); err != nil {
			return err
		}
		row.Status = domain.InventoryDisposed
		row.DisposedReason = final
		row.DisposedAt = &at
		result = row
		return nil
	})
	if err != nil {
		return domain.InventoryDetail{}, err
	}

	s.logAudit(ctx, result.StoreID, "inventory_dispose", "inventory", result.ID, fmt.Sprintf("reason=%s,quantity=%d", result.DisposedReason, result.Quantity))
	return *result, nil
}

// RefreshInventoryStatuses recomputes expiry statuses of every row. It runs
// with or without a caller; requests must come from admin or central staff.
func (s *Service) RefreshInventoryStatuses(ctx context.Context) (int, error) {
	if _, ok := ActorFromContext(ctx); ok {
		if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral); err != nil {
			return 0, err
		}
	}
	updated, err := s.repo.RefreshInventoryStatuses(ctx, s.today())
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.log.WithField("updated", updated).Info("inventory statuses refreshed")
	}
	return updated, nil
}
