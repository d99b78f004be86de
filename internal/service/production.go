package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

var batchCodePattern = regexp.MustCompile(`^BATCH-\d{6}-[A-Z0-9]{3}$`)

const dateLayout = "2006-01-02"

// CreateBatchPlans plans one or more production runs at the central kitchen.
func (s *Service) CreateBatchPlans(ctx context.Context, req domain.BatchPlanCreateRequest) ([]domain.ProductBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral); err != nil {
		return nil, err
	}
	if len(req.Batches) == 0 {
		return nil, fmt.Errorf("%w: at least one batch is required", store.ErrInvalidTransaction)
	}
	codes := make(map[string]struct{}, len(req.Batches))
	for i := range req.Batches {
		plan := &req.Batches[i]
		plan.Code = strings.ToUpper(strings.TrimSpace(plan.Code))
		plan.ProductID = strings.TrimSpace(plan.ProductID)
		if !batchCodePattern.MatchString(plan.Code) {
			return nil, fmt.Errorf("%w: batch code %q must match BATCH-YYYYMM-XXX", store.ErrInvalidTransaction, plan.Code)
		}
		if plan.PlannedQuantity <= 0 {
			return nil, fmt.Errorf("%w: planned quantity for %s must be greater than 0", store.ErrInvalidTransaction, plan.Code)
		}
		if _, dup := codes[plan.Code]; dup {
			return nil, fmt.Errorf("%w: batch code %s appears more than once", store.ErrInvalidTransaction, plan.Code)
		}
		codes[plan.Code] = struct{}{}
	}
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	created := make([]domain.ProductBatch, 0, len(req.Batches))
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created = created[:0]
		for _, plan := range req.Batches {
			exists, err := tx.BatchCodeExists(ctx, plan.Code)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: batch code %s already exists", store.ErrInvalidTransaction, plan.Code)
			}
			product, err := tx.GetProduct(ctx, plan.ProductID)
			if err != nil {
				return fmt.Errorf("product %s: %w", plan.ProductID, err)
			}
			if !product.Active {
				return fmt.Errorf("%w: product %s is inactive", store.ErrInvalidTransaction, product.Name)
			}
			batch, err := tx.CreateBatch(ctx, domain.ProductBatch{
				ID:              xid.New("batch"),
				Code:            plan.Code,
				ProductID:       product.ID,
				Status:          domain.BatchPlanned,
				PlannedQuantity: plan.PlannedQuantity,
				CreatedAt:       s.now().UTC(),
			})
			if err != nil {
				return err
			}
			created = append(created, *batch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, batch := range created {
		s.logAudit(ctx, s.centralStoreID, "batch_plan", "product_batch", batch.ID, fmt.Sprintf("code=%s,planned=%d", batch.Code, batch.PlannedQuantity))
	}
	return created, nil
}

func (s *Service) ProduceBatch(ctx context.Context, batchID string, req domain.BatchProduceRequest) (domain.ProductBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral); err != nil {
		return domain.ProductBatch{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.ProductBatch{}, err
	}
	produced, err := time.Parse(dateLayout, strings.TrimSpace(req.ProductionDate))
	if err != nil {
		return domain.ProductBatch{}, fmt.Errorf("%w: production date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	expiry, err := time.Parse(dateLayout, strings.TrimSpace(req.ExpiryDate))
	if err != nil {
		return domain.ProductBatch{}, fmt.Errorf("%w: expiry date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	today := s.today()
	if produced.After(today) {
		return domain.ProductBatch{}, fmt.Errorf("%w: production date cannot be in the future", store.ErrInvalidTransaction)
	}
	if !expiry.After(today) {
		return domain.ProductBatch{}, fmt.Errorf("%w: expiry date must be after today", store.ErrInvalidTransaction)
	}
	if !expiry.After(produced) {
		return domain.ProductBatch{}, fmt.Errorf("%w: expiry date must be after production date", store.ErrInvalidTransaction)
	}

	var result domain.ProductBatch
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		batch, err := tx.GetBatchForUpdate(ctx, strings.TrimSpace(batchID))
		if err != nil {
			return err
		}
		if batch.Status != domain.BatchPlanned {
			return fmt.Errorf("%w: only PLANNED batches can be produced, batch is %s", store.ErrInvalidState, batch.Status)
		}
		if req.ProducedQuantity < 1 || req.ProducedQuantity > batch.PlannedQuantity {
			return fmt.Errorf("%w: produced quantity must be between 1 and %d", store.ErrInvalidTransaction, batch.PlannedQuantity)
		}
		qty := req.ProducedQuantity
		batch.ProducedQuantity = &qty
		batch.ProductionDate = &produced
		batch.ExpiryDate = &expiry
		batch.Status = domain.BatchProduced
		if err := tx.UpdateBatch(ctx, *batch); err != nil {
			return err
		}
		result = *batch
		return nil
	})
	if err != nil {
		return domain.ProductBatch{}, err
	}

	s.logAudit(ctx, s.centralStoreID, "batch_produce", "product_batch", result.ID, fmt.Sprintf("produced=%d,expiry=%s", req.ProducedQuantity, expiry.Format(dateLayout)))
	return result, nil
}

// StockBatch moves a produced batch into central inventory. Each batch is
// stocked at most once.
func (s *Service) StockBatch(ctx context.Context, batchID string, req domain.BatchStockRequest) (domain.ProductBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral); err != nil {
		return domain.ProductBatch{}, err
	}

	var result domain.ProductBatch
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		batch, err := tx.GetBatchForUpdate(ctx, strings.TrimSpace(batchID))
		if err != nil {
			return err
		}
		if batch.Status != domain.BatchProduced || batch.ProducedQuantity == nil {
			return fmt.Errorf("%w: only PRODUCED batches can be stocked, batch is %s", store.ErrInvalidState, batch.Status)
		}
		if req.StockedQuantity < 1 || req.StockedQuantity > *batch.ProducedQuantity {
			return fmt.Errorf("%w: stocked quantity must be between 1 and %d", store.ErrInvalidTransaction, *batch.ProducedQuantity)
		}

		if _, err := tx.CreateInventory(ctx, domain.Inventory{
			ID:        xid.New("inv"),
			StoreID:   s.centralStoreID,
			BatchID:   batch.ID,
			Quantity:  req.StockedQuantity,
			Status:    domain.ComputeInventoryStatus(domain.InventoryActive, batch.ExpiryDate, s.today()),
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		batch.Status = domain.BatchStocked
		if err := tx.UpdateBatch(ctx, *batch); err != nil {
			return err
		}
		result = *batch
		return nil
	})
	if err != nil {
		return domain.ProductBatch{}, err
	}

	s.logAudit(ctx, s.centralStoreID, "batch_stock", "product_batch", result.ID, fmt.Sprintf("stocked=%d", req.StockedQuantity))
	return result, nil
}

func (s *Service) CancelBatch(ctx context.Context, batchID string) (domain.ProductBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral); err != nil {
		return domain.ProductBatch{}, err
	}

	var result domain.ProductBatch
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		batch, err := tx.GetBatchForUpdate(ctx, strings.TrimSpace(batchID))
		if err != nil {
			return err
		}
		if batch.Status != domain.BatchPlanned && batch.Status != domain.BatchProduced {
			return fmt.Errorf("%w: batch in status %s cannot be cancelled", store.ErrInvalidState, batch.Status)
		}
		batch.Status = domain.BatchCancelled
		if err := tx.UpdateBatch(ctx, *batch); err != nil {
			return err
		}
		result = *batch
		return nil
	})
	if err != nil {
		return domain.ProductBatch{}, err
	}

	s.logAudit(ctx, s.centralStoreID, "batch_cancel", "product_batch", result.ID, "")
	return result, nil
}

func (s *Service) ListBatches(ctx context.Context, status string, limit int) ([]domain.ProductBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral); err != nil {
		return nil, err
	}
	filter := domain.BatchStatus(strings.ToUpper(strings.TrimSpace(status)))
	switch filter {
	case "", domain.BatchPlanned, domain.BatchProduced, domain.BatchStocked, domain.BatchCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown batch status %q", store.ErrInvalidTransaction, status)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListBatches(ctx, filter, limit)
}

func (s *Service) GetBatch(ctx context.Context, batchID string) (domain.ProductBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral); err != nil {
		return domain.ProductBatch{}, err
	}
	batch, err := s.repo.GetBatch(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return domain.ProductBatch{}, err
	}
	return *batch, nil
}
