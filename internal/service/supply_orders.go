package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"kitchensupply/backend/internal/allocation"
	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

var supplyOrderCodePattern = regexp.MustCompile(`^SO-\d{6}-\d{4}$`)

func (s *Service) CreateSupplyOrder(ctx context.Context, req domain.SupplyOrderCreateRequest) (domain.SupplyOrder, error) {
	actor, err := requireRole(ctx, domain.RoleStore)
	if err != nil {
		return domain.SupplyOrder{}, err
	}
	if actor.StoreID == "" {
		return domain.SupplyOrder{}, fmt.Errorf("%w: user is not assigned to a store", ErrForbidden)
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if !supplyOrderCodePattern.MatchString(code) {
		return domain.SupplyOrder{}, fmt.Errorf("%w: supply order code must match SO-YYYYMM-NNNN", store.ErrInvalidTransaction)
	}
	if len(req.Items) == 0 {
		return domain.SupplyOrder{}, fmt.Errorf("%w: at least one item is required", store.ErrInvalidTransaction)
	}
	seen := make(map[string]struct{}, len(req.Items))
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
		item := req.Items[i]
		if item.RequestedQuantity <= 0 {
			return domain.SupplyOrder{}, fmt.Errorf("%w: requested quantity for product %s must be greater than 0", store.ErrInvalidTransaction, item.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return domain.SupplyOrder{}, fmt.Errorf("%w: product %s appears more than once", store.ErrInvalidTransaction, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	req.Code = code
	if err := s.validateStruct(req); err != nil {
		return domain.SupplyOrder{}, err
	}

	var created *domain.SupplyOrder
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		exists, err := tx.SupplyOrderCodeExists(ctx, code)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: supply order code %s already exists", store.ErrInvalidTransaction, code)
		}

		items := make([]domain.SupplyOrderItem, 0, len(req.Items))
		for _, reqItem := range req.Items {
			product, err := tx.GetProduct(ctx, reqItem.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: product %s does not exist", store.ErrInvalidTransaction, reqItem.ProductID)
			}
			if err != nil {
				return err
			}
			if !product.Active {
				return fmt.Errorf("%w: product %s is inactive", store.ErrInvalidTransaction, product.Name)
			}
			items = append(items, domain.SupplyOrderItem{
				ID:                xid.New("soi"),
				ProductID:         product.ID,
				RequestedQuantity: reqItem.RequestedQuantity,
				Status:            domain.ItemPending,
			})
		}

		created, err = tx.CreateSupplyOrder(ctx, domain.SupplyOrder{
			ID:        xid.New("so"),
			Code:      code,
			StoreID:   actor.StoreID,
			Status:    domain.OrderSubmitted,
			CreatedAt: s.now().UTC(),
			CreatedBy: actor.UserID,
			Items:     items,
		})
		return err
	})
	if err != nil {
		return domain.SupplyOrder{}, err
	}

	s.logAudit(ctx, created.StoreID, "supply_order_create", "supply_order", created.ID, fmt.Sprintf("code=%s,items=%d", created.Code, len(created.Items)))
	return *created, nil
}

type reviewDecision struct {
	item     domain.SupplyOrderItem
	action   domain.ReviewAction
	approved *int
}

func (s *Service) ReviewSupplyOrder(ctx context.Context, orderID string, req domain.ReviewSupplyOrderRequest) (domain.SupplyOrder, error) {
	if _, err := requireRole(ctx, domain.RoleCentral); err != nil {
		return domain.SupplyOrder{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if len(req.Items) == 0 {
		return domain.SupplyOrder{}, fmt.Errorf("%w: at least one review decision is required", store.ErrInvalidTransaction)
	}
	seen := make(map[string]struct{}, len(req.Items))
	for i := range req.Items {
		action, ok := domain.ParseReviewAction(string(req.Items[i].Action))
		if !ok {
			return domain.SupplyOrder{}, fmt.Errorf("%w: unknown review action %q", store.ErrInvalidTransaction, req.Items[i].Action)
		}
		req.Items[i].Action = action
		if _, dup := seen[req.Items[i].ItemID]; dup {
			return domain.SupplyOrder{}, fmt.Errorf("%w: item %s reviewed more than once", store.ErrInvalidTransaction, req.Items[i].ItemID)
		}
		seen[req.Items[i].ItemID] = struct{}{}
	}
	if err := s.validateStruct(req); err != nil {
		return domain.SupplyOrder{}, err
	}

	var result *domain.SupplyOrder
	err := s.withOrderLock(ctx, orderID, func() error {
		return s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			order, err := tx.GetSupplyOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if !domain.CanApply(domain.OpReview, order.Status) {
				return fmt.Errorf("%w: cannot review supply order in status %s", store.ErrInvalidState, order.Status)
			}

			decisions, err := resolveDecisions(order, req.Items)
			if err != nil {
				return err
			}

			// availability is checked for every item before anything is written
			today := s.today()
			ledger := allocation.NewLedger(func(ctx context.Context, productID string) (int, error) {
				return tx.AvailableCentralQuantity(ctx, s.centralStoreID, productID, today)
			})
			for _, d := range decisions {
				if d.approved == nil {
					continue
				}
				if err := ledger.Reserve(ctx, d.item.ProductID, *d.approved); err != nil {
					return s.describeCapacity(ctx, tx, err)
				}
			}

			statuses := make([]domain.ItemStatus, 0, len(decisions))
			for _, d := range decisions {
				status := d.action.ItemStatus()
				if err := tx.SetItemReview(ctx, d.item.ID, d.approved, status); err != nil {
					return err
				}
				statuses = append(statuses, status)
				if d.approved == nil {
					continue
				}

				candidates, err := tx.AllocatableBatches(ctx, s.centralStoreID, d.item.ProductID, today)
				if err != nil {
					return err
				}
				lines, err := allocation.Allocate(d.item.ProductID, *d.approved, candidates)
				if err != nil {
					return s.describeCapacity(ctx, tx, err)
				}
				for _, line := range lines {
					if _, err := tx.CreateItemBatch(ctx, domain.SupplyOrderItemBatch{
						ID:          xid.New("sob"),
						ItemID:      d.item.ID,
						BatchID:     line.BatchID,
						InventoryID: line.InventoryID,
						Quantity:    line.Quantity,
						CreatedAt:   s.now().UTC(),
					}); err != nil {
						return err
					}
				}
			}

			next := domain.DeriveOrderStatus(statuses)
			if err := transitionOrder(ctx, tx, order, domain.OpReview, next); err != nil {
				return err
			}
			result, err = tx.GetSupplyOrderForUpdate(ctx, orderID)
			return err
		})
	})
	if err != nil {
		return domain.SupplyOrder{}, err
	}

	s.logAudit(ctx, result.StoreID, "supply_order_review", "supply_order", result.ID, fmt.Sprintf("status=%s", result.Status))
	return *result, nil
}

// resolveDecisions matches review decisions to the order's items and fixes
// the approved quantity of each. Every item must be decided exactly once.
func resolveDecisions(order *domain.SupplyOrder, reqItems []domain.ReviewItemRequest) ([]reviewDecision, error) {
	itemsByID := make(map[string]domain.SupplyOrderItem, len(order.Items))
	for _, item := range order.Items {
		itemsByID[item.ID] = item
	}

	decisions := make([]reviewDecision, 0, len(reqItems))
	for _, reqItem := range reqItems {
		item, ok := itemsByID[reqItem.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %s not found in supply order %s", store.ErrNotFound, reqItem.ItemID, order.ID)
		}
		d := reviewDecision{item: item, action: reqItem.Action}
		switch reqItem.Action {
		case domain.ActionApprove:
			qty := item.RequestedQuantity
			d.approved = &qty
		case domain.ActionPartlyApprove:
			if reqItem.ApprovedQuantity == nil || *reqItem.ApprovedQuantity <= 0 || *reqItem.ApprovedQuantity >= item.RequestedQuantity {
				return nil, fmt.Errorf("%w: approved quantity must be greater than 0 and less than requested quantity (%d)", store.ErrInvalidTransaction, item.RequestedQuantity)
			}
			qty := *reqItem.ApprovedQuantity
			d.approved = &qty
		case domain.ActionReject:
		}
		decisions = append(decisions, d)
	}
	if len(decisions) != len(order.Items) {
		return nil, fmt.Errorf("%w: all %d items must be reviewed, got %d", store.ErrInvalidTransaction, len(order.Items), len(decisions))
	}
	return decisions, nil
}

// describeCapacity rewrites allocation failures with the product's name and
// unit. Other errors pass through.
func (s *Service) describeCapacity(ctx context.Context, tx store.Tx, err error) error {
	var capErr *allocation.CapacityError
	var shortErr *allocation.ShortError
	switch {
	case errors.As(err, &capErr):
		product, perr := tx.GetProduct(ctx, capErr.ProductID)
		if perr != nil {
			return err
		}
		return fmt.Errorf("%w: cannot approve %d %s of %s, only %d %s available in inventory",
			store.ErrInsufficientStock, capErr.Requested, product.Unit, product.Name, capErr.Available, product.Unit)
	case errors.As(err, &shortErr):
		product, perr := tx.GetProduct(ctx, shortErr.ProductID)
		if perr != nil {
			return err
		}
		return fmt.Errorf("%w: failed to allocate all batches for %s, short by %d units",
			store.ErrInsufficientStock, product.Name, shortErr.Short)
	}
	return err
}

func (s *Service) StartDelivery(ctx context.Context, orderID string) (domain.SupplyOrder, error) {
	if _, err := requireRole(ctx, domain.RoleCentral); err != nil {
		return domain.SupplyOrder{}, err
	}
	orderID = strings.TrimSpace(orderID)

	var result *domain.SupplyOrder
	debited := 0
	err := s.withOrderLock(ctx, orderID, func() error {
		return s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			order, err := tx.GetSupplyOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if !domain.CanApply(domain.OpStartDelivery, order.Status) {
				return fmt.Errorf("%w: cannot start delivery of supply order in status %s", store.ErrInvalidState, order.Status)
			}

			for _, item := range order.Items {
				for _, line := range item.Batches {
					if err := tx.DebitInventory(ctx, line.InventoryID, line.Quantity); err != nil {
						return err
					}
					debited += line.Quantity
				}
			}

			if err := transitionOrder(ctx, tx, order, domain.OpStartDelivery, domain.OrderDelivering); err != nil {
				return err
			}
			result, err = tx.GetSupplyOrderForUpdate(ctx, orderID)
			return err
		})
	})
	if err != nil {
		return domain.SupplyOrder{}, err
	}

	s.logAudit(ctx, result.StoreID, "supply_order_start_delivery", "supply_order", result.ID, fmt.Sprintf("debited=%d", debited))
	return *result, nil
}

func (s *Service) ConfirmReceived(ctx context.Context, orderID string, req domain.ConfirmReceivedRequest) (domain.SupplyOrder, error) {
	actor, err := requireRole(ctx, domain.RoleStore)
	if err != nil {
		return domain.SupplyOrder{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if len(req.Batches) == 0 {
		return domain.SupplyOrder{}, fmt.Errorf("%w: at least one batch line is required", store.ErrInvalidTransaction)
	}
	if err := rejectDuplicateLines(len(req.Batches), func(i int) string { return req.Batches[i].ItemBatchID }); err != nil {
		return domain.SupplyOrder{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.SupplyOrder{}, err
	}

	var result *domain.SupplyOrder
	received := 0
	err = s.withOrderLock(ctx, orderID, func() error {
		return s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			order, err := tx.GetSupplyOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if err := requireOwnStore(actor, order.StoreID); err != nil {
				return err
			}
			if !domain.CanApply(domain.OpConfirmReceived, order.Status) {
				return fmt.Errorf("%w: cannot confirm receipt of supply order in status %s", store.ErrInvalidState, order.Status)
			}

			lines := orderLines(order)
			if len(req.Batches) != len(lines) {
				return fmt.Errorf("%w: all %d batch lines must be confirmed, got %d", store.ErrInvalidTransaction, len(lines), len(req.Batches))
			}
			for _, reqLine := range req.Batches {
				line, ok := lines[reqLine.ItemBatchID]
				if !ok {
					return fmt.Errorf("%w: batch line %s not found in supply order %s", store.ErrNotFound, reqLine.ItemBatchID, order.ID)
				}
				if reqLine.ReceiptedQuantity < 0 || reqLine.ReceiptedQuantity > line.Quantity {
					return fmt.Errorf("%w: receipted quantity for batch line %s must be between 0 and %d", store.ErrInvalidTransaction, line.ID, line.Quantity)
				}
				if err := tx.SetReceiptedQuantity(ctx, line.ID, reqLine.ReceiptedQuantity); err != nil {
					return err
				}
				received += reqLine.ReceiptedQuantity
			}

			if err := transitionOrder(ctx, tx, order, domain.OpConfirmReceived, domain.OrderReceipted); err != nil {
				return err
			}
			result, err = tx.GetSupplyOrderForUpdate(ctx, orderID)
			return err
		})
	})
	if err != nil {
		return domain.SupplyOrder{}, err
	}

	s.logAudit(ctx, result.StoreID, "supply_order_confirm_received", "supply_order", result.ID, fmt.Sprintf("received=%d", received))
	return *result, nil
}

func (s *Service) StockSupplyOrder(ctx context.Context, orderID string, req domain.StockSupplyOrderRequest) (domain.SupplyOrder, error) {
	actor, err := requireRole(ctx, domain.RoleStore)
	if err != nil {
		return domain.SupplyOrder{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if len(req.Batches) == 0 {
		return domain.SupplyOrder{}, fmt.Errorf("%w: at least one batch line is required", store.ErrInvalidTransaction)
	}
	if err := rejectDuplicateLines(len(req.Batches), func(i int) string { return req.Batches[i].ItemBatchID }); err != nil {
		return domain.SupplyOrder{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.SupplyOrder{}, err
	}

	var result *domain.SupplyOrder
	credited := 0
	err = s.withOrderLock(ctx, orderID, func() error {
		return s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			order, err := tx.GetSupplyOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if err := requireOwnStore(actor, order.StoreID); err != nil {
				return err
			}
			if !domain.CanApply(domain.OpStock, order.Status) {
				return fmt.Errorf("%w: cannot stock supply order in status %s", store.ErrInvalidState, order.Status)
			}

			lines := orderLines(order)
			stockable := 0
			for _, line := range lines {
				if receipted(line) > 0 {
					stockable++
				}
			}
			if stockable == 0 {
				return fmt.Errorf("%w: no batch line of supply order %s was received", store.ErrInvalidState, order.ID)
			}

			for _, reqLine := range req.Batches {
				line, ok := lines[reqLine.ItemBatchID]
				if !ok {
					return fmt.Errorf("%w: batch line %s not found in supply order %s", store.ErrNotFound, reqLine.ItemBatchID, order.ID)
				}
				got := receipted(line)
				if got == 0 {
					return fmt.Errorf("%w: batch line %s received nothing and cannot be stocked", store.ErrInvalidTransaction, line.ID)
				}
				if reqLine.StockedQuantity < 0 || reqLine.StockedQuantity > got {
					return fmt.Errorf("%w: stocked quantity for batch line %s must be between 0 and %d", store.ErrInvalidTransaction, line.ID, got)
				}
			}
			if len(req.Batches) != stockable {
				return fmt.Errorf("%w: all %d received batch lines must be stocked, got %d", store.ErrInvalidTransaction, stockable, len(req.Batches))
			}

			today := s.today()
			for _, reqLine := range req.Batches {
				line := lines[reqLine.ItemBatchID]
				if err := tx.SetStockedQuantity(ctx, line.ID, reqLine.StockedQuantity); err != nil {
					return err
				}
				if reqLine.StockedQuantity == 0 {
					continue
				}
				batch, err := tx.GetBatchForUpdate(ctx, line.BatchID)
				if err != nil {
					return err
				}
				status := domain.ComputeInventoryStatus(domain.InventoryActive, batch.ExpiryDate, today)
				if err := tx.CreditStoreInventory(ctx, order.StoreID, line.BatchID, reqLine.StockedQuantity, status); err != nil {
					return err
				}
				credited += reqLine.StockedQuantity
			}

			if err := transitionOrder(ctx, tx, order, domain.OpStock, domain.OrderStocked); err != nil {
				return err
			}
			result, err = tx.GetSupplyOrderForUpdate(ctx, orderID)
			return err
		})
	})
	if err != nil {
		return domain.SupplyOrder{}, err
	}

	s.logAudit(ctx, result.StoreID, "supply_order_stock", "supply_order", result.ID, fmt.Sprintf("credited=%d", credited))
	return *result, nil
}

func (s *Service) CancelSupplyOrder(ctx context.Context, orderID string) (domain.SupplyOrder, error) {
	actor, err := requireRole(ctx, domain.RoleCentral, domain.RoleStore)
	if err != nil {
		return domain.SupplyOrder{}, err
	}
	orderID = strings.TrimSpace(orderID)

	var result *domain.SupplyOrder
	err = s.withOrderLock(ctx, orderID, func() error {
		return s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			order, err := tx.GetSupplyOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if err := requireOwnStore(actor, order.StoreID); err != nil {
				return err
			}
			if !domain.CanApply(domain.OpCancel, order.Status) {
				return fmt.Errorf("%w: cannot cancel supply order in status %s", store.ErrInvalidState, order.Status)
			}
			if err := transitionOrder(ctx, tx, order, domain.OpCancel, domain.OrderCancelled); err != nil {
				return err
			}
			result, err = tx.GetSupplyOrderForUpdate(ctx, orderID)
			return err
		})
	})
	if err != nil {
		return domain.SupplyOrder{}, err
	}

	s.logAudit(ctx, result.StoreID, "supply_order_cancel", "supply_order", result.ID, "")
	return *result, nil
}

func (s *Service) GetSupplyOrder(ctx context.Context, orderID string) (domain.SupplyOrder, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral, domain.RoleStore)
	if err != nil {
		return domain.SupplyOrder{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.SupplyOrder{}, store.ErrNotFound
	}

	order, hit, err := s.cache.Get(ctx, orderID)
	if err != nil {
		s.log.WithError(err).WithField("supply_order_id", orderID).Warn("supply order cache read failed")
		hit = false
	}
	if !hit {
		order, err = s.loadOrder(ctx, orderID)
		if err != nil {
			return domain.SupplyOrder{}, err
		}
	}

	if err := requireOwnStore(actor, order.StoreID); err != nil {
		return domain.SupplyOrder{}, err
	}
	return *order, nil
}

func (s *Service) ListSupplyOrders(ctx context.Context, filter domain.SupplyOrderFilter) ([]domain.SupplyOrder, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral, domain.RoleStore)
	if err != nil {
		return nil, err
	}
	filter.StoreID = strings.TrimSpace(filter.StoreID)
	if actor.Role == domain.RoleStore {
		if filter.StoreID != "" && filter.StoreID != actor.StoreID {
			return nil, fmt.Errorf("%w: store staff may only list their own store", ErrForbidden)
		}
		filter.StoreID = actor.StoreID
	}
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListSupplyOrders(ctx, filter)
}

// transitionOrder checks the edge against the transition table and then
// applies it conditionally on the status the order was read in.
func transitionOrder(ctx context.Context, tx store.Tx, order *domain.SupplyOrder, op domain.Operation, next domain.OrderStatus) error {
	if err := domain.CheckTransition(op, order.Status, next); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidState, err)
	}
	return tx.TransitionOrderStatus(ctx, order.ID, next, order.Status)
}

func orderLines(order *domain.SupplyOrder) map[string]domain.SupplyOrderItemBatch {
	lines := make(map[string]domain.SupplyOrderItemBatch)
	for _, item := range order.Items {
		for _, line := range item.Batches {
			lines[line.ID] = line
		}
	}
	return lines
}

func receipted(line domain.SupplyOrderItemBatch) int {
	if line.ReceiptedQuantity == nil {
		return 0
	}
	return *line.ReceiptedQuantity
}

func rejectDuplicateLines(n int, id func(i int) string) error {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		key := strings.TrimSpace(id(i))
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: batch line %s listed more than once", store.ErrInvalidTransaction, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
