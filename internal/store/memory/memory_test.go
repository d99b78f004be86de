package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
)

func seedCentralRow(t *testing.T, s *Store, qty int, expiry time.Time) string {
	t.Helper()
	var inventoryID string
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		batch, err := tx.CreateBatch(ctx, domain.ProductBatch{
			Code:            "BATCH-202603-" + expiry.Format("002"),
			ProductID:       "prod-bread",
			Status:          domain.BatchStocked,
			PlannedQuantity: qty,
			ExpiryDate:      &expiry,
		})
		if err != nil {
			return err
		}
		inv, err := tx.CreateInventory(ctx, domain.Inventory{
			StoreID:  "central-kitchen",
			BatchID:  batch.ID,
			Quantity: qty,
			Status:   domain.InventoryActive,
		})
		if err != nil {
			return err
		}
		inventoryID = inv.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed central row: %v", err)
	}
	return inventoryID
}

func TestRunInTxRestoresStateOnError(t *testing.T) {
	s := NewSeeded("central-kitchen")
	invID := seedCentralRow(t, s, 10, time.Now().UTC().AddDate(0, 0, 7))

	boom := errors.New("boom")
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.DebitInventory(ctx, invID, 4); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	rows, err := s.ListInventory(context.Background(), "central-kitchen")
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 10 {
		t.Fatalf("expected quantity restored to 10, got %+v", rows)
	}
}

func TestDebitInventoryRefusesToGoNegative(t *testing.T) {
	s := NewSeeded("central-kitchen")
	invID := seedCentralRow(t, s, 5, time.Now().UTC().AddDate(0, 0, 7))

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DebitInventory(ctx, invID, 6)
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestDebitInventoryRefusesDisposedRow(t *testing.T) {
	s := NewSeeded("central-kitchen")
	invID := seedCentralRow(t, s, 5, time.Now().UTC().AddDate(0, 0, 7))

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.DisposeInventory(ctx, invID, domain.DisposeDefective, time.Now().UTC()); err != nil {
			return err
		}
		return tx.DebitInventory(ctx, invID, 2)
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestCreditStoreInventoryUpserts(t *testing.T) {
	s := NewSeeded("central-kitchen")
	seedCentralRow(t, s, 5, time.Now().UTC().AddDate(0, 0, 7))
	batches, _ := s.ListBatches(context.Background(), "", 0)
	batchID := batches[0].ID

	for i := 0; i < 2; i++ {
		err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.CreditStoreInventory(ctx, "store-01", batchID, 3, domain.InventoryActive)
		})
		if err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}
	rows, _ := s.ListInventory(context.Background(), "store-01")
	if len(rows) != 1 || rows[0].Quantity != 6 {
		t.Fatalf("expected one store row with 6 units, got %+v", rows)
	}
}

func TestTransitionOrderStatusIsConditional(t *testing.T) {
	s := NewSeeded("central-kitchen")
	ctx := context.Background()
	var orderID string
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.CreateSupplyOrder(ctx, domain.SupplyOrder{
			Code:    "SO-202603-0001",
			StoreID: "store-01",
			Status:  domain.OrderSubmitted,
			Items:   []domain.SupplyOrderItem{{ProductID: "prod-bread", RequestedQuantity: 2, Status: domain.ItemPending}},
		})
		if err != nil {
			return err
		}
		orderID = order.ID
		return nil
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.TransitionOrderStatus(ctx, orderID, domain.OrderCancelled, domain.OrderApproved, domain.OrderPartlyApproved)
	})
	if !errors.Is(err, store.ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	order, _ := s.GetSupplyOrder(ctx, orderID)
	if order.Status != domain.OrderSubmitted {
		t.Fatalf("expected status unchanged, got %s", order.Status)
	}
}

func TestRefreshInventoryStatusesKeepsDisposed(t *testing.T) {
	s := NewSeeded("central-kitchen")
	today := time.Now().UTC()
	expiredID := seedCentralRow(t, s, 5, today.AddDate(0, 0, -2))
	nearID := seedCentralRow(t, s, 5, today.AddDate(0, 0, 1))
	disposedID := seedCentralRow(t, s, 5, today.AddDate(0, 0, -5))

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DisposeInventory(ctx, disposedID, domain.DisposeDefective, today)
	})
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}

	updated, err := s.RefreshInventoryStatuses(context.Background(), today)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 rows updated, got %d", updated)
	}
	rows, _ := s.ListInventory(context.Background(), "central-kitchen")
	statuses := map[string]domain.InventoryStatus{}
	for _, row := range rows {
		statuses[row.ID] = row.Status
	}
	if statuses[expiredID] != domain.InventoryExpired || statuses[nearID] != domain.InventoryNearExpiry || statuses[disposedID] != domain.InventoryDisposed {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
}
