package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
)

const testCentralStoreID = "central-kitchen-it"

func openTestStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("KITCHENSUPPLY_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KITCHENSUPPLY_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx, testCentralStoreID); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

type fixture struct {
	productID   string
	storeID     string
	batchID     string
	inventoryID string
}

// seedCentralStock creates a product, a destination store and one stocked
// central batch holding qty units.
func seedCentralStock(t *testing.T, s *Store, qty int) fixture {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	product, err := s.CreateProduct(ctx, domain.Product{
		Code: fmt.Sprintf("IT-%d", stamp),
		Name: "Integration Sauce",
		Unit: "kg",
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	st, err := s.CreateStore(ctx, domain.Store{ID: fmt.Sprintf("store-it-%d", stamp), Name: "Integration Store"})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	today := time.Now().UTC()
	expiry := today.AddDate(0, 0, 10)
	produced := qty
	fx := fixture{productID: product.ID, storeID: st.ID}
	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		batch, err := tx.CreateBatch(ctx, domain.ProductBatch{
			Code:             fmt.Sprintf("B-IT-%d", stamp),
			ProductID:        product.ID,
			Status:           domain.BatchStocked,
			PlannedQuantity:  qty,
			ProducedQuantity: &produced,
			ProductionDate:   &today,
			ExpiryDate:       &expiry,
		})
		if err != nil {
			return err
		}
		inv, err := tx.CreateInventory(ctx, domain.Inventory{
			StoreID:  testCentralStoreID,
			BatchID:  batch.ID,
			Quantity: qty,
			Status:   domain.InventoryActive,
		})
		if err != nil {
			return err
		}
		fx.batchID = batch.ID
		fx.inventoryID = inv.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	t.Cleanup(func() {
		bg := context.Background()
		_, _ = s.db.ExecContext(bg, `DELETE FROM supply_order_item_batches WHERE batch_id = $1`, fx.batchID)
		_, _ = s.db.ExecContext(bg, `DELETE FROM supply_order_items WHERE product_id = $1`, fx.productID)
		_, _ = s.db.ExecContext(bg, `DELETE FROM supply_orders WHERE store_id = $1`, fx.storeID)
		_, _ = s.db.ExecContext(bg, `DELETE FROM inventory WHERE batch_id = $1`, fx.batchID)
		_, _ = s.db.ExecContext(bg, `DELETE FROM product_batches WHERE id = $1`, fx.batchID)
		_, _ = s.db.ExecContext(bg, `DELETE FROM stores WHERE id = $1`, fx.storeID)
		_, _ = s.db.ExecContext(bg, `DELETE FROM products WHERE id = $1`, fx.productID)
	})
	return fx
}

func TestDebitInventoryNeverGoesNegative(t *testing.T) {
	s := openTestStore(t)
	fx := seedCentralStock(t, s, 5)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DebitInventory(ctx, fx.inventoryID, 6)
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DebitInventory(ctx, fx.inventoryID, 5)
	})
	if err != nil {
		t.Fatalf("debit all: %v", err)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM inventory WHERE id = $1`, fx.inventoryID).Scan(&qty); err != nil {
		t.Fatalf("query inventory: %v", err)
	}
	if qty != 0 {
		t.Fatalf("expected 0 left, got %d", qty)
	}
}

func TestFailedTxRollsBackEveryWrite(t *testing.T) {
	s := openTestStore(t)
	fx := seedCentralStock(t, s, 8)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.DebitInventory(ctx, fx.inventoryID, 3); err != nil {
			return err
		}
		if err := tx.CreditStoreInventory(ctx, fx.storeID, fx.batchID, 3, domain.InventoryActive); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	rows, err := s.ListInventory(ctx, fx.storeID)
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no store rows after rollback, got %+v", rows)
	}
}

func TestSupplyOrderTransitionIsCompareAndSet(t *testing.T) {
	s := openTestStore(t)
	fx := seedCentralStock(t, s, 10)
	ctx := context.Background()

	var orderID string
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.CreateSupplyOrder(ctx, domain.SupplyOrder{
			Code:    fmt.Sprintf("SO-IT-%d", time.Now().UnixNano()),
			StoreID: fx.storeID,
			Status:  domain.OrderSubmitted,
			Items: []domain.SupplyOrderItem{
				{ProductID: fx.productID, RequestedQuantity: 4, Status: domain.ItemPending},
			},
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
		return tx.TransitionOrderStatus(ctx, orderID, domain.OrderApproved, domain.OrderSubmitted)
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.TransitionOrderStatus(ctx, orderID, domain.OrderRejected, domain.OrderSubmitted)
	})
	if !errors.Is(err, store.ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.TransitionOrderStatus(ctx, "so-missing", domain.OrderApproved, domain.OrderSubmitted)
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	order, err := s.GetSupplyOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderApproved || len(order.Items) != 1 || order.Items[0].RequestedQuantity != 4 {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestCreditStoreInventoryKeepsDisposedRows(t *testing.T) {
	s := openTestStore(t)
	fx := seedCentralStock(t, s, 10)
	ctx := context.Background()

	credit := func(qty int) {
		t.Helper()
		err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.CreditStoreInventory(ctx, fx.storeID, fx.batchID, qty, domain.InventoryActive)
		})
		if err != nil {
			t.Fatalf("credit %d: %v", qty, err)
		}
	}

	credit(2)
	credit(3)
	rows, err := s.ListInventory(ctx, fx.storeID)
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 5 {
		t.Fatalf("expected one merged row of 5, got %+v", rows)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DisposeInventory(ctx, rows[0].ID, domain.DisposeDefective, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}

	credit(1)
	rows, err = s.ListInventory(ctx, fx.storeID)
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if rows[0].Status != domain.InventoryDisposed || rows[0].Quantity != 6 {
		t.Fatalf("expected disposed row of 6, got %+v", rows[0])
	}
}

// readAllocatable returns what the central kitchen can promise of the fixture
// product on day today.
func readAllocatable(t *testing.T, s *Store, fx fixture, today time.Time) (int, []domain.AllocatableBatch) {
	t.Helper()
	var (
		available int
		batches   []domain.AllocatableBatch
	)
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		if available, err = tx.AvailableCentralQuantity(ctx, testCentralStoreID, fx.productID, today); err != nil {
			return err
		}
		batches, err = tx.AllocatableBatches(ctx, testCentralStoreID, fx.productID, today)
		return err
	})
	if err != nil {
		t.Fatalf("read allocatable: %v", err)
	}
	return available, batches
}

func TestAllocatableBatchesSkipsExpiredRows(t *testing.T) {
	s := openTestStore(t)
	fx := seedCentralStock(t, s, 7)
	ctx := context.Background()
	today := time.Now().UTC()

	available, batches := readAllocatable(t, s, fx, today)
	if available != 7 || len(batches) != 1 || batches[0].InventoryID != fx.inventoryID {
		t.Fatalf("unexpected allocatable %d %+v", available, batches)
	}

	// stored status is still ACTIVE here
	later := today.AddDate(0, 0, 30)
	available, batches = readAllocatable(t, s, fx, later)
	if available != 0 || len(batches) != 0 {
		t.Fatalf("expected rows past expiry to be excluded before any refresh, got %d %+v", available, batches)
	}

	if _, err := s.RefreshInventoryStatuses(ctx, later); err != nil {
		t.Fatalf("refresh statuses: %v", err)
	}
	available, batches = readAllocatable(t, s, fx, today)
	if available != 0 || len(batches) != 0 {
		t.Fatalf("expected expired row to be excluded, got %d %+v", available, batches)
	}
}

func TestAllocatableQuantityIsNetOfApprovedOrders(t *testing.T) {
	s := openTestStore(t)
	fx := seedCentralStock(t, s, 10)
	ctx := context.Background()
	today := time.Now().UTC()

	var orderID string
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.CreateSupplyOrder(ctx, domain.SupplyOrder{
			Code:    fmt.Sprintf("SO-IT-%d", time.Now().UnixNano()),
			StoreID: fx.storeID,
			Status:  domain.OrderSubmitted,
			Items: []domain.SupplyOrderItem{
				{ProductID: fx.productID, RequestedQuantity: 6, Status: domain.ItemPending},
			},
		})
		if err != nil {
			return err
		}
		if _, err := tx.CreateItemBatch(ctx, domain.SupplyOrderItemBatch{
			ItemID:      order.Items[0].ID,
			BatchID:     fx.batchID,
			InventoryID: fx.inventoryID,
			Quantity:    6,
		}); err != nil {
			return err
		}
		orderID = order.ID
		return nil
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	transition := func(to domain.OrderStatus, from domain.OrderStatus) {
		t.Helper()
		err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.TransitionOrderStatus(ctx, orderID, to, from)
		})
		if err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	if available, _ := readAllocatable(t, s, fx, today); available != 10 {
		t.Fatalf("expected a submitted order to hold nothing, got %d", available)
	}

	transition(domain.OrderApproved, domain.OrderSubmitted)
	available, batches := readAllocatable(t, s, fx, today)
	if available != 4 || len(batches) != 1 || batches[0].Quantity != 4 {
		t.Fatalf("expected 4 left after approval, got %d %+v", available, batches)
	}

	transition(domain.OrderCancelled, domain.OrderApproved)
	if available, _ := readAllocatable(t, s, fx, today); available != 10 {
		t.Fatalf("expected cancellation to release the hold, got %d", available)
	}
}

func TestDebitInventoryRejectsDisposedRow(t *testing.T) {
	s := openTestStore(t)
	fx := seedCentralStock(t, s, 5)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DisposeInventory(ctx, fx.inventoryID, domain.DisposeDefective, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DebitInventory(ctx, fx.inventoryID, 2)
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM inventory WHERE id = $1`, fx.inventoryID).Scan(&qty); err != nil {
		t.Fatalf("query inventory: %v", err)
	}
	if qty != 5 {
		t.Fatalf("expected disposed row to keep 5, got %d", qty)
	}
}
