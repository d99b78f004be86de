package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

// pgTx implements store.Tx over one serializable transaction. Every mutation
// is a conditional UPDATE so a lost race shows up as zero affected rows.
type pgTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, productID, true)
}

func (t *pgTx) SupplyOrderCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM supply_orders WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (t *pgTx) CreateSupplyOrder(ctx context.Context, order domain.SupplyOrder) (*domain.SupplyOrder, error) {
	if order.Code == "" || order.StoreID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if order.ID == "" {
		order.ID = xid.New("so")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO supply_orders (id, code, store_id, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, order.Code, order.StoreID, string(order.Status), order.CreatedBy, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: supply order code %s already exists", store.ErrInvalidTransaction, order.Code)
		}
		return nil, err
	}

	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = xid.New("soi")
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO supply_order_items (id, order_id, product_id, requested_quantity, approved_quantity, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, order.ID, item.ProductID, item.RequestedQuantity, nullInt(item.ApprovedQuantity), string(item.Status)); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: product %s listed twice", store.ErrInvalidTransaction, item.ProductID)
			}
			return nil, err
		}
	}

	return assembleOrder(ctx, t.tx, order.ID, false)
}

func (t *pgTx) GetSupplyOrderForUpdate(ctx context.Context, orderID string) (*domain.SupplyOrder, error) {
	return assembleOrder(ctx, t.tx, orderID, true)
}

func (t *pgTx) TransitionOrderStatus(ctx context.Context, orderID string, to domain.OrderStatus, from ...domain.OrderStatus) error {
	allowed := make([]string, 0, len(from))
	for _, status := range from {
		allowed = append(allowed, string(status))
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE supply_orders SET status = $2
		WHERE id = $1 AND status = ANY($3)
	`, orderID, string(to), allowed)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = t.tx.QueryRowContext(ctx, `SELECT status FROM supply_orders WHERE id = $1`, orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: supply order %s is %s", store.ErrStatusConflict, orderID, current)
}

func (t *pgTx) SetItemReview(ctx context.Context, itemID string, approved *int, status domain.ItemStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE supply_order_items SET approved_quantity = $2, status = $3
		WHERE id = $1 AND status = $4
	`, itemID, nullInt(approved), string(status), string(domain.ItemPending))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	exists, err := t.rowExists(ctx, `SELECT EXISTS (SELECT 1 FROM supply_order_items WHERE id = $1)`, itemID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: item %s already reviewed", store.ErrInvalidState, itemID)
}

func (t *pgTx) CreateItemBatch(ctx context.Context, line domain.SupplyOrderItemBatch) (*domain.SupplyOrderItemBatch, error) {
	if line.Quantity <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	exists, err := t.rowExists(ctx, `SELECT EXISTS (SELECT 1 FROM supply_order_items WHERE id = $1)`, line.ItemID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	if line.ID == "" {
		line.ID = xid.New("sob")
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	line.ReceiptedQuantity = nil
	line.StockedQuantity = nil

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO supply_order_item_batches (id, item_id, batch_id, inventory_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, line.ID, line.ItemID, line.BatchID, line.InventoryID, line.Quantity, line.CreatedAt); err != nil {
		return nil, err
	}
	return &line, nil
}

func (t *pgTx) SetReceiptedQuantity(ctx context.Context, itemBatchID string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE supply_order_item_batches SET receipted_quantity = $2
		WHERE id = $1 AND receipted_quantity IS NULL AND $2 >= 0 AND $2 <= quantity
	`, itemBatchID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	line, err := t.lineQuantities(ctx, itemBatchID)
	if err != nil {
		return err
	}
	if line.ReceiptedQuantity != nil {
		return fmt.Errorf("%w: receipted quantity already set for %s", store.ErrInvalidState, itemBatchID)
	}
	return fmt.Errorf("%w: receipted quantity must be between 0 and %d", store.ErrInvalidTransaction, line.Quantity)
}

func (t *pgTx) SetStockedQuantity(ctx context.Context, itemBatchID string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE supply_order_item_batches SET stocked_quantity = $2
		WHERE id = $1
		  AND receipted_quantity IS NOT NULL
		  AND stocked_quantity IS NULL
		  AND $2 >= 0 AND $2 <= receipted_quantity
	`, itemBatchID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	line, err := t.lineQuantities(ctx, itemBatchID)
	if err != nil {
		return err
	}
	switch {
	case line.ReceiptedQuantity == nil:
		return fmt.Errorf("%w: %s has not been received", store.ErrInvalidState, itemBatchID)
	case line.StockedQuantity != nil:
		return fmt.Errorf("%w: stocked quantity already set for %s", store.ErrInvalidState, itemBatchID)
	default:
		return fmt.Errorf("%w: stocked quantity must be between 0 and %d", store.ErrInvalidTransaction, *line.ReceiptedQuantity)
	}
}

// promisableStockQuery selects the central rows of a product that can still
// back an allocation on day $4, with quantity net of lines held by orders in
// statuses $5.
const promisableStockQuery = `
	SELECT i.id, i.batch_id, i.quantity - h.held, b.expiry_date
	FROM inventory i
	JOIN product_batches b ON b.id = i.batch_id
	CROSS JOIN LATERAL (
		SELECT COALESCE(SUM(sob.quantity), 0) AS held
		FROM supply_order_item_batches sob
		JOIN supply_order_items soi ON soi.id = sob.item_id
		JOIN supply_orders so ON so.id = soi.order_id
		WHERE sob.inventory_id = i.id
		  AND so.status = ANY($5)
	) h
	WHERE i.store_id = $1
	  AND b.product_id = $2
	  AND i.status = ANY($3)
	  AND (b.expiry_date IS NULL OR b.expiry_date >= $4)
	  AND i.quantity - h.held > 0
`

func (t *pgTx) AvailableCentralQuantity(ctx context.Context, centralStoreID string, productID string, today time.Time) (int, error) {
	rows, err := t.promisableStock(ctx, centralStoreID, productID, today, "")
	if err != nil {
		return 0, err
	}
	total := 0
	for _, row := range rows {
		total += row.Quantity
	}
	return total, nil
}

func (t *pgTx) AllocatableBatches(ctx context.Context, centralStoreID string, productID string, today time.Time) ([]domain.AllocatableBatch, error) {
	return t.promisableStock(ctx, centralStoreID, productID, today, `
		ORDER BY b.expiry_date ASC NULLS LAST, i.id COLLATE "C"
		FOR UPDATE OF i
	`)
}

func (t *pgTx) promisableStock(ctx context.Context, centralStoreID string, productID string, today time.Time, suffix string) ([]domain.AllocatableBatch, error) {
	rows, err := t.tx.QueryContext(ctx, promisableStockQuery+suffix,
		centralStoreID, productID, allocatableStatuses(), domain.TruncateDay(today), holdingStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AllocatableBatch, 0, 8)
	for rows.Next() {
		var (
			row    domain.AllocatableBatch
			expiry sql.NullTime
		)
		if err := rows.Scan(&row.InventoryID, &row.BatchID, &row.Quantity, &expiry); err != nil {
			return nil, err
		}
		row.ExpiryDate = datePtr(expiry)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *pgTx) DebitInventory(ctx context.Context, inventoryID string, qty int) error {
	if qty <= 0 {
		return store.ErrInvalidTransaction
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2 AND status <> $3
	`, inventoryID, qty, string(domain.InventoryDisposed))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var (
		held   int
		status string
	)
	err = t.tx.QueryRowContext(ctx, `SELECT quantity, status FROM inventory WHERE id = $1`, inventoryID).Scan(&held, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if domain.InventoryStatus(status) == domain.InventoryDisposed {
		return fmt.Errorf("%w: inventory %s is disposed", store.ErrInvalidState, inventoryID)
	}
	return fmt.Errorf("%w: inventory %s holds %d, need %d", store.ErrInsufficientStock, inventoryID, held, qty)
}

func (t *pgTx) CreditStoreInventory(ctx context.Context, storeID string, batchID string, qty int, status domain.InventoryStatus) error {
	if qty <= 0 {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory (id, store_id, batch_id, quantity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (store_id, batch_id)
		DO UPDATE SET
			quantity = inventory.quantity + EXCLUDED.quantity,
			status = CASE WHEN inventory.status = $6 THEN inventory.status ELSE EXCLUDED.status END
	`, xid.New("inv"), storeID, batchID, qty, string(status), string(domain.InventoryDisposed))
	return err
}

func (t *pgTx) BatchCodeExists(ctx context.Context, code string) (bool, error) {
	return t.rowExists(ctx, `SELECT EXISTS (SELECT 1 FROM product_batches WHERE code = $1)`, code)
}

func (t *pgTx) CreateBatch(ctx context.Context, batch domain.ProductBatch) (*domain.ProductBatch, error) {
	if batch.Code == "" || batch.ProductID == "" || batch.PlannedQuantity <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_batches (
			id, code, product_id, status, planned_quantity,
			produced_quantity, production_date, expiry_date, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, batch.ID, batch.Code, batch.ProductID, string(batch.Status), batch.PlannedQuantity,
		nullInt(batch.ProducedQuantity), nullDate(batch.ProductionDate), nullDate(batch.ExpiryDate), batch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: batch code %s already exists", store.ErrInvalidTransaction, batch.Code)
		}
		return nil, err
	}
	return getBatch(ctx, t.tx, batch.ID, false)
}

func (t *pgTx) GetBatchForUpdate(ctx context.Context, batchID string) (*domain.ProductBatch, error) {
	return getBatch(ctx, t.tx, batchID, true)
}

func (t *pgTx) UpdateBatch(ctx context.Context, batch domain.ProductBatch) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE product_batches
		SET status = $2, produced_quantity = $3, production_date = $4, expiry_date = $5
		WHERE id = $1
	`, batch.ID, string(batch.Status), nullInt(batch.ProducedQuantity), nullDate(batch.ProductionDate), nullDate(batch.ExpiryDate))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateInventory(ctx context.Context, inv domain.Inventory) (*domain.Inventory, error) {
	if inv.StoreID == "" || inv.BatchID == "" || inv.Quantity < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory (id, store_id, batch_id, quantity, status, disposed_reason, disposed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.StoreID, inv.BatchID, inv.Quantity, string(inv.Status),
		nullIfEmpty(string(inv.DisposedReason)), nullTime(inv.DisposedAt), inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: inventory for batch %s already exists", store.ErrInvalidState, inv.BatchID)
		}
		return nil, err
	}
	return &inv, nil
}

func (t *pgTx) GetInventoryForUpdate(ctx context.Context, inventoryID string) (*domain.InventoryDetail, error) {
	return getInventoryDetail(ctx, t.tx, inventoryID, true)
}

func (t *pgTx) DisposeInventory(ctx context.Context, inventoryID string, reason domain.DisposalReason, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory SET status = $2, disposed_reason = $3, disposed_at = $4
		WHERE id = $1 AND status <> $2
	`, inventoryID, string(domain.InventoryDisposed), string(reason), at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	exists, err := t.rowExists(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE id = $1)`, inventoryID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: inventory %s is already disposed", store.ErrInvalidState, inventoryID)
}

func (t *pgTx) rowExists(ctx context.Context, query string, arg any) (bool, error) {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, query, arg).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) lineQuantities(ctx context.Context, itemBatchID string) (*domain.SupplyOrderItemBatch, error) {
	var (
		line      domain.SupplyOrderItemBatch
		receipted sql.NullInt64
		stocked   sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, quantity, receipted_quantity, stocked_quantity
		FROM supply_order_item_batches
		WHERE id = $1
	`, itemBatchID).Scan(&line.ID, &line.Quantity, &receipted, &stocked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	line.ReceiptedQuantity = intPtr(receipted)
	line.StockedQuantity = intPtr(stocked)
	return &line, nil
}

func allocatableStatuses() []string {
	return []string{string(domain.InventoryActive), string(domain.InventoryNearExpiry)}
}

func holdingStatuses() []string {
	return []string{string(domain.OrderApproved), string(domain.OrderPartlyApproved)}
}
