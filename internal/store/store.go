package store

import (
	"context"
	"errors"
	"time"

	"kitchensupply/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidState       = errors.New("invalid state")
	ErrStatusConflict     = errors.New("status conflict")
)

// Repository is the durable state of the kitchen, its stores and their
// supply orders. Multi-step mutations go through RunInTx.
type Repository interface {
	// RunInTx runs fn as one atomic unit. Any error returned by fn discards
	// every write fn made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListStores(ctx context.Context) ([]domain.Store, error)
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error)

	GetBatch(ctx context.Context, batchID string) (*domain.ProductBatch, error)
	ListBatches(ctx context.Context, status domain.BatchStatus, limit int) ([]domain.ProductBatch, error)

	ListInventory(ctx context.Context, storeID string) ([]domain.InventoryDetail, error)
	RefreshInventoryStatuses(ctx context.Context, today time.Time) (int, error)

	GetSupplyOrder(ctx context.Context, orderID string) (*domain.SupplyOrder, error)
	ListSupplyOrders(ctx context.Context, filter domain.SupplyOrderFilter) ([]domain.SupplyOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is the write side available inside RunInTx. Reads made through Tx see
// the transaction's own writes and lock what they return until it ends.
type Tx interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	SupplyOrderCodeExists(ctx context.Context, code string) (bool, error)
	CreateSupplyOrder(ctx context.Context, order domain.SupplyOrder) (*domain.SupplyOrder, error)
	GetSupplyOrderForUpdate(ctx context.Context, orderID string) (*domain.SupplyOrder, error)
	// TransitionOrderStatus moves the order to `to` only while its stored
	// status is one of from; otherwise it returns ErrStatusConflict.
	TransitionOrderStatus(ctx context.Context, orderID string, to domain.OrderStatus, from ...domain.OrderStatus) error
	SetItemReview(ctx context.Context, itemID string, approved *int, status domain.ItemStatus) error
	CreateItemBatch(ctx context.Context, line domain.SupplyOrderItemBatch) (*domain.SupplyOrderItemBatch, error)
	SetReceiptedQuantity(ctx context.Context, itemBatchID string, qty int) error
	SetStockedQuantity(ctx context.Context, itemBatchID string, qty int) error

	// AvailableCentralQuantity sums what the central location can still
	// promise of a product: ACTIVE or NEAR_EXPIRY rows not expired on today,
	// net of batch lines held by APPROVED and PARTLY_APPROVED orders.
	AvailableCentralQuantity(ctx context.Context, centralStoreID string, productID string, today time.Time) (int, error)
	// AllocatableBatches lists the same rows with their net quantity,
	// earliest expiry first.
	AllocatableBatches(ctx context.Context, centralStoreID string, productID string, today time.Time) ([]domain.AllocatableBatch, error)
	// DebitInventory fails with ErrInsufficientStock rather than going
	// negative and with ErrInvalidState on a disposed row.
	DebitInventory(ctx context.Context, inventoryID string, qty int) error
	CreditStoreInventory(ctx context.Context, storeID string, batchID string, qty int, status domain.InventoryStatus) error

	BatchCodeExists(ctx context.Context, code string) (bool, error)
	CreateBatch(ctx context.Context, batch domain.ProductBatch) (*domain.ProductBatch, error)
	GetBatchForUpdate(ctx context.Context, batchID string) (*domain.ProductBatch, error)
	UpdateBatch(ctx context.Context, batch domain.ProductBatch) error
	// CreateInventory fails with ErrInvalidState if the store already holds a
	// row for the batch.
	CreateInventory(ctx context.Context, inv domain.Inventory) (*domain.Inventory, error)
	GetInventoryForUpdate(ctx context.Context, inventoryID string) (*domain.InventoryDetail, error)
	DisposeInventory(ctx context.Context, inventoryID string, reason domain.DisposalReason, at time.Time) error
}
