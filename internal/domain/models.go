package domain

import "time"

type Product struct {
	ID        string    `json:"product_id"`
	Code      string    `json:"product_code"`
	Name      string    `json:"product_name"`
	Unit      string    `json:"unit"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Code string `json:"product_code" validate:"required,max=32"`
	Name string `json:"product_name" validate:"required,max=120"`
	Unit string `json:"unit" validate:"required,max=16"`
}

type ProductUpdateRequest struct {
	Name   *string `json:"product_name,omitempty"`
	Unit   *string `json:"unit,omitempty"`
	Active *bool   `json:"is_active,omitempty"`
}

type Store struct {
	ID        string    `json:"store_id"`
	Name      string    `json:"store_name"`
	Address   string    `json:"address"`
	Central   bool      `json:"is_central"`
	CreatedAt time.Time `json:"created_at"`
}

type StoreCreateRequest struct {
	Name    string `json:"store_name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=255"`
}

type ProductBatch struct {
	ID               string      `json:"batch_id"`
	Code             string      `json:"batch_code"`
	ProductID        string      `json:"product_id"`
	ProductName      string      `json:"product_name,omitempty"`
	Unit             string      `json:"unit,omitempty"`
	Status           BatchStatus `json:"status"`
	PlannedQuantity  int         `json:"planned_quantity"`
	ProducedQuantity *int        `json:"produced_quantity"`
	ProductionDate   *time.Time  `json:"production_date"`
	ExpiryDate       *time.Time  `json:"expired_date"`
	CreatedAt        time.Time   `json:"created_at"`
}

type BatchPlanRequest struct {
	Code            string `json:"batch_code" validate:"required"`
	ProductID       string `json:"product_id" validate:"required"`
	PlannedQuantity int    `json:"planned_quantity" validate:"gt=0"`
}

type BatchPlanCreateRequest struct {
	Batches []BatchPlanRequest `json:"batches" validate:"required,min=1,dive"`
}

type BatchProduceRequest struct {
	ProducedQuantity int    `json:"produced_quantity" validate:"gt=0"`
	ProductionDate   string `json:"production_date" validate:"required,datetime=2006-01-02"`
	ExpiryDate       string `json:"expired_date" validate:"required,datetime=2006-01-02"`
}

type BatchStockRequest struct {
	StockedQuantity int `json:"stocked_quantity" validate:"gt=0"`
}

type Inventory struct {
	ID             string          `json:"inventory_id"`
	StoreID        string          `json:"store_id"`
	BatchID        string          `json:"batch_id"`
	Quantity       int             `json:"quantity"`
	Status         InventoryStatus `json:"status"`
	DisposedReason DisposalReason  `json:"disposed_reason,omitempty"`
	DisposedAt     *time.Time      `json:"disposed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InventoryDetail is an inventory row joined with its batch and product.
type InventoryDetail struct {
	Inventory
	BatchCode      string     `json:"batch_code"`
	ProductID      string     `json:"product_id"`
	ProductCode    string     `json:"product_code"`
	ProductName    string     `json:"product_name"`
	Unit           string     `json:"unit"`
	ProductionDate *time.Time `json:"production_date"`
	ExpiryDate     *time.Time `json:"expired_date"`
}

type DisposeRequest struct {
	Reason DisposalReason `json:"disposed_reason" validate:"required"`
}

// AllocatableBatch is a central inventory row that can back an allocation line.
type AllocatableBatch struct {
	InventoryID string
	BatchID     string
	Quantity    int
	ExpiryDate  *time.Time
}

type SupplyOrder struct {
	ID        string            `json:"supply_order_id"`
	Code      string            `json:"supply_order_code"`
	StoreID   string            `json:"store_id"`
	Status    OrderStatus       `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	CreatedBy string            `json:"created_by"`
	Items     []SupplyOrderItem `json:"items"`
}

type SupplyOrderItem struct {
	ID                string                 `json:"supply_order_item_id"`
	OrderID           string                 `json:"supply_order_id"`
	ProductID         string                 `json:"product_id"`
	RequestedQuantity int                    `json:"requested_quantity"`
	ApprovedQuantity  *int                   `json:"approved_quantity"`
	Status            ItemStatus             `json:"status"`
	Batches           []SupplyOrderItemBatch `json:"batches"`
}

// SupplyOrderItemBatch is an allocation line: units of one production batch
// drawn from one central inventory row for one order item.
type SupplyOrderItemBatch struct {
	ID                string    `json:"item_batch_id"`
	ItemID            string    `json:"supply_order_item_id"`
	BatchID           string    `json:"batch_id"`
	InventoryID       string    `json:"inventory_id"`
	Quantity          int       `json:"quantity"`
	ReceiptedQuantity *int      `json:"receipted_quantity"`
	StockedQuantity   *int      `json:"stocked_quantity"`
	CreatedAt         time.Time `json:"created_at"`
}

type SupplyOrderItemRequest struct {
	ProductID         string `json:"product_id" validate:"required"`
	RequestedQuantity int    `json:"requested_quantity"`
}

type SupplyOrderCreateRequest struct {
	Code  string                   `json:"supply_order_code" validate:"required"`
	Items []SupplyOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ReviewItemRequest struct {
	ItemID           string       `json:"supply_order_item_id" validate:"required"`
	Action           ReviewAction `json:"action" validate:"required"`
	ApprovedQuantity *int         `json:"approved_quantity,omitempty"`
}

type ReviewSupplyOrderRequest struct {
	Items []ReviewItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ReceivedLineRequest struct {
	ItemBatchID       string `json:"item_batch_id" validate:"required"`
	ReceiptedQuantity int    `json:"receipted_quantity"`
}

type ConfirmReceivedRequest struct {
	Batches []ReceivedLineRequest `json:"batches" validate:"required,min=1,dive"`
}

type StockedLineRequest struct {
	ItemBatchID     string `json:"item_batch_id" validate:"required"`
	StockedQuantity int    `json:"stocked_quantity"`
}

type StockSupplyOrderRequest struct {
	Batches []StockedLineRequest `json:"batches" validate:"required,min=1,dive"`
}

type SupplyOrderFilter struct {
	StoreID string
	Status  OrderStatus
	Limit   int
}

type SupplyOrderResponse struct {
	SupplyOrder SupplyOrder `json:"supply_order"`
}

type SupplyOrderListResponse struct {
	SupplyOrders []SupplyOrder `json:"supply_orders"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	StoreID     string `json:"store_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the verified caller identity. StoreID is empty for users that are
// not bound to a store.
type Actor struct {
	UserID   string
	Username string
	Role     Role
	StoreID  string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      Role
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	StoreID  string `json:"store_id"`
}

// StaffUser is the public view of a UserAccount.
type StaffUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	StoreID   string    `json:"store_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     Role      `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type InventoryListResponse struct {
	StoreID   string            `json:"store_id"`
	Inventory []InventoryDetail `json:"inventory"`
}

type StatusRefreshResponse struct {
	Updated   int    `json:"updated"`
	UpdatedAt string `json:"updated_at"`
}
