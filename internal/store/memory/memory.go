package memory

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"kitchensupply/backend/internal/allocation"
	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

// Store keeps everything in process. RunInTx holds the write lock for the
// whole callback, so transactions are fully serialized and a failed callback
// restores the snapshot taken when it began.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	products    map[string]domain.Product
	stores      map[string]domain.Store
	batches     map[string]domain.ProductBatch
	inventory   map[string]domain.Inventory
	orders      map[string]domain.SupplyOrder
	orderItems  map[string][]string
	items       map[string]domain.SupplyOrderItem
	itemLines   map[string][]string
	lines       map[string]domain.SupplyOrderItemBatch
	auditLogs   []domain.AuditLog
	usersByName map[string]domain.UserAccount
}

func newState() *state {
	return &state{
		products:    make(map[string]domain.Product),
		stores:      make(map[string]domain.Store),
		batches:     make(map[string]domain.ProductBatch),
		inventory:   make(map[string]domain.Inventory),
		orders:      make(map[string]domain.SupplyOrder),
		orderItems:  make(map[string][]string),
		items:       make(map[string]domain.SupplyOrderItem),
		itemLines:   make(map[string][]string),
		lines:       make(map[string]domain.SupplyOrderItemBatch),
		auditLogs:   make([]domain.AuditLog, 0, 128),
		usersByName: make(map[string]domain.UserAccount),
	}
}

func (st *state) clone() *state {
	cp := &state{
		products:    maps.Clone(st.products),
		stores:      maps.Clone(st.stores),
		batches:     maps.Clone(st.batches),
		inventory:   maps.Clone(st.inventory),
		orders:      maps.Clone(st.orders),
		orderItems:  make(map[string][]string, len(st.orderItems)),
		items:       maps.Clone(st.items),
		itemLines:   make(map[string][]string, len(st.itemLines)),
		lines:       maps.Clone(st.lines),
		auditLogs:   slices.Clone(st.auditLogs),
		usersByName: maps.Clone(st.usersByName),
	}
	for k, v := range st.orderItems {
		cp.orderItems[k] = slices.Clone(v)
	}
	for k, v := range st.itemLines {
		cp.itemLines[k] = slices.Clone(v)
	}
	return cp
}

// New returns an empty store with only the central location registered.
func New(centralStoreID string) *Store {
	st := newState()
	st.stores[centralStoreID] = domain.Store{
		ID:        centralStoreID,
		Name:      "Central Kitchen",
		Central:   true,
		CreatedAt: time.Now().UTC(),
	}
	return &Store{state: st}
}

// NewSeeded registers the central kitchen, two stores, a small catalog and
// one user per role for dev/demo mode.
func NewSeeded(centralStoreID string) *Store {
	s := New(centralStoreID)
	now := time.Now().UTC()

	for _, st := range []domain.Store{
		{ID: "store-01", Name: "Store Downtown", Address: "12 Market Street"},
		{ID: "store-02", Name: "Store Riverside", Address: "4 River Road"},
	} {
		st.CreatedAt = now
		s.state.stores[st.ID] = st
	}

	for _, p := range []domain.Product{
		{ID: "prod-bread", Code: "PRD-BREAD", Name: "Sourdough Loaf", Unit: "loaf", Active: true},
		{ID: "prod-sauce", Code: "PRD-SAUCE", Name: "Tomato Sauce", Unit: "litre", Active: true},
		{ID: "prod-dough", Code: "PRD-DOUGH", Name: "Pizza Dough", Unit: "kg", Active: true},
		{ID: "prod-stock", Code: "PRD-STOCK", Name: "Chicken Stock", Unit: "litre", Active: true},
		{ID: "prod-pesto", Code: "PRD-PESTO", Name: "Basil Pesto", Unit: "jar", Active: false},
	} {
		p.CreatedAt = now
		s.state.products[p.ID] = p
	}

	s.state.usersByName = seedUsers(centralStoreID)
	return s
}

// seedUsers builds the initial in-memory accounts. Passwords come from
// SEED_*_PASSWORD variables and fall back to dev defaults with a warning.
// Never used in production, where DATABASE_URL selects postgres.
func seedUsers(centralStoreID string) map[string]domain.UserAccount {
	keys := []string{"SEED_ADMIN_PASSWORD", "SEED_CENTRAL_PASSWORD", "SEED_STORE_PASSWORD"}
	for _, key := range keys {
		if os.Getenv(key) == "" {
			logrus.WithField("component", "memory-store").Warn("using default dev credentials, set SEED_ADMIN_PASSWORD, SEED_CENTRAL_PASSWORD and SEED_STORE_PASSWORD to override")
			break
		}
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     domain.Role
		storeID  string
	}{
		{"user-admin", "admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin, ""},
		{"user-central", "central", envOr("SEED_CENTRAL_PASSWORD", "central123"), domain.RoleCentral, centralStoreID},
		{"user-store01", "store01", envOr("SEED_STORE_PASSWORD", "store123"), domain.RoleStore, "store-01"},
		{"user-store02", "store02", envOr("SEED_STORE_PASSWORD", "store123"), domain.RoleStore, "store-02"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Fatalf("[memory-store] failed to hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   u.storeID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &memTx{st: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		if !includeInactive && !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Code, b.Code)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getProduct(productID)
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.Unit == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.state.products {
		if existing.Code == product.Code {
			return nil, fmt.Errorf("%w: product code %s already exists", store.ErrInvalidTransaction, product.Code)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.state.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Unit == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.state.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Name = product.Name
	existing.Unit = product.Unit
	existing.Active = product.Active
	s.state.products[product.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stores := slices.Collect(maps.Values(s.state.stores))
	slices.SortFunc(stores, func(a, b domain.Store) int {
		return strings.Compare(a.ID, b.ID)
	})
	return stores, nil
}

func (s *Store) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.state.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) CreateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	if strings.TrimSpace(st.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if _, exists := s.state.stores[st.ID]; exists {
		return nil, fmt.Errorf("%w: store %s already exists", store.ErrInvalidTransaction, st.ID)
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	s.state.stores[st.ID] = st
	created := st
	return &created, nil
}

func (s *Store) GetBatch(_ context.Context, batchID string) (*domain.ProductBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getBatch(batchID)
}

func (s *Store) ListBatches(_ context.Context, status domain.BatchStatus, limit int) ([]domain.ProductBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductBatch, 0, len(s.state.batches))
	for id, batch := range s.state.batches {
		if status != "" && batch.Status != status {
			continue
		}
		detailed, _ := s.state.getBatch(id)
		result = append(result, *detailed)
	}
	slices.SortFunc(result, func(a, b domain.ProductBatch) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.Code, a.Code)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListInventory(_ context.Context, storeID string) ([]domain.InventoryDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryDetail, 0, 32)
	for id, inv := range s.state.inventory {
		if storeID != "" && inv.StoreID != storeID {
			continue
		}
		detail, err := s.state.inventoryDetail(id)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	slices.SortFunc(result, func(a, b domain.InventoryDetail) int {
		if c := compareExpiry(a.ExpiryDate, b.ExpiryDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) RefreshInventoryStatuses(_ context.Context, today time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for id, inv := range s.state.inventory {
		batch, ok := s.state.batches[inv.BatchID]
		if !ok {
			continue
		}
		next := domain.ComputeInventoryStatus(inv.Status, batch.ExpiryDate, today)
		if next == inv.Status {
			continue
		}
		inv.Status = next
		s.state.inventory[id] = inv
		updated++
	}
	return updated, nil
}

func (s *Store) GetSupplyOrder(_ context.Context, orderID string) (*domain.SupplyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.assembleOrder(orderID)
}

func (s *Store) ListSupplyOrders(_ context.Context, filter domain.SupplyOrderFilter) ([]domain.SupplyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SupplyOrder, 0, 32)
	for id, order := range s.state.orders {
		if filter.StoreID != "" && order.StoreID != filter.StoreID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		assembled, err := s.state.assembleOrder(id)
		if err != nil {
			return nil, err
		}
		result = append(result, *assembled)
	}
	slices.SortFunc(result, func(a, b domain.SupplyOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.Code, a.Code)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.state.auditLogs = append(s.state.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.state.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return 0
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.state.usersByName[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.Role == "" {
		user.Role = domain.RoleStore
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.state.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := slices.Collect(maps.Values(s.state.usersByName))
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.state.usersByName[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.state.usersByName[username] = user
	return nil
}

func (st *state) getProduct(productID string) (*domain.Product, error) {
	p, ok := st.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (st *state) getBatch(batchID string) (*domain.ProductBatch, error) {
	batch, ok := st.batches[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p, ok := st.products[batch.ProductID]; ok {
		batch.ProductName = p.Name
		batch.Unit = p.Unit
	}
	return &batch, nil
}

func (st *state) inventoryDetail(inventoryID string) (*domain.InventoryDetail, error) {
	inv, ok := st.inventory[inventoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	detail := domain.InventoryDetail{Inventory: inv}
	if batch, ok := st.batches[inv.BatchID]; ok {
		detail.BatchCode = batch.Code
		detail.ProductID = batch.ProductID
		detail.ProductionDate = batch.ProductionDate
		detail.ExpiryDate = batch.ExpiryDate
		if p, ok := st.products[batch.ProductID]; ok {
			detail.ProductCode = p.Code
			detail.ProductName = p.Name
			detail.Unit = p.Unit
		}
	}
	return &detail, nil
}

func (st *state) assembleOrder(orderID string) (*domain.SupplyOrder, error) {
	order, ok := st.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Items = make([]domain.SupplyOrderItem, 0, len(st.orderItems[orderID]))
	for _, itemID := range st.orderItems[orderID] {
		item := st.items[itemID]
		item.Batches = make([]domain.SupplyOrderItemBatch, 0, len(st.itemLines[itemID]))
		for _, lineID := range st.itemLines[itemID] {
			item.Batches = append(item.Batches, st.lines[lineID])
		}
		order.Items = append(order.Items, item)
	}
	return &order, nil
}

// allocatableRows returns the central rows of a product that can still back
// an allocation on day today, in no particular order. Quantities are net of
// lines held by approved orders awaiting delivery.
func (st *state) allocatableRows(centralStoreID string, productID string, today time.Time) []domain.AllocatableBatch {
	held := st.heldByInventory()
	rows := make([]domain.AllocatableBatch, 0, 4)
	for _, inv := range st.inventory {
		if inv.StoreID != centralStoreID || !inv.Status.Allocatable() {
			continue
		}
		batch, ok := st.batches[inv.BatchID]
		if !ok || batch.ProductID != productID {
			continue
		}
		if domain.ComputeInventoryStatus(inv.Status, batch.ExpiryDate, today) == domain.InventoryExpired {
			continue
		}
		net := inv.Quantity - held[inv.ID]
		if net <= 0 {
			continue
		}
		rows = append(rows, domain.AllocatableBatch{
			InventoryID: inv.ID,
			BatchID:     inv.BatchID,
			Quantity:    net,
			ExpiryDate:  batch.ExpiryDate,
		})
	}
	return rows
}

// heldByInventory sums batch lines of orders still holding their allocation.
func (st *state) heldByInventory() map[string]int {
	held := make(map[string]int)
	for orderID, order := range st.orders {
		if !order.Status.HoldsAllocation() {
			continue
		}
		for _, itemID := range st.orderItems[orderID] {
			for _, lineID := range st.itemLines[itemID] {
				line := st.lines[lineID]
				held[line.InventoryID] += line.Quantity
			}
		}
	}
	return held
}

type memTx struct {
	st *state
}

func (tx *memTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	return tx.st.getProduct(productID)
}

func (tx *memTx) SupplyOrderCodeExists(_ context.Context, code string) (bool, error) {
	for _, order := range tx.st.orders {
		if order.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) CreateSupplyOrder(ctx context.Context, order domain.SupplyOrder) (*domain.SupplyOrder, error) {
	if order.Code == "" || order.StoreID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if exists, _ := tx.SupplyOrderCodeExists(ctx, order.Code); exists {
		return nil, fmt.Errorf("%w: supply order code %s already exists", store.ErrInvalidTransaction, order.Code)
	}
	if order.ID == "" {
		order.ID = xid.New("so")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	itemIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = xid.New("soi")
		}
		item.OrderID = order.ID
		item.Batches = nil
		tx.st.items[item.ID] = item
		itemIDs = append(itemIDs, item.ID)
	}
	tx.st.orderItems[order.ID] = itemIDs

	row := order
	row.Items = nil
	tx.st.orders[order.ID] = row
	return tx.st.assembleOrder(order.ID)
}

func (tx *memTx) GetSupplyOrderForUpdate(_ context.Context, orderID string) (*domain.SupplyOrder, error) {
	return tx.st.assembleOrder(orderID)
}

func (tx *memTx) TransitionOrderStatus(_ context.Context, orderID string, to domain.OrderStatus, from ...domain.OrderStatus) error {
	order, ok := tx.st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(from, order.Status) {
		return fmt.Errorf("%w: supply order %s is %s", store.ErrStatusConflict, orderID, order.Status)
	}
	order.Status = to
	tx.st.orders[orderID] = order
	return nil
}

func (tx *memTx) SetItemReview(_ context.Context, itemID string, approved *int, status domain.ItemStatus) error {
	item, ok := tx.st.items[itemID]
	if !ok {
		return store.ErrNotFound
	}
	if item.Status != domain.ItemPending {
		return fmt.Errorf("%w: item %s already reviewed", store.ErrInvalidState, itemID)
	}
	item.ApprovedQuantity = copyInt(approved)
	item.Status = status
	tx.st.items[itemID] = item
	return nil
}

func (tx *memTx) CreateItemBatch(_ context.Context, line domain.SupplyOrderItemBatch) (*domain.SupplyOrderItemBatch, error) {
	if _, ok := tx.st.items[line.ItemID]; !ok {
		return nil, store.ErrNotFound
	}
	if line.Quantity <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	if line.ID == "" {
		line.ID = xid.New("sob")
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	line.ReceiptedQuantity = nil
	line.StockedQuantity = nil
	tx.st.lines[line.ID] = line
	tx.st.itemLines[line.ItemID] = append(tx.st.itemLines[line.ItemID], line.ID)
	created := line
	return &created, nil
}

func (tx *memTx) SetReceiptedQuantity(_ context.Context, itemBatchID string, qty int) error {
	line, ok := tx.st.lines[itemBatchID]
	if !ok {
		return store.ErrNotFound
	}
	if line.ReceiptedQuantity != nil {
		return fmt.Errorf("%w: receipted quantity already set for %s", store.ErrInvalidState, itemBatchID)
	}
	if qty < 0 || qty > line.Quantity {
		return fmt.Errorf("%w: receipted quantity must be between 0 and %d", store.ErrInvalidTransaction, line.Quantity)
	}
	line.ReceiptedQuantity = &qty
	tx.st.lines[itemBatchID] = line
	return nil
}

func (tx *memTx) SetStockedQuantity(_ context.Context, itemBatchID string, qty int) error {
	line, ok := tx.st.lines[itemBatchID]
	if !ok {
		return store.ErrNotFound
	}
	if line.ReceiptedQuantity == nil {
		return fmt.Errorf("%w: %s has not been received", store.ErrInvalidState, itemBatchID)
	}
	if line.StockedQuantity != nil {
		return fmt.Errorf("%w: stocked quantity already set for %s", store.ErrInvalidState, itemBatchID)
	}
	if qty < 0 || qty > *line.ReceiptedQuantity {
		return fmt.Errorf("%w: stocked quantity must be between 0 and %d", store.ErrInvalidTransaction, *line.ReceiptedQuantity)
	}
	line.StockedQuantity = &qty
	tx.st.lines[itemBatchID] = line
	return nil
}

func (tx *memTx) AvailableCentralQuantity(_ context.Context, centralStoreID string, productID string, today time.Time) (int, error) {
	total := 0
	for _, row := range tx.st.allocatableRows(centralStoreID, productID, today) {
		total += row.Quantity
	}
	return total, nil
}

func (tx *memTx) AllocatableBatches(_ context.Context, centralStoreID string, productID string, today time.Time) ([]domain.AllocatableBatch, error) {
	rows := tx.st.allocatableRows(centralStoreID, productID, today)
	allocation.SortFEFO(rows)
	return rows, nil
}

func (tx *memTx) DebitInventory(_ context.Context, inventoryID string, qty int) error {
	inv, ok := tx.st.inventory[inventoryID]
	if !ok {
		return store.ErrNotFound
	}
	if qty <= 0 {
		return store.ErrInvalidTransaction
	}
	if inv.Status == domain.InventoryDisposed {
		return fmt.Errorf("%w: inventory %s is disposed", store.ErrInvalidState, inventoryID)
	}
	if inv.Quantity < qty {
		return fmt.Errorf("%w: inventory %s holds %d, need %d", store.ErrInsufficientStock, inventoryID, inv.Quantity, qty)
	}
	inv.Quantity -= qty
	tx.st.inventory[inventoryID] = inv
	return nil
}

func (tx *memTx) CreditStoreInventory(_ context.Context, storeID string, batchID string, qty int, status domain.InventoryStatus) error {
	if qty <= 0 {
		return store.ErrInvalidTransaction
	}
	for id, inv := range tx.st.inventory {
		if inv.StoreID != storeID || inv.BatchID != batchID {
			continue
		}
		inv.Quantity += qty
		if inv.Status != domain.InventoryDisposed {
			inv.Status = status
		}
		tx.st.inventory[id] = inv
		return nil
	}
	inv := domain.Inventory{
		ID:        xid.New("inv"),
		StoreID:   storeID,
		BatchID:   batchID,
		Quantity:  qty,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	tx.st.inventory[inv.ID] = inv
	return nil
}

func (tx *memTx) BatchCodeExists(_ context.Context, code string) (bool, error) {
	for _, batch := range tx.st.batches {
		if batch.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) CreateBatch(ctx context.Context, batch domain.ProductBatch) (*domain.ProductBatch, error) {
	if batch.Code == "" || batch.ProductID == "" || batch.PlannedQuantity <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	if exists, _ := tx.BatchCodeExists(ctx, batch.Code); exists {
		return nil, fmt.Errorf("%w: batch code %s already exists", store.ErrInvalidTransaction, batch.Code)
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	batch.ProductName = ""
	batch.Unit = ""
	tx.st.batches[batch.ID] = batch
	return tx.st.getBatch(batch.ID)
}

func (tx *memTx) GetBatchForUpdate(_ context.Context, batchID string) (*domain.ProductBatch, error) {
	return tx.st.getBatch(batchID)
}

func (tx *memTx) UpdateBatch(_ context.Context, batch domain.ProductBatch) error {
	if _, ok := tx.st.batches[batch.ID]; !ok {
		return store.ErrNotFound
	}
	batch.ProductName = ""
	batch.Unit = ""
	tx.st.batches[batch.ID] = batch
	return nil
}

func (tx *memTx) CreateInventory(_ context.Context, inv domain.Inventory) (*domain.Inventory, error) {
	if inv.StoreID == "" || inv.BatchID == "" || inv.Quantity < 0 {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range tx.st.inventory {
		if existing.StoreID == inv.StoreID && existing.BatchID == inv.BatchID {
			return nil, fmt.Errorf("%w: inventory for batch %s already exists", store.ErrInvalidState, inv.BatchID)
		}
	}
	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	tx.st.inventory[inv.ID] = inv
	created := inv
	return &created, nil
}

func (tx *memTx) GetInventoryForUpdate(_ context.Context, inventoryID string) (*domain.InventoryDetail, error) {
	return tx.st.inventoryDetail(inventoryID)
}

func (tx *memTx) DisposeInventory(_ context.Context, inventoryID string, reason domain.DisposalReason, at time.Time) error {
	inv, ok := tx.st.inventory[inventoryID]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status == domain.InventoryDisposed {
		return fmt.Errorf("%w: inventory %s is already disposed", store.ErrInvalidState, inventoryID)
	}
	inv.Status = domain.InventoryDisposed
	inv.DisposedReason = reason
	inv.DisposedAt = &at
	tx.st.inventory[inventoryID] = inv
	return nil
}

func compareExpiry(a *time.Time, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
