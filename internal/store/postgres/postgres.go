package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string, log logrus.FieldLogger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{db: db, log: log.WithField("component", "postgres")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and registers the central kitchen as a
// store row. It is safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context, centralStoreID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	statements := splitStatements(schemaSQL)
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stores (id, name, address, is_central, created_at)
		VALUES ($1, 'Central Kitchen', '', true, now())
		ON CONFLICT (id) DO UPDATE SET is_central = true
	`, centralStoreID); err != nil {
		return fmt.Errorf("register central store: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.WithField("statements", len(statements)).Info("schema ensured")
	return nil
}

// BootstrapAdmin creates an "admin" account when the users table is empty.
// The password is stored as given and hashed by the auth layer on startup.
func (s *Store) BootstrapAdmin(ctx context.Context, password string) (bool, error) {
	if strings.TrimSpace(password) == "" {
		return false, store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password, role, store_id, active, created_at)
		SELECT $1, 'admin', $2, $3, NULL, true, now()
		WHERE NOT EXISTS (SELECT 1 FROM users)
	`, xid.New("user"), password, string(domain.RoleAdmin))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.withTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(ctx, &pgTx{tx: sqlTx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(sqlTx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(sqlTx); err != nil {
		return mapTxError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, unit, active, created_at
		FROM products
		WHERE $1 OR active = true
		ORDER BY code
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, s.db, productID, false)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.Unit == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, unit, active, created_at)
		VALUES ($1, $2, $3, $4, true, $5)
	`, product.ID, product.Code, product.Name, product.Unit, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product code %s already exists", store.ErrInvalidTransaction, product.Code)
		}
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Unit == "" {
		return nil, store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET name = $2, unit = $3, active = $4
		WHERE id = $1
	`, product.ID, product.Name, product.Unit, product.Active)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, is_central, created_at
		FROM stores
		ORDER BY id COLLATE "C"
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Central, &st.CreatedAt); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, is_central, created_at
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Name, &st.Address, &st.Central, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	if strings.TrimSpace(st.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, address, is_central, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, st.ID, st.Name, st.Address, st.Central, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: store %s already exists", store.ErrInvalidTransaction, st.ID)
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.ProductBatch, error) {
	return getBatch(ctx, s.db, batchID, false)
}

func (s *Store) ListBatches(ctx context.Context, status domain.BatchStatus, limit int) ([]domain.ProductBatch, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, batchSelect+`
		WHERE ($1 = '' OR b.status = $1)
		ORDER BY b.created_at DESC, b.code DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.ProductBatch, 0, 32)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ListInventory(ctx context.Context, storeID string) ([]domain.InventoryDetail, error) {
	rows, err := s.db.QueryContext(ctx, inventorySelect+`
		WHERE ($1 = '' OR i.store_id = $1)
		ORDER BY b.expiry_date ASC NULLS LAST, i.id COLLATE "C"
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.InventoryDetail, 0, 64)
	for rows.Next() {
		detail, err := scanInventoryDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RefreshInventoryStatuses recomputes expiry statuses with the same rule the
// domain package applies elsewhere, writing only rows that change.
func (s *Store) RefreshInventoryStatuses(ctx context.Context, today time.Time) (int, error) {
	updated := 0
	err := s.withTx(ctx, func(sqlTx *sql.Tx) error {
		rows, err := sqlTx.QueryContext(ctx, `
			SELECT i.id, i.status, b.expiry_date
			FROM inventory i
			JOIN product_batches b ON b.id = i.batch_id
			WHERE i.status <> $1
			FOR UPDATE OF i
		`, string(domain.InventoryDisposed))
		if err != nil {
			return err
		}

		type change struct {
			id     string
			status domain.InventoryStatus
		}
		changes := make([]change, 0, 16)
		for rows.Next() {
			var (
				id      string
				current domain.InventoryStatus
				expiry  sql.NullTime
			)
			if err := rows.Scan(&id, &current, &expiry); err != nil {
				rows.Close()
				return err
			}
			next := domain.ComputeInventoryStatus(current, timePtr(expiry), today)
			if next != current {
				changes = append(changes, change{id: id, status: next})
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, c := range changes {
			if _, err := sqlTx.ExecContext(ctx, `UPDATE inventory SET status = $2 WHERE id = $1`, c.id, string(c.status)); err != nil {
				return err
			}
		}
		updated = len(changes)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *Store) GetSupplyOrder(ctx context.Context, orderID string) (*domain.SupplyOrder, error) {
	return assembleOrder(ctx, s.db, orderID, false)
}

func (s *Store) ListSupplyOrders(ctx context.Context, filter domain.SupplyOrderFilter) ([]domain.SupplyOrder, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, orderSelect+`
		WHERE ($1 = '' OR store_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, code DESC
		LIMIT $3
	`, filter.StoreID, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.SupplyOrder, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	items, err := loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = itemsOrEmpty(items[orders[i].ID])
	}
	return orders, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, string(entry.ActorRole), entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
		  AND created_at >= $2
		  AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(
			&entry.ID,
			&entry.StoreID,
			&entry.ActorUsername,
			&entry.ActorRole,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Detail,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.Role == "" {
		user.Role = domain.RoleStore
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password, role, store_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6)
	`, user.ID, username, user.Password, string(user.Role), nullIfEmpty(user.StoreID), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, COALESCE(store_id, ''), active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
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

const batchSelect = `
	SELECT b.id, b.code, b.product_id, p.name, p.unit, b.status, b.planned_quantity,
	       b.produced_quantity, b.production_date, b.expiry_date, b.created_at
	FROM product_batches b
	JOIN products p ON p.id = b.product_id
`

const inventorySelect = `
	SELECT i.id, i.store_id, i.batch_id, i.quantity, i.status, COALESCE(i.disposed_reason, ''),
	       i.disposed_at, i.created_at, b.code, p.id, p.code, p.name, p.unit,
	       b.production_date, b.expiry_date
	FROM inventory i
	JOIN product_batches b ON b.id = i.batch_id
	JOIN products p ON p.id = b.product_id
`

const orderSelect = `
	SELECT id, code, store_id, status, created_by, created_at
	FROM supply_orders
`

func getProduct(ctx context.Context, q querier, productID string, forUpdate bool) (*domain.Product, error) {
	query := `SELECT id, code, name, unit, active, created_at FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR SHARE`
	}
	p, err := scanProduct(q.QueryRowContext(ctx, query, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func getBatch(ctx context.Context, q querier, batchID string, forUpdate bool) (*domain.ProductBatch, error) {
	query := batchSelect + ` WHERE b.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF b`
	}
	batch, err := scanBatch(q.QueryRowContext(ctx, query, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return batch, nil
}

func scanBatch(row rowScanner) (*domain.ProductBatch, error) {
	var (
		batch          domain.ProductBatch
		produced       sql.NullInt64
		productionDate sql.NullTime
		expiryDate     sql.NullTime
	)
	if err := row.Scan(
		&batch.ID,
		&batch.Code,
		&batch.ProductID,
		&batch.ProductName,
		&batch.Unit,
		&batch.Status,
		&batch.PlannedQuantity,
		&produced,
		&productionDate,
		&expiryDate,
		&batch.CreatedAt,
	); err != nil {
		return nil, err
	}
	batch.ProducedQuantity = intPtr(produced)
	batch.ProductionDate = datePtr(productionDate)
	batch.ExpiryDate = datePtr(expiryDate)
	return &batch, nil
}

func getInventoryDetail(ctx context.Context, q querier, inventoryID string, forUpdate bool) (*domain.InventoryDetail, error) {
	query := inventorySelect + ` WHERE i.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF i`
	}
	detail, err := scanInventoryDetail(q.QueryRowContext(ctx, query, inventoryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return detail, nil
}

func scanInventoryDetail(row rowScanner) (*domain.InventoryDetail, error) {
	var (
		detail         domain.InventoryDetail
		disposedAt     sql.NullTime
		productionDate sql.NullTime
		expiryDate     sql.NullTime
	)
	if err := row.Scan(
		&detail.ID,
		&detail.StoreID,
		&detail.BatchID,
		&detail.Quantity,
		&detail.Status,
		&detail.DisposedReason,
		&disposedAt,
		&detail.CreatedAt,
		&detail.BatchCode,
		&detail.ProductID,
		&detail.ProductCode,
		&detail.ProductName,
		&detail.Unit,
		&productionDate,
		&expiryDate,
	); err != nil {
		return nil, err
	}
	detail.DisposedAt = timePtr(disposedAt)
	detail.ProductionDate = datePtr(productionDate)
	detail.ExpiryDate = datePtr(expiryDate)
	return &detail, nil
}

func scanOrder(row rowScanner) (*domain.SupplyOrder, error) {
	var order domain.SupplyOrder
	if err := row.Scan(&order.ID, &order.Code, &order.StoreID, &order.Status, &order.CreatedBy, &order.CreatedAt); err != nil {
		return nil, err
	}
	return &order, nil
}

func assembleOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (*domain.SupplyOrder, error) {
	query := orderSelect + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadItems(ctx, q, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = itemsOrEmpty(items[order.ID])
	return order, nil
}

// loadItems returns the items of the given orders with their allocation
// lines, keyed by order id and kept in insertion order.
func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.SupplyOrderItem, error) {
	result := make(map[string][]domain.SupplyOrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, requested_quantity, approved_quantity, status
		FROM supply_order_items
		WHERE order_id = ANY($1)
		ORDER BY seq
	`, orderIDs)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SupplyOrderItem, 0, len(orderIDs)*2)
	for itemRows.Next() {
		var (
			item     domain.SupplyOrderItem
			approved sql.NullInt64
		)
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.RequestedQuantity, &approved, &item.Status); err != nil {
			itemRows.Close()
			return nil, err
		}
		item.ApprovedQuantity = intPtr(approved)
		item.Batches = []domain.SupplyOrderItemBatch{}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		itemRows.Close()
		return nil, err
	}
	itemRows.Close()

	lineRows, err := q.QueryContext(ctx, `
		SELECT l.id, l.item_id, l.batch_id, l.inventory_id, l.quantity,
		       l.receipted_quantity, l.stocked_quantity, l.created_at
		FROM supply_order_item_batches l
		JOIN supply_order_items i ON i.id = l.item_id
		WHERE i.order_id = ANY($1)
		ORDER BY l.seq
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	linesByItem := make(map[string][]domain.SupplyOrderItemBatch, len(items))
	for lineRows.Next() {
		var (
			line      domain.SupplyOrderItemBatch
			receipted sql.NullInt64
			stocked   sql.NullInt64
		)
		if err := lineRows.Scan(&line.ID, &line.ItemID, &line.BatchID, &line.InventoryID, &line.Quantity, &receipted, &stocked, &line.CreatedAt); err != nil {
			return nil, err
		}
		line.ReceiptedQuantity = intPtr(receipted)
		line.StockedQuantity = intPtr(stocked)
		linesByItem[line.ItemID] = append(linesByItem[line.ItemID], line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	for _, item := range items {
		if lines, ok := linesByItem[item.ID]; ok {
			item.Batches = lines
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	return result, nil
}

func itemsOrEmpty(items []domain.SupplyOrderItem) []domain.SupplyOrderItem {
	if items == nil {
		return []domain.SupplyOrderItem{}
	}
	return items
}

// splitStatements breaks the embedded schema into single statements; the
// extended protocol accepts one statement per Exec.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// mapTxError turns serialization failures and deadlocks into
// ErrStatusConflict so callers see the same error as a lost status race.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: concurrent update, retry: %s", store.ErrStatusConflict, pgErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func intPtr(val sql.NullInt64) *int {
	if !val.Valid {
		return nil
	}
	v := int(val.Int64)
	return &v
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

func datePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	d := nowDateUTC(val.Time)
	return &d
}
