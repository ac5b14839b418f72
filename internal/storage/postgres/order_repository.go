package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	orderColumns = `
		id, order_number, customer_name, customer_email, customer_phone,
		shipping_address, billing_address, items, currency,
		subtotal_minor, shipping_minor, tax_minor, discount_minor, total_minor,
		status, payment_status, gateway_order_id, gateway_payment_id, gateway_signature,
		version, created_at, updated_at, paid_at`
)

// itemRecord - JSONB-представление позиции заказа.
type itemRecord struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Quantity   int32  `json:"quantity"`
	Image      string `json:"image,omitempty"`
}

type addressRecord struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create в одной транзакции списывает остатки условным UPDATE и вставляет заказ.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	items, shipping, billing, err := encodeOrderDocuments(order)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = decrementStockTx(ctx, tx, order.Items); err != nil {
		return err
	}

	var paidAt sql.NullTime
	if !order.PaidAt.IsZero() {
		paidAt = sql.NullTime{Time: order.PaidAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		order.ID, order.Number, order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		shipping, billing, items, order.Currency,
		order.SubtotalMinor, order.ShippingMinor, order.TaxMinor, order.DiscountMinor, order.TotalMinor,
		string(order.Status), string(order.PaymentStatus), order.GatewayOrderID, order.GatewayPaymentID, order.GatewaySignature,
		order.Version, order.CreatedAt, order.UpdatedAt, paidAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

// decrementStockTx списывает остаток по каждой позиции. Позиции одного товара суммируются,
// товары обходятся в порядке ID, чтобы параллельные транзакции брали блокировки одинаково.
func decrementStockTx(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error {
	need, err := domain.SumQuantities(items)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(items))
	ids := make([]string, 0, len(need))
	for _, item := range items {
		if _, seen := names[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
			names[item.ProductID] = item.Name
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1,
			    updated_at = NOW()
			WHERE id = $2
			  AND active
			  AND stock_quantity >= $1
		`, need[id], id)
		if err != nil {
			return fmt.Errorf("decrement stock for %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for stock %s: %w", id, err)
		}
		if affected == 1 {
			continue
		}
		return classifyUnavailableTx(ctx, tx, id, names[id], need[id])
	}

	return nil
}

func classifyUnavailableTx(ctx context.Context, tx *sql.Tx, id, name string, requested int32) error {
	var product domain.Product
	err := tx.QueryRowContext(ctx, `
		SELECT id, name, stock_quantity, active FROM products WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.StockQuantity, &product.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ProductUnavailableError{ProductID: id, Name: name, Requested: requested, Reason: domain.ErrProductNotFound}
	}
	if err != nil {
		return fmt.Errorf("classify stock failure for %s: %w", id, err)
	}
	if unavailable := product.CheckAvailable(requested); unavailable != nil {
		return unavailable
	}
	// Строка изменилась между UPDATE и SELECT: считаем это нехваткой остатка.
	return &domain.ProductUnavailableError{ProductID: id, Name: product.Name, Requested: requested, Available: product.StockQuantity, Reason: domain.ErrInsufficientStock}
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return r.getBy(ctx, "order_number", number)
}

func (r *orderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if gatewayOrderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.getBy(ctx, "gateway_order_id", gatewayOrderID)
}

// getBy принимает только имена колонок из этого файла.
func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order by %s: %w", column, err)
	}
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PaymentStatus != "" {
		args = append(args, string(filter.PaymentStatus))
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

// Save обновляет изменяемые поля заказа. Номер, позиции и суммы не перезаписываются,
// gateway_payment_id можно записать только один раз.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var paidAt sql.NullTime
	if !order.PaidAt.IsZero() {
		paidAt = sql.NullTime{Time: order.PaidAt, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    gateway_payment_id = $3,
		    gateway_signature = $4,
		    paid_at = $5,
		    version = version + 1,
		    updated_at = $6
		WHERE id = $7
		  AND version = $8
		  AND (gateway_payment_id = '' OR gateway_payment_id = $3)
	`,
		string(order.Status),
		string(order.PaymentStatus),
		order.GatewayPaymentID,
		order.GatewaySignature,
		paidAt,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		exists, err = r.orderExistsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}

	return nil
}

func (r *orderRepository) orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                             domain.Order
		shippingRaw, billingRaw, itemsRaw []byte
		status, paymentStatus             string
		paidAt                            sql.NullTime
	)

	if err := row.Scan(
		&order.ID, &order.Number, &order.Customer.Name, &order.Customer.Email, &order.Customer.Phone,
		&shippingRaw, &billingRaw, &itemsRaw, &order.Currency,
		&order.SubtotalMinor, &order.ShippingMinor, &order.TaxMinor, &order.DiscountMinor, &order.TotalMinor,
		&status, &paymentStatus, &order.GatewayOrderID, &order.GatewayPaymentID, &order.GatewaySignature,
		&order.Version, &order.CreatedAt, &order.UpdatedAt, &paidAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if paidAt.Valid {
		order.PaidAt = paidAt.Time.UTC()
	}

	var items []itemRecord
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	order.Items = make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}

	var shipping, billing addressRecord
	if err := json.Unmarshal(shippingRaw, &shipping); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billingRaw, &billing); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	order.ShippingAddress = domain.Address(shipping)
	order.BillingAddress = domain.Address(billing)

	return order, nil
}

func encodeOrderDocuments(order domain.Order) (items, shipping, billing string, err error) {
	records := make([]itemRecord, 0, len(order.Items))
	for _, item := range order.Items {
		records = append(records, itemRecord(item))
	}

	itemsJSON, err := json.Marshal(records)
	if err != nil {
		return "", "", "", fmt.Errorf("encode order items: %w", err)
	}
	shippingJSON, err := json.Marshal(addressRecord(order.ShippingAddress))
	if err != nil {
		return "", "", "", fmt.Errorf("encode shipping address: %w", err)
	}
	billingJSON, err := json.Marshal(addressRecord(order.BillingAddress))
	if err != nil {
		return "", "", "", fmt.Errorf("encode billing address: %w", err)
	}

	return string(itemsJSON), string(shippingJSON), string(billingJSON), nil
}

// SQLSTATE коды, которые репозитории переводят в доменные ошибки.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isUniqueViolation(err error) bool {
	return hasSQLState(err, sqlStateUniqueViolation)
}

func isForeignKeyViolation(err error) bool {
	return hasSQLState(err, sqlStateForeignKeyViolation)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
