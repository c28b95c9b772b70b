package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/govalues/decimal"
	"github.com/jackc/pgx/v5"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-intake/internal/ports"
)

// OrdersRepo implements persistence for billing orders using pgx and SQL.
type OrdersRepo struct{}

// NewOrdersRepo constructs a new OrdersRepo.
func NewOrdersRepo() ports.OrderRepository {
	return &OrdersRepo{}
}

const orderColumns = `id, user_id, number_of_items, total_amount::text, status, COALESCE(message_id, ''), submitted_at, created_at`

// InsertOrder appends a row and fills the generated id and created_at.
func (r *OrdersRepo) InsertOrder(ctx context.Context, order *orders.Order) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	// note: total_amount travels as text and is cast to NUMERIC to stay exact.
	return tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, number_of_items, total_amount, status, message_id, submitted_at)
		VALUES ($1, $2, $3::numeric, $4, NULLIF($5, ''), $6)
		RETURNING id, created_at`,
		order.UserID,
		order.NumberOfItems,
		order.TotalAmount.String(),
		string(order.Status),
		order.MessageID,
		nullableTime(order.SubmittedAt),
	).Scan(&order.ID, &order.CreatedAt)
}

// GetByID returns a single order or pgx.ErrNoRows.
func (r *OrdersRepo) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	order, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns the newest orders first.
func (r *OrdersRepo) List(ctx context.Context, limit int) ([]orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]orders.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, order)
	}

	return list, rows.Err()
}

// scanOrder reads one row selected with orderColumns.
func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		order       orders.Order
		amount      string
		status      string
		submittedAt *time.Time
	)

	if err := row.Scan(&order.ID, &order.UserID, &order.NumberOfItems, &amount, &status, &order.MessageID, &submittedAt, &order.CreatedAt); err != nil {
		return orders.Order{}, err
	}

	d, err := decimal.Parse(amount)
	if err != nil {
		return orders.Order{}, fmt.Errorf("scan total_amount %q: %w", amount, err)
	}
	order.TotalAmount = d
	order.Status = orders.OrderStatus(status)
	if !order.Status.Valid() {
		return orders.Order{}, fmt.Errorf("scan status: unknown order status %q", status)
	}
	if submittedAt != nil {
		order.SubmittedAt = submittedAt.UTC()
	}

	return order, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
