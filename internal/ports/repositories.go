package ports

import (
	"context"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
)

// UnitOfWork wraps a function in a DB transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository is the billing store surface. InsertOrder is append-only: it never
// deduplicates, so redelivered messages produce additional rows.
type OrderRepository interface {
	InsertOrder(ctx context.Context, order *orders.Order) error
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	List(ctx context.Context, limit int) ([]orders.Order, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
