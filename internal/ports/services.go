package ports

import (
	"context"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/contracts"
)

// Publisher hands a message body to the broker. Implementations fail fast when the broker is not ready.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// IntakeService handles POST /api/billing: validate -> stamp submitted_at -> publish.
type IntakeService interface {
	SubmitOrder(ctx context.Context, body []byte) (contracts.OrderMessage, error)
}

// BillingService persists consumed order messages and serves the read API.
type BillingService interface {
	RecordOrder(ctx context.Context, msg contracts.OrderMessage, messageID string) (*orders.Order, error)
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	ListOrders(ctx context.Context, limit int) ([]orders.Order, error)
}
