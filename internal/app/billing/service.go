package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-intake/internal/ports"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Service implements ports.BillingService.
type Service struct {
	uow    ports.UnitOfWork
	repo   ports.OrderRepository
	logger *logger.Logger
}

// Ensure Service implements the interface at compile time.
var _ ports.BillingService = (*Service)(nil)

// New creates a new billing service with the required dependencies.
func New(uow ports.UnitOfWork, repo ports.OrderRepository, logger *logger.Logger) *Service {
	return &Service{uow: uow, repo: repo, logger: logger}
}

// RecordOrder inserts one row for msg. There is no idempotency key: a redelivered
// message is inserted again. Store errors come back wrapped by Retryable or Fatal.
func (service *Service) RecordOrder(ctx context.Context, msg contracts.OrderMessage, messageID string) (*orders.Order, error) {
	order, err := msg.Order()
	if err != nil {
		return nil, err
	}
	order.Status = orders.StatusProcessed
	order.MessageID = messageID

	err = service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.repo.InsertOrder(ctx, &order)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("insert order: %w", err))
	}

	return &order, nil
}

// GetOrder returns one persisted order or ErrNotFound.
func (service *Service) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	var order *orders.Order

	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = service.repo.GetByID(ctx, id)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}

	return order, nil
}

// ListOrders returns up to limit orders, newest first. limit is clamped to 1..MaxListLimit.
func (service *Service) ListOrders(ctx context.Context, limit int) ([]orders.Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var list []orders.Order
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		list, err = service.repo.List(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	return list, nil
}
