package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
)

// memoryStore is an append-only in-memory stand-in for the Postgres unit of work and repository.
type memoryStore struct {
	mu       sync.Mutex
	rows     []orders.Order
	nextID   int64
	failures []error
	inserts  int
	lastList int

	beforeInsert func() // runs outside the lock on every insert
}

func (s *memoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// failNext makes the next len(errs) inserts fail with errs in order.
func (s *memoryStore) failNext(errs ...error) {
	s.mu.Lock()
	s.failures = append(s.failures, errs...)
	s.mu.Unlock()
}

func (s *memoryStore) InsertOrder(_ context.Context, order *orders.Order) error {
	if s.beforeInsert != nil {
		s.beforeInsert()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inserts++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}

	s.nextID++
	order.ID = s.nextID
	order.CreatedAt = time.Now().UTC()
	s.rows = append(s.rows, *order)
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rows {
		if s.rows[i].ID == id {
			o := s.rows[i]
			return &o, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memoryStore) List(_ context.Context, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastList = limit
	out := make([]orders.Order, 0, limit)
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.rows[i])
	}
	return out, nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) all() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.Order(nil), s.rows...)
}

func (s *memoryStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

var errTransient = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
