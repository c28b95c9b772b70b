package orders

import (
	"time"

	"github.com/govalues/decimal"
)

// Order is a persisted billing record created from one processed order message.
type Order struct {
	ID            int64 // DB PK
	UserID        int64
	NumberOfItems int
	TotalAmount   decimal.Decimal // NUMERIC(12,2) in DB
	Status        OrderStatus
	MessageID     string // broker message id, not unique: redelivery may insert twice
	SubmittedAt   time.Time
	CreatedAt     time.Time
}
