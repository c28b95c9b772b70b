package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
)

// stubRow feeds fixed column values to scanOrder in orderColumns order.
type stubRow struct {
	amount string
	status string
}

func (r stubRow) Scan(dest ...any) error {
	*dest[0].(*int64) = 7
	*dest[1].(*int64) = 42
	*dest[2].(*int) = 3
	*dest[3].(*string) = r.amount
	*dest[4].(*string) = r.status
	*dest[5].(*string) = "msg-7"
	*dest[6].(**time.Time) = nil
	*dest[7].(*time.Time) = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	return nil
}

func TestScanOrder(t *testing.T) {
	order, err := scanOrder(stubRow{amount: "19.99", status: "processed"})
	require.NoError(t, err)

	assert.Equal(t, int64(7), order.ID)
	assert.Equal(t, 3, order.NumberOfItems)
	assert.Equal(t, "19.99", order.TotalAmount.String())
	assert.Equal(t, orders.StatusProcessed, order.Status)
	assert.True(t, order.SubmittedAt.IsZero())
}

func TestScanOrder_PendingDefaultIsKnown(t *testing.T) {
	order, err := scanOrder(stubRow{amount: "0.00", status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, order.Status)
}

func TestScanOrder_RejectsUnknownStatus(t *testing.T) {
	_, err := scanOrder(stubRow{amount: "1.00", status: "cooking"})
	assert.ErrorContains(t, err, `unknown order status "cooking"`)
}
