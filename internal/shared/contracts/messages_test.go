package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOrder_Valid(t *testing.T) {
	msg, err := DecodeOrder([]byte(`{"user_id":1,"number_of_items":2,"total_amount":19.99}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1), msg.UserID)
	assert.Equal(t, 2, msg.NumberOfItems)
	assert.Equal(t, json.Number("19.99"), msg.TotalAmount)
	assert.True(t, msg.SubmittedAt.IsZero())
}

func TestDecodeOrder_CoercesStrings(t *testing.T) {
	msg, err := DecodeOrder([]byte(`{"user_id":"42","number_of_items":" 3 ","total_amount":"0"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(42), msg.UserID)
	assert.Equal(t, 3, msg.NumberOfItems)
	assert.Equal(t, json.Number("0"), msg.TotalAmount)
}

func TestDecodeOrder_SubmittedAt(t *testing.T) {
	msg, err := DecodeOrder([]byte(`{"user_id":1,"number_of_items":1,"total_amount":1,"submitted_at":"2026-10-19T08:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), msg.SubmittedAt)

	_, err = DecodeOrder([]byte(`{"user_id":1,"number_of_items":1,"total_amount":1,"submitted_at":"yesterday"}`))
	assert.Error(t, err)
}

func TestDecodeOrder_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		problem string
	}{
		{"missing user_id", `{"number_of_items":2,"total_amount":19.99}`, "user_id is required"},
		{"null user_id", `{"user_id":null,"number_of_items":2,"total_amount":19.99}`, "user_id is required"},
		{"missing number_of_items", `{"user_id":1,"total_amount":19.99}`, "number_of_items is required"},
		{"missing total_amount", `{"user_id":1,"number_of_items":2}`, "total_amount is required"},
		{"fractional user_id", `{"user_id":1.5,"number_of_items":2,"total_amount":1}`, "user_id must be an integer"},
		{"boolean user_id", `{"user_id":true,"number_of_items":2,"total_amount":1}`, "user_id must be a number"},
		{"zero items", `{"user_id":1,"number_of_items":0,"total_amount":1}`, "number_of_items must be a positive integer"},
		{"negative amount", `{"user_id":1,"number_of_items":1,"total_amount":-3}`, "total_amount must be non-negative"},
		{"items above int4", `{"user_id":1,"number_of_items":2147483648,"total_amount":1}`, "number_of_items must not exceed 2147483647"},
		{"items beyond int64", `{"user_id":1,"number_of_items":"99999999999999999999","total_amount":1}`, "number_of_items must be an integer"},
		{"amount above numeric(12,2)", `{"user_id":1,"number_of_items":1,"total_amount":10000000000}`, "total_amount must not exceed 9999999999.99"},
		{"amount rounding past the limit", `{"user_id":1,"number_of_items":1,"total_amount":"9999999999.999"}`, "total_amount must not exceed"},
		{"word amount", `{"user_id":1,"number_of_items":1,"total_amount":"lots"}`, "total_amount not a decimal"},
		{"not an object", `[1,2,3]`, "body must be a JSON object"},
		{"not json", `user_id=1`, "body must be a JSON object"},
		{"json null", `null`, "body must be a JSON object"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeOrder([]byte(tc.body))
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tc.problem)
		})
	}
}

func TestDecodeOrder_AcceptsColumnLimits(t *testing.T) {
	msg, err := DecodeOrder([]byte(`{"user_id":1,"number_of_items":2147483647,"total_amount":"9999999999.99"}`))
	require.NoError(t, err)

	assert.Equal(t, 2147483647, msg.NumberOfItems)
	assert.Equal(t, json.Number("9999999999.99"), msg.TotalAmount)

	order, err := msg.Order()
	require.NoError(t, err)
	assert.Equal(t, "9999999999.99", order.TotalAmount.String())
}

func TestOrderMessage_OrderRejectsOutOfRangeAmount(t *testing.T) {
	_, err := OrderMessage{UserID: 1, NumberOfItems: 1, TotalAmount: "123456789012.50"}.Order()

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), "total_amount must not exceed")
}

func TestDecodeOrder_ReportsAllProblems(t *testing.T) {
	_, err := DecodeOrder([]byte(`{}`))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 3)
}

func TestOrderMessage_RoundTripKeepsAmountExact(t *testing.T) {
	in := OrderMessage{UserID: 1, NumberOfItems: 2, TotalAmount: "19.99", SubmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	body, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":1,"number_of_items":2,"total_amount":19.99,"submitted_at":"2026-01-02T03:04:05Z"}`, string(body))

	out, err := DecodeOrder(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	order, err := out.Order()
	require.NoError(t, err)
	assert.Equal(t, "19.99", order.TotalAmount.String())
	assert.Equal(t, in.SubmittedAt, order.SubmittedAt)
}
