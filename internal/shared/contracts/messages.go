package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
)

// OrderMessage is the UTF-8 JSON body published to the billing queue.
type OrderMessage struct {
	UserID        int64       `json:"user_id"`
	NumberOfItems int         `json:"number_of_items"`
	TotalAmount   json.Number `json:"total_amount"` // decimal in dollars, kept exact on the wire
	SubmittedAt   time.Time   `json:"submitted_at"`
}

// ValidationError lists every problem found in a candidate order payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid order: " + strings.Join(e.Problems, "; ")
}

// DecodeOrder parses a JSON object and coerces user_id, number_of_items and total_amount.
// Numbers may arrive as JSON numbers or numeric strings. submitted_at is optional; when present
// it must be RFC 3339.
func DecodeOrder(body []byte) (OrderMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return OrderMessage{}, &ValidationError{Problems: []string{"body must be a JSON object: " + err.Error()}}
	}
	if raw == nil {
		return OrderMessage{}, &ValidationError{Problems: []string{"body must be a JSON object"}}
	}

	var (
		msg      OrderMessage
		problems []string
	)

	// user_id
	if v, ok := present(raw, "user_id"); !ok {
		problems = append(problems, "user_id is required")
	} else if id, err := coerceInt(v); err != nil {
		problems = append(problems, "user_id "+err.Error())
	} else {
		msg.UserID = id
	}

	// number_of_items
	if v, ok := present(raw, "number_of_items"); !ok {
		problems = append(problems, "number_of_items is required")
	} else if n, err := coerceInt(v); err != nil {
		problems = append(problems, "number_of_items "+err.Error())
	} else if n <= 0 {
		problems = append(problems, "number_of_items must be a positive integer")
	} else if n > orders.MaxNumberOfItems {
		problems = append(problems, fmt.Sprintf("number_of_items must not exceed %d", orders.MaxNumberOfItems))
	} else {
		msg.NumberOfItems = int(n)
	}

	// total_amount
	if v, ok := present(raw, "total_amount"); !ok {
		problems = append(problems, "total_amount is required")
	} else if s, err := numericText(v); err != nil {
		problems = append(problems, "total_amount "+err.Error())
	} else if amount, err := orders.ParseAmount(s); err != nil {
		problems = append(problems, "total_amount "+err.Error())
	} else {
		msg.TotalAmount = json.Number(amount.String())
	}

	// submitted_at (stamped by the producer, optional on input)
	if v, ok := present(raw, "submitted_at"); ok {
		s, isString := v.(string)
		t, err := time.Parse(time.RFC3339Nano, s)
		if !isString || err != nil {
			problems = append(problems, "submitted_at must be an RFC 3339 timestamp")
		} else {
			msg.SubmittedAt = t.UTC()
		}
	}

	if len(problems) > 0 {
		return OrderMessage{}, &ValidationError{Problems: problems}
	}
	return msg, nil
}

// Order converts a validated message into the domain order that billing persists.
func (m OrderMessage) Order() (orders.Order, error) {
	amount, err := orders.ParseAmount(m.TotalAmount.String())
	if err != nil {
		return orders.Order{}, &ValidationError{Problems: []string{"total_amount " + err.Error()}}
	}
	return orders.Order{
		UserID:        m.UserID,
		NumberOfItems: m.NumberOfItems,
		TotalAmount:   amount,
		SubmittedAt:   m.SubmittedAt,
	}, nil
}

// present returns the value for key unless it is missing or JSON null.
func present(raw map[string]any, key string) (any, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// coerceInt accepts an integral JSON number or a string holding one.
func coerceInt(v any) (int64, error) {
	s, err := numericText(v)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("must be an integer, got %q", s)
	}
	return n, nil
}

// numericText returns the textual form of a JSON number or numeric string.
func numericText(v any) (string, error) {
	switch t := v.(type) {
	case json.Number:
		return t.String(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", fmt.Errorf("must not be empty")
		}
		return s, nil
	default:
		return "", fmt.Errorf("must be a number, got %T", v)
	}
}
