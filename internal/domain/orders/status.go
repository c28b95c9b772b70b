package orders

// OrderStatus is a custom type that represents the state a billing row was written in.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusProcessed OrderStatus = "processed"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed:
		return true
	default:
		return false
	}
}
