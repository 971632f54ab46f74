package domain

import "errors"

var (
	ErrEmptyOrder         = errors.New("order has no lines")
	ErrInvalidLine        = errors.New("invalid order line")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrBelowMinimum       = errors.New("down-payment below minimum")
	ErrExceedsTotal       = errors.New("down-payment must be less than order total")
	ErrInsufficientTender = errors.New("cash tendered is less than amount due")
	ErrMissingProof       = errors.New("proof of payment required")
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
	ErrInvalidState       = errors.New("operation not allowed in current order status")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidBatch       = errors.New("invalid stock batch")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrForbidden          = errors.New("admin role required")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrEmptyOrder, "EmptyOrder"},
	{ErrInvalidLine, "InvalidLine"},
	{ErrInvalidOrder, "InvalidOrder"},
	{ErrBelowMinimum, "BelowMinimum"},
	{ErrExceedsTotal, "ExceedsTotal"},
	{ErrInsufficientTender, "InsufficientTender"},
	{ErrMissingProof, "MissingProof"},
	{ErrUnsupportedMethod, "UnsupportedMethod"},
	{ErrInvalidState, "InvalidState"},
	{ErrInsufficientStock, "InsufficientStock"},
	{ErrInvalidBatch, "InvalidBatch"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrForbidden, "Forbidden"},
}

// ErrorKind names the failure kind carried by err, or "" for errors outside
// the engine taxonomy.
func ErrorKind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}
