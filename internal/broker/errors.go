package broker

import "errors"

var (
	// ErrConnection means the broker could not be reached. Connect retries it
	// up to the configured ceiling before the adapter fails for good.
	ErrConnection = errors.New("broker connection error")

	ErrNotConnected      = errors.New("broker not connected")
	ErrOrderNotFound     = errors.New("order not found")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrDuplicateOrderID  = errors.New("duplicate order id")
)
