package model

import (
	"errors"
	"fmt"
)

// ErrInvalidOrder is returned when an order fails local validation.
var ErrInvalidOrder = errors.New("invalid order")

func errInvalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidOrder, reason)
}
