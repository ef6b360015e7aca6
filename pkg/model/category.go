package model

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies the kind of payload an Event carries.
type Category int

const (
	CategoryTick Category = iota
	CategoryBar
	CategoryOrder
	CategoryFill
	CategoryCancel
	CategoryOrderStatus
	CategoryAccount
	CategoryPosition
	CategoryContract
	CategoryHistorical
	CategoryTimer
	CategoryLog

	// NumCategories is the size of any table indexed by Category.
	NumCategories
)

var categoryNames = [NumCategories]string{
	"TICK", "BAR", "ORDER", "FILL", "CANCEL", "ORDERSTATUS",
	"ACCOUNT", "POSITION", "CONTRACT", "HISTORICAL", "TIMER", "LOG",
}

// String returns the upper-case category name.
func (c Category) String() string {
	if c < 0 || c >= NumCategories {
		return "UNKNOWN"
	}
	return categoryNames[c]
}

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	return c >= 0 && c < NumCategories
}

// ParseCategory converts a category name (case-insensitive) to a Category.
func ParseCategory(s string) (Category, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event category %q", s)
}

// Event is implemented by every payload that travels over the bus.
// Events are values and must not be mutated after Publish.
type Event interface {
	Category() Category
	Time() time.Time
}
