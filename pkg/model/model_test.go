package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory_StringAndParse(t *testing.T) {
	for c := Category(0); c < NumCategories; c++ {
		parsed, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCategory("quote")
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", Category(99).String())
	assert.False(t, NumCategories.Valid())
}

func TestEvents_ReportTheirCategory(t *testing.T) {
	events := []Event{
		TickEvent{}, BarEvent{}, OrderEvent{}, FillEvent{}, CancelEvent{}, OrderStatusEvent{},
		AccountEvent{}, PositionEvent{}, ContractEvent{}, HistoricalEvent{}, TimerEvent{}, LogEvent{},
	}
	require.Len(t, events, int(NumCategories))
	for i, ev := range events {
		assert.Equal(t, Category(i), ev.Category())
	}
}

func TestOrderTypeFromString(t *testing.T) {
	tests := []struct {
		in   string
		want OrderType
	}{
		{"MKT", OrderTypeMarket},
		{"market", OrderTypeMarket},
		{"LMT", OrderTypeLimit},
		{"STP", OrderTypeStop},
		{"STP LMT", OrderTypeStopLimit},
		{"stop_limit", OrderTypeStopLimit},
		{"TRAIL", OrderTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, OrderTypeFromString(tt.in))
		})
	}
	assert.Equal(t, "STP LMT", OrderTypeStopLimit.Code())
}

func TestOrderStatusFromBroker(t *testing.T) {
	assert.Equal(t, OrderStatusAcknowledged, OrderStatusFromBroker("PreSubmitted"))
	assert.Equal(t, OrderStatusAcknowledged, OrderStatusFromBroker("PendingCancel"))
	assert.Equal(t, OrderStatusFilled, OrderStatusFromBroker("Filled"))
	assert.Equal(t, OrderStatusCancelled, OrderStatusFromBroker("ApiCancelled"))
	assert.Equal(t, OrderStatusNone, OrderStatusFromBroker("whatever"))
	assert.True(t, OrderStatusFilled.Terminal())
	assert.False(t, OrderStatusPartiallyFilled.Terminal())
}

func TestOrder_Validate(t *testing.T) {
	base := Order{Symbol: "AMZN STK SMART", Size: decimal.NewFromInt(10), Type: OrderTypeMarket}
	require.NoError(t, base.Validate())

	noSize := base
	noSize.Size = decimal.Zero
	assert.True(t, errors.Is(noSize.Validate(), ErrInvalidOrder))

	limit := base
	limit.Type = OrderTypeLimit
	assert.ErrorIs(t, limit.Validate(), ErrInvalidOrder)
	limit.LimitPrice = decimal.NewFromInt(100)
	assert.NoError(t, limit.Validate())

	stopLimit := base
	stopLimit.Type = OrderTypeStopLimit
	stopLimit.LimitPrice = decimal.NewFromInt(100)
	assert.ErrorIs(t, stopLimit.Validate(), ErrInvalidOrder)
}

func TestOrder_Remaining(t *testing.T) {
	o := Order{Size: decimal.NewFromInt(-10), Filled: decimal.NewFromInt(-4)}
	assert.True(t, o.Remaining().Equal(decimal.NewFromInt(-6)))
	assert.False(t, o.IsBuy())
}

func TestTickEvent_Mark(t *testing.T) {
	px, ok := TickEvent{Price: decimal.NewFromInt(101)}.Mark()
	require.True(t, ok)
	assert.True(t, px.Equal(decimal.NewFromInt(101)))

	px, ok = TickEvent{BidPrice: decimal.NewFromInt(100), AskPrice: decimal.NewFromInt(101)}.Mark()
	require.True(t, ok)
	assert.Equal(t, "100.5", px.String())

	_, ok = TickEvent{BidPrice: decimal.NewFromInt(100)}.Mark()
	assert.False(t, ok)
}
