package contract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToNative_AssetClasses(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		check  func(t *testing.T, n Native)
	}{
		{"stock", "AMZN STK SMART", func(t *testing.T, n Native) {
			assert.Equal(t, SecTypeStock, n.SecType)
			assert.Equal(t, "AMZN", n.LocalSymbol)
			assert.Equal(t, "USD", n.Currency)
			assert.Equal(t, "SMART", n.Exchange)
		}},
		{"cash", "EURGBP CASH IDEALPRO", func(t *testing.T, n Native) {
			assert.Equal(t, "EUR", n.Symbol)
			assert.Equal(t, "GBP", n.Currency)
			assert.Equal(t, "IDEALPRO", n.Exchange)
		}},
		{"future with spaces", "YM___SEP_20 FUT ECBOT", func(t *testing.T, n Native) {
			assert.Equal(t, "YM   SEP 20", n.LocalSymbol)
		}},
		{"option", "AAPL OPT 20201016 128.75 C SMART", func(t *testing.T, n Native) {
			assert.Equal(t, "AAPL", n.Symbol)
			assert.Equal(t, "20201016", n.Expiry)
			assert.True(t, n.Strike.Equal(decimal.RequireFromString("128.75")))
			assert.Equal(t, "C", n.Right)
			assert.Equal(t, "100", n.Multiplier)
		}},
		{"future option", "ES FOP 20200911 3450 C 50 GLOBEX", func(t *testing.T, n Native) {
			assert.Equal(t, "50", n.Multiplier)
			assert.Equal(t, "GLOBEX", n.Exchange)
		}},
		{"commodity", "XAUUSD CMDTY SMART", func(t *testing.T, n Native) {
			assert.Equal(t, "XAUUSD", n.Symbol)
		}},
		{"combo", "CL.HO BAG 174230608 1 NYMEX 257430162 1 NYMEX NYMEX", func(t *testing.T, n Native) {
			require.Len(t, n.Legs, 2)
			assert.Equal(t, ComboLeg{ConID: 174230608, Ratio: 1, Action: LegActionBuy, Exchange: "NYMEX"}, n.Legs[0])
			assert.Equal(t, LegActionSell, n.Legs[1].Action)
			assert.Equal(t, "NYMEX", n.Exchange)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ToNative(tt.symbol)
			require.NoError(t, err)
			tt.check(t, n)
		})
	}
}

func TestRoundTrip_NonCombo(t *testing.T) {
	symbols := []string{
		"AMZN STK SMART",
		"AMZN STK NASDAQ",
		"EURGBP CASH IDEALPRO",
		"ESM9 FUT GLOBEX",
		"YM___SEP_20 FUT ECBOT",
		"AAPL OPT 20201016 128.75 C SMART",
		"SPY OPT 202012 300 P CBOE",
		"ES FOP 20200911 3450 C 50 GLOBEX",
		"XAUUSD CMDTY SMART",
	}
	for _, s := range symbols {
		t.Run(s, func(t *testing.T) {
			n, err := ToNative(s)
			require.NoError(t, err)
			back, err := ToCanonical(n)
			require.NoError(t, err)
			assert.Equal(t, s, back)
		})
	}
}

func TestRoundTrip_ComboCollapses(t *testing.T) {
	n, err := ToNative("ES.NQ BAG 371749798 1 GLOBEX 371749745 1 GLOBEX GLOBEX")
	require.NoError(t, err)

	s, err := ToCanonical(n)
	require.NoError(t, err)
	assert.Equal(t, "ES.NQ BAG GLOBEX", s)
}

func TestToNative_Invalid(t *testing.T) {
	bad := []string{
		"",
		"AMZN",
		"AMZN STK",
		"AMZN XYZ SMART",
		"AMZN STK SMART EXTRA",
		"EURGB CASH IDEALPRO",
		"AAPL OPT 2020101 128.75 C SMART",
		"AAPL OPT 20201016 abc C SMART",
		"AAPL OPT 20201016 128.750 C SMART",
		"AAPL OPT 20201016 -5 C SMART",
		"AAPL OPT 20201016 128.75 X SMART",
		"ES FOP 20200911 3450 C fifty GLOBEX",
		"CL.HO BAG 174230608 1 NYMEX NYMEX",
		"CL.HO BAG 174230608 1 NYMEX 257430162 x NYMEX NYMEX",
		"CL.HO BAG 174230608 1 NYMEX 257430162 1 NYMEX",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := ToNative(s)
			assert.ErrorIs(t, err, ErrInvalidSymbol)
		})
	}
}

func TestToCanonical_FuturePrefersPrimaryExchange(t *testing.T) {
	s, err := ToCanonical(Native{SecType: SecTypeFuture, LocalSymbol: "ESM9", Exchange: "SMART", PrimaryExchange: "GLOBEX"})
	require.NoError(t, err)
	assert.Equal(t, "ESM9 FUT GLOBEX", s)

	_, err = ToCanonical(Native{SecType: "WAR"})
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}
