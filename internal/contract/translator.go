// Package contract converts between canonical instrument symbols and the
// structured instrument descriptor the broker session understands.
//
// Canonical symbols are space-delimited. The first token is the root, the
// second the asset class, the rest depend on the class:
//
//	AMZN STK SMART
//	EURGBP CASH IDEALPRO
//	ESM9 FUT GLOBEX                  (underscores stand for spaces in the local symbol)
//	AAPL OPT 20201016 128.75 C SMART
//	ES FOP 20200911 3450 C 50 GLOBEX
//	XAUUSD CMDTY SMART
//	CL.HO BAG 174230608 1 NYMEX 257430162 1 NYMEX NYMEX
//
// Combo legs are (conId, ratio, exchange) triples whose action alternates
// BUY, SELL, BUY... by position; the final token is the combo exchange.
// The native form does not carry enough to rebuild the leg list, so ToCanonical
// collapses a combo to "ROOT BAG EXCHANGE". Every other class round-trips.
package contract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidSymbol is returned for malformed canonical symbols.
var ErrInvalidSymbol = errors.New("invalid symbol")

// SecType is the asset-class tag of an instrument.
type SecType string

const (
	SecTypeStock        SecType = "STK"
	SecTypeCash         SecType = "CASH"
	SecTypeFuture       SecType = "FUT"
	SecTypeOption       SecType = "OPT"
	SecTypeFutureOption SecType = "FOP"
	SecTypeCommodity    SecType = "CMDTY"
	SecTypeCombo        SecType = "BAG"
)

const (
	defaultCurrency         = "USD"
	defaultOptionMultiplier = "100"
	LegActionBuy            = "BUY"
	LegActionSell           = "SELL"
)

// ComboLeg is one leg of a spread.
type ComboLeg struct {
	ConID    int64  `json:"con_id"`
	Ratio    int    `json:"ratio"`
	Action   string `json:"action"`
	Exchange string `json:"exchange"`
}

// Native is the broker-side instrument descriptor.
type Native struct {
	ConID           int64           `json:"con_id,omitempty"`
	Symbol          string          `json:"symbol,omitempty"`
	LocalSymbol     string          `json:"local_symbol,omitempty"`
	SecType         SecType         `json:"sec_type"`
	Currency        string          `json:"currency,omitempty"`
	Exchange        string          `json:"exchange,omitempty"`
	PrimaryExchange string          `json:"primary_exchange,omitempty"`
	Expiry          string          `json:"expiry,omitempty"`
	Strike          decimal.Decimal `json:"strike"`
	Right           string          `json:"right,omitempty"`
	Multiplier      string          `json:"multiplier,omitempty"`
	Legs            []ComboLeg      `json:"legs,omitempty"`
}

func invalid(symbol, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidSymbol, symbol, reason)
}

// ToNative parses a canonical symbol.
func ToNative(symbol string) (Native, error) {
	f := strings.Fields(symbol)
	if len(f) < 3 {
		return Native{}, invalid(symbol, "expected at least root, class and exchange")
	}
	root, class := f[0], SecType(f[1])

	want := map[SecType]int{
		SecTypeStock: 3, SecTypeCash: 3, SecTypeFuture: 3, SecTypeCommodity: 3,
		SecTypeOption: 6, SecTypeFutureOption: 7,
	}
	if n, ok := want[class]; ok && len(f) != n {
		return Native{}, invalid(symbol, fmt.Sprintf("%s takes %d tokens, got %d", class, n, len(f)))
	}

	switch class {
	case SecTypeStock:
		return Native{LocalSymbol: root, SecType: class, Currency: defaultCurrency, Exchange: f[2]}, nil

	case SecTypeCash:
		if len(root) != 6 {
			return Native{}, invalid(symbol, "cash pair must be six letters, e.g. EURUSD")
		}
		return Native{Symbol: root[:3], Currency: root[3:], SecType: class, Exchange: f[2]}, nil

	case SecTypeFuture:
		return Native{
			LocalSymbol: strings.ReplaceAll(root, "_", " "),
			SecType:     class,
			Currency:    defaultCurrency,
			Exchange:    f[2],
		}, nil

	case SecTypeCommodity:
		return Native{Symbol: root, SecType: class, Currency: defaultCurrency, Exchange: f[2]}, nil

	case SecTypeOption, SecTypeFutureOption:
		expiry, strike, right := f[2], f[3], f[4]
		if err := checkExpiry(expiry); err != nil {
			return Native{}, invalid(symbol, err.Error())
		}
		k, err := parseStrike(strike)
		if err != nil {
			return Native{}, invalid(symbol, err.Error())
		}
		if right != "C" && right != "P" {
			return Native{}, invalid(symbol, "right must be C or P")
		}
		n := Native{
			Symbol:   root,
			SecType:  class,
			Currency: defaultCurrency,
			Expiry:   expiry,
			Strike:   k,
			Right:    right,
		}
		if class == SecTypeOption {
			n.Multiplier = defaultOptionMultiplier
			n.Exchange = f[5]
			return n, nil
		}
		if m, err := strconv.Atoi(f[5]); err != nil || m <= 0 || strconv.Itoa(m) != f[5] {
			return Native{}, invalid(symbol, "multiplier must be a positive integer")
		}
		n.Multiplier = f[5]
		n.Exchange = f[6]
		return n, nil

	case SecTypeCombo:
		return comboToNative(symbol, root, f)

	default:
		return Native{}, invalid(symbol, fmt.Sprintf("unknown asset class %q", f[1]))
	}
}

func comboToNative(symbol, root string, f []string) (Native, error) {
	legTokens := f[2 : len(f)-1]
	if len(legTokens) < 6 || len(legTokens)%3 != 0 {
		return Native{}, invalid(symbol, "combo needs at least two (conId ratio exchange) legs")
	}
	n := Native{
		Symbol:   root,
		SecType:  SecTypeCombo,
		Currency: defaultCurrency,
		Exchange: f[len(f)-1],
	}
	for i := 0; i < len(legTokens); i += 3 {
		conID, err := strconv.ParseInt(legTokens[i], 10, 64)
		if err != nil || conID <= 0 {
			return Native{}, invalid(symbol, fmt.Sprintf("bad leg contract id %q", legTokens[i]))
		}
		ratio, err := strconv.Atoi(legTokens[i+1])
		if err != nil || ratio <= 0 {
			return Native{}, invalid(symbol, fmt.Sprintf("bad leg ratio %q", legTokens[i+1]))
		}
		action := LegActionBuy
		if (i/3)%2 == 1 {
			action = LegActionSell
		}
		n.Legs = append(n.Legs, ComboLeg{ConID: conID, Ratio: ratio, Action: action, Exchange: legTokens[i+2]})
	}
	return n, nil
}

// ToCanonical renders n as a canonical symbol. Combos collapse to
// "ROOT BAG EXCHANGE".
func ToCanonical(n Native) (string, error) {
	switch n.SecType {
	case SecTypeStock:
		return join(firstNonEmpty(n.LocalSymbol, n.Symbol), "STK", firstNonEmpty(n.Exchange, "SMART")), nil
	case SecTypeCash:
		return join(n.Symbol+n.Currency, "CASH", n.Exchange), nil
	case SecTypeFuture:
		return join(strings.ReplaceAll(n.LocalSymbol, " ", "_"), "FUT", firstNonEmpty(n.PrimaryExchange, n.Exchange)), nil
	case SecTypeCommodity:
		return join(n.Symbol, "CMDTY", firstNonEmpty(n.Exchange, "SMART")), nil
	case SecTypeOption:
		return join(n.Symbol, "OPT", n.Expiry, n.Strike.String(), n.Right, firstNonEmpty(n.Exchange, "SMART")), nil
	case SecTypeFutureOption:
		return join(n.Symbol, "FOP", n.Expiry, n.Strike.String(), n.Right, n.Multiplier, n.Exchange), nil
	case SecTypeCombo:
		return join(n.Symbol, "BAG", n.Exchange), nil
	default:
		return "", fmt.Errorf("%w: unsupported sec type %q", ErrInvalidSymbol, n.SecType)
	}
}

func join(tokens ...string) string {
	return strings.Join(tokens, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func checkExpiry(s string) error {
	if len(s) != 8 && len(s) != 6 {
		return errors.New("expiry must be YYYYMMDD or YYYYMM")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return errors.New("expiry must be numeric")
		}
	}
	return nil
}

// parseStrike only accepts the minimal decimal rendering (128.75, not 128.750)
// so that the symbol renders back identically.
func parseStrike(s string) (decimal.Decimal, error) {
	k, err := decimal.NewFromString(s)
	if err != nil || !k.IsPositive() {
		return decimal.Zero, fmt.Errorf("bad strike %q", s)
	}
	if k.String() != s {
		return decimal.Zero, fmt.Errorf("strike %q is not in minimal form (%s)", s, k.String())
	}
	return k, nil
}
