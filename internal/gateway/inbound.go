package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

func zapOrderID(id int64) zap.Field { return zap.Int64("order_id", id) }
func zapSymbol(s string) zap.Field  { return zap.String("symbol", s) }

type nextValidIDPayload struct {
	OrderID int64 `json:"order_id"`
}

type orderStatusPayload struct {
	OrderID      int64           `json:"order_id"`
	Status       string          `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Account      string          `json:"account"`
}

type executionPayload struct {
	ExecID     string              `json:"exec_id"`
	OrderID    int64               `json:"order_id"`
	Contract   contract.Native     `json:"contract"`
	Side       string              `json:"side"`
	Shares     decimal.Decimal     `json:"shares"`
	Price      decimal.Decimal     `json:"price"`
	Time       time.Time           `json:"time"`
	Exchange   string              `json:"exchange"`
	Account    string              `json:"account"`
	Commission decimal.NullDecimal `json:"commission"`
}

type positionPayload struct {
	Account       string          `json:"account"`
	Contract      contract.Native `json:"contract"`
	Position      decimal.Decimal `json:"position"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

type tickPayload struct {
	ReqID int64           `json:"req_id"`
	Field string          `json:"field"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type depthPayload struct {
	ReqID int64            `json:"req_id"`
	Level model.DepthLevel `json:"level"`
}

type barPayload struct {
	ReqID int64     `json:"req_id"`
	Bar   model.Bar `json:"bar"`
}

type historicalPayload struct {
	ReqID int64                  `json:"req_id"`
	Bars  []model.Bar            `json:"bars"`
	Ticks []model.HistoricalTick `json:"ticks"`
	Done  bool                   `json:"done"`
}

type accountValuePayload struct {
	ReqID    int64  `json:"req_id"`
	Account  string `json:"account"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type contractDetailsPayload struct {
	ReqID      int64           `json:"req_id"`
	Contract   contract.Native `json:"contract"`
	LongName   string          `json:"long_name"`
	MinTick    decimal.Decimal `json:"min_tick"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type optionChainPayload struct {
	ReqID        int64             `json:"req_id"`
	Exchange     string            `json:"exchange"`
	TradingClass string            `json:"trading_class"`
	Multiplier   decimal.Decimal   `json:"multiplier"`
	Expirations  []string          `json:"expirations"`
	Strikes      []decimal.Decimal `json:"strikes"`
}

type currentTimePayload struct {
	Time time.Time `json:"time"`
}

type errorPayload struct {
	ReqID   int64  `json:"req_id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func tickField(s string) (broker.TickField, error) {
	switch strings.ToUpper(s) {
	case "BID":
		return broker.TickBid, nil
	case "ASK":
		return broker.TickAsk, nil
	case "LAST":
		return broker.TickLast, nil
	}
	return 0, fmt.Errorf("unknown tick field %q", s)
}

type frameHandler func(in broker.Inbound, f Frame) error

var handlers = map[string]frameHandler{
	strings.ToLower(OpNextValidID): func(in broker.Inbound, f Frame) error {
		var p nextValidIDPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnNextValidID(p.OrderID)
		return nil
	},
	strings.ToLower(OpOrderStatus): func(in broker.Inbound, f Frame) error {
		var p orderStatusPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnOrderStatus(broker.OrderStatusMsg(p))
		return nil
	},
	strings.ToLower(OpExecution): func(in broker.Inbound, f Frame) error {
		var p executionPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnExecution(broker.ExecutionMsg(p))
		return nil
	},
	strings.ToLower(OpPosition): func(in broker.Inbound, f Frame) error {
		var p positionPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnPosition(broker.PositionMsg(p))
		return nil
	},
	strings.ToLower(OpTickPrice): func(in broker.Inbound, f Frame) error {
		var p tickPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		field, err := tickField(p.Field)
		if err != nil {
			return err
		}
		in.OnTickPrice(p.ReqID, field, p.Price)
		return nil
	},
	strings.ToLower(OpTickSize): func(in broker.Inbound, f Frame) error {
		var p tickPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		field, err := tickField(p.Field)
		if err != nil {
			return err
		}
		in.OnTickSize(p.ReqID, field, p.Size)
		return nil
	},
	strings.ToLower(OpDepth): func(in broker.Inbound, f Frame) error {
		var p depthPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnDepth(p.ReqID, p.Level)
		return nil
	},
	strings.ToLower(OpRealTimeBar): func(in broker.Inbound, f Frame) error {
		var p barPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnRealTimeBar(p.ReqID, p.Bar)
		return nil
	},
	strings.ToLower(OpHistoricalData): func(in broker.Inbound, f Frame) error {
		var p historicalPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnHistoricalData(p.ReqID, p.Bars, p.Done)
		return nil
	},
	strings.ToLower(OpHistoricalTicks): func(in broker.Inbound, f Frame) error {
		var p historicalPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnHistoricalTicks(p.ReqID, p.Ticks, p.Done)
		return nil
	},
	strings.ToLower(OpAccountValue): func(in broker.Inbound, f Frame) error {
		var p accountValuePayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnAccountValue(p.ReqID, p.Account, p.Key, p.Value, p.Currency)
		return nil
	},
	strings.ToLower(OpAccountSummaryEnd): func(in broker.Inbound, f Frame) error {
		var p reqRef
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnAccountSummaryEnd(p.ReqID)
		return nil
	},
	strings.ToLower(OpContractDetails): func(in broker.Inbound, f Frame) error {
		var p contractDetailsPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnContractDetails(p.ReqID, broker.ContractDetails{
			Contract:   p.Contract,
			LongName:   p.LongName,
			MinTick:    p.MinTick,
			Multiplier: p.Multiplier,
		})
		return nil
	},
	strings.ToLower(OpOptionChain): func(in broker.Inbound, f Frame) error {
		var p optionChainPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnOptionChain(p.ReqID, broker.OptionChain{
			Exchange:     p.Exchange,
			TradingClass: p.TradingClass,
			Multiplier:   p.Multiplier,
			Expirations:  p.Expirations,
			Strikes:      p.Strikes,
		})
		return nil
	},
	strings.ToLower(OpOptionChainEnd): func(in broker.Inbound, f Frame) error {
		var p reqRef
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnOptionChainEnd(p.ReqID)
		return nil
	},
	strings.ToLower(OpCurrentTime): func(in broker.Inbound, f Frame) error {
		var p currentTimePayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		in.OnCurrentTime(p.Time)
		return nil
	},
	strings.ToLower(OpError): decodeError,
}

func decodeError(in broker.Inbound, f Frame) error {
	var p errorPayload
	if err := f.Decode(&p); err != nil {
		return err
	}
	in.OnError(p.ReqID, p.Code, p.Message)
	return nil
}

// dispatch routes one inbound frame by operation name. Error frames are
// reported regardless of their operation.
func dispatch(in broker.Inbound, f Frame) error {
	if f.M == FrameError {
		return decodeError(in, f)
	}
	h, ok := handlers[strings.ToLower(f.N)]
	if !ok {
		return nil
	}
	return h(in, f)
}
