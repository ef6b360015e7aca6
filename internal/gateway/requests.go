package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

type orderPayload struct {
	OrderID     int64           `json:"order_id"`
	Contract    contract.Native `json:"contract"`
	Action      string          `json:"action"`
	Quantity    decimal.Decimal `json:"quantity"`
	OrderType   string          `json:"order_type"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TimeInForce string          `json:"tif"`
	Account     string          `json:"account,omitempty"`
}

type orderRef struct {
	OrderID int64 `json:"order_id"`
}

type reqRef struct {
	ReqID int64 `json:"req_id"`
}

type contractReq struct {
	ReqID    int64           `json:"req_id"`
	Contract contract.Native `json:"contract"`
	Rows     int             `json:"rows,omitempty"`
}

type historicalReq struct {
	ReqID           int64           `json:"req_id"`
	Contract        contract.Native `json:"contract"`
	End             time.Time       `json:"end,omitempty"`
	DurationSeconds int64           `json:"duration_seconds"`
	BarSizeSeconds  int64           `json:"bar_size_seconds"`
	What            string          `json:"what"`
	RTHOnly         bool            `json:"rth_only"`
}

type historicalTicksReq struct {
	ReqID    int64           `json:"req_id"`
	Contract contract.Native `json:"contract"`
	Start    time.Time       `json:"start"`
	Count    int             `json:"count"`
}

func (s *Session) PlaceOrder(ctx context.Context, n contract.Native, o model.Order) error {
	action := "BUY"
	if !o.IsBuy() {
		action = "SELL"
	}
	s.logger.Info("gateway.send_order",
		zapOrderID(o.ID),
		zapSymbol(o.Symbol))
	return s.send(ctx, FrameRequest, OpSendOrder, orderPayload{
		OrderID:     o.ID,
		Contract:    n,
		Action:      action,
		Quantity:    o.Size.Abs(),
		OrderType:   o.Type.Code(),
		LimitPrice:  o.LimitPrice,
		StopPrice:   o.StopPrice,
		TimeInForce: o.TimeInForce.String(),
		Account:     o.Account,
	})
}

func (s *Session) CancelOrder(ctx context.Context, orderID int64) error {
	s.logger.Info("gateway.cancel_order", zapOrderID(orderID))
	return s.send(ctx, FrameRequest, OpCancelOrder, orderRef{OrderID: orderID})
}

func (s *Session) CancelAllOrders(ctx context.Context) error {
	return s.send(ctx, FrameRequest, OpCancelAllOrders, struct{}{})
}

func (s *Session) ReqAllOpenOrders(ctx context.Context) error {
	return s.send(ctx, FrameRequest, OpGetOpenOrders, struct{}{})
}

func (s *Session) ReqCurrentTime(ctx context.Context) error {
	return s.send(ctx, FrameRequest, OpGetCurrentTime, struct{}{})
}

func (s *Session) ReqContractDetails(ctx context.Context, reqID int64, n contract.Native) error {
	return s.send(ctx, FrameRequest, OpGetContractDetails, contractReq{ReqID: reqID, Contract: n})
}

func (s *Session) ReqOptionChain(ctx context.Context, reqID int64, underlying contract.Native) error {
	return s.send(ctx, FrameRequest, OpGetOptionChain, contractReq{ReqID: reqID, Contract: underlying})
}

func (s *Session) ReqMarketData(ctx context.Context, reqID int64, n contract.Native) error {
	return s.send(ctx, FrameSubscribe, OpMarketData, contractReq{ReqID: reqID, Contract: n})
}

func (s *Session) CancelMarketData(ctx context.Context, reqID int64) error {
	return s.send(ctx, FrameUnsubscribe, OpMarketData, reqRef{ReqID: reqID})
}

func (s *Session) ReqMarketDepth(ctx context.Context, reqID int64, n contract.Native, rows int) error {
	return s.send(ctx, FrameSubscribe, OpMarketDepth, contractReq{ReqID: reqID, Contract: n, Rows: rows})
}

func (s *Session) CancelMarketDepth(ctx context.Context, reqID int64) error {
	return s.send(ctx, FrameUnsubscribe, OpMarketDepth, reqRef{ReqID: reqID})
}

func (s *Session) ReqAccountSummary(ctx context.Context, reqID int64) error {
	return s.send(ctx, FrameSubscribe, OpAccountSummary, reqRef{ReqID: reqID})
}

func (s *Session) CancelAccountSummary(ctx context.Context, reqID int64) error {
	return s.send(ctx, FrameUnsubscribe, OpAccountSummary, reqRef{ReqID: reqID})
}

func (s *Session) ReqPositions(ctx context.Context) error {
	return s.send(ctx, FrameSubscribe, OpPositions, struct{}{})
}

func (s *Session) CancelPositions(ctx context.Context) error {
	return s.send(ctx, FrameUnsubscribe, OpPositions, struct{}{})
}

func (s *Session) ReqHistoricalData(ctx context.Context, reqID int64, n contract.Native, req broker.HistoricalRequest) error {
	return s.send(ctx, FrameRequest, OpGetHistoricalData, historicalReq{
		ReqID:           reqID,
		Contract:        n,
		End:             req.End,
		DurationSeconds: int64(req.Duration / time.Second),
		BarSizeSeconds:  int64(req.BarSize / time.Second),
		What:            req.What,
		RTHOnly:         req.RTHOnly,
	})
}

func (s *Session) ReqHistoricalTicks(ctx context.Context, reqID int64, n contract.Native, start time.Time, count int) error {
	return s.send(ctx, FrameRequest, OpGetHistoricalTicks, historicalTicksReq{
		ReqID: reqID, Contract: n, Start: start, Count: count,
	})
}
