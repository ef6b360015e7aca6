package broker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/internal/rate"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

func (a *Adapter) native(symbol string) (contract.Native, error) {
	n, err := contract.ToNative(symbol)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrUnknownInstrument, err)
	}
	if id, ok := a.master.ConID(symbol); ok {
		n.ConID = id
	}
	return n, nil
}

// SubscribeMarketData streams L1 data for symbol to the data bus. The
// subscription is remembered and reissued after every reconnect; while
// disconnected it is only recorded. Subscribing twice is a no-op.
func (a *Adapter) SubscribeMarketData(ctx context.Context, symbol string) error {
	n, err := a.native(symbol)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.wantMktData[symbol] = struct{}{}
	_, active := a.mktDataBySymbol[symbol]
	if active || !a.Connected() {
		a.mu.Unlock()
		return nil
	}
	contractReq := a.requestIDs.Next()
	reqID := a.requestIDs.Next()
	a.contractReqs[contractReq] = symbol
	a.mktData[reqID] = symbol
	a.mktDataBySymbol[symbol] = reqID
	a.ticks[reqID] = &model.TickEvent{Symbol: symbol}
	a.mu.Unlock()

	if err := a.pacing.Wait(ctx, rate.LaneData); err != nil {
		a.dropMarketData(symbol)
		a.mu.Lock()
		delete(a.contractReqs, contractReq)
		a.mu.Unlock()
		return err
	}
	if err := a.session.ReqContractDetails(ctx, contractReq, n); err != nil {
		a.logger.Warn("broker.contract_details_failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if err := a.session.ReqMarketData(ctx, reqID, n); err != nil {
		a.dropMarketData(symbol)
		return fmt.Errorf("%w: market data %s: %v", ErrConnection, symbol, err)
	}
	a.logger.Info("broker.market_data_subscribed", zap.String("symbol", symbol), zap.Int64("req_id", reqID))
	return nil
}

// UnsubscribeMarketData stops L1 data for symbol. Unknown symbols are ignored.
func (a *Adapter) UnsubscribeMarketData(ctx context.Context, symbol string) error {
	a.mu.Lock()
	delete(a.wantMktData, symbol)
	a.mu.Unlock()

	reqID, ok := a.dropMarketData(symbol)
	if !ok || !a.Connected() {
		return nil
	}
	return a.session.CancelMarketData(ctx, reqID)
}

func (a *Adapter) dropMarketData(symbol string) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reqID, ok := a.mktDataBySymbol[symbol]
	if ok {
		delete(a.mktDataBySymbol, symbol)
		delete(a.mktData, reqID)
		delete(a.ticks, reqID)
	}
	return reqID, ok
}

// SubscribeMarketDepth streams L2 data for symbol to the data bus.
func (a *Adapter) SubscribeMarketDepth(ctx context.Context, symbol string) error {
	n, err := a.native(symbol)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.wantDepth[symbol] = struct{}{}
	_, active := a.depthBySymbol[symbol]
	if active || !a.Connected() {
		a.mu.Unlock()
		return nil
	}
	reqID := a.requestIDs.Next()
	a.depth[reqID] = symbol
	a.depthBySymbol[symbol] = reqID
	a.mu.Unlock()

	if err := a.pacing.Wait(ctx, rate.LaneData); err != nil {
		a.dropDepth(symbol)
		return err
	}
	if err := a.session.ReqMarketDepth(ctx, reqID, n, a.cfg.DepthRows); err != nil {
		a.dropDepth(symbol)
		return fmt.Errorf("%w: market depth %s: %v", ErrConnection, symbol, err)
	}
	a.logger.Info("broker.market_depth_subscribed", zap.String("symbol", symbol), zap.Int64("req_id", reqID))
	return nil
}

// UnsubscribeMarketDepth stops L2 data for symbol.
func (a *Adapter) UnsubscribeMarketDepth(ctx context.Context, symbol string) error {
	a.mu.Lock()
	delete(a.wantDepth, symbol)
	a.mu.Unlock()

	reqID, ok := a.dropDepth(symbol)
	if !ok || !a.Connected() {
		return nil
	}
	return a.session.CancelMarketDepth(ctx, reqID)
}

func (a *Adapter) dropDepth(symbol string) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reqID, ok := a.depthBySymbol[symbol]
	if ok {
		delete(a.depthBySymbol, symbol)
		delete(a.depth, reqID)
	}
	return reqID, ok
}

// SubscribeAccountSummary requests periodic account summary updates.
func (a *Adapter) SubscribeAccountSummary(ctx context.Context) error {
	a.mu.Lock()
	a.wantAccount = true
	if a.accountReqID != 0 || !a.Connected() {
		a.mu.Unlock()
		return nil
	}
	reqID := a.requestIDs.Next()
	a.accountReqID = reqID
	a.mu.Unlock()

	if err := a.session.ReqAccountSummary(ctx, reqID); err != nil {
		a.mu.Lock()
		a.accountReqID = 0
		a.mu.Unlock()
		return fmt.Errorf("%w: account summary: %v", ErrConnection, err)
	}
	return nil
}

// UnsubscribeAccountSummary stops account summary updates.
func (a *Adapter) UnsubscribeAccountSummary(ctx context.Context) error {
	a.mu.Lock()
	a.wantAccount = false
	reqID := a.accountReqID
	a.accountReqID = 0
	a.accountPending = nil
	a.mu.Unlock()

	if reqID == 0 || !a.Connected() {
		return nil
	}
	return a.session.CancelAccountSummary(ctx, reqID)
}

// SubscribePositions requests broker position pushes.
func (a *Adapter) SubscribePositions(ctx context.Context) error {
	a.mu.Lock()
	a.wantPositions = true
	if a.positionsOn || !a.Connected() {
		a.mu.Unlock()
		return nil
	}
	a.positionsOn = true
	a.mu.Unlock()

	if err := a.session.ReqPositions(ctx); err != nil {
		a.mu.Lock()
		a.positionsOn = false
		a.mu.Unlock()
		return fmt.Errorf("%w: positions: %v", ErrConnection, err)
	}
	return nil
}

// UnsubscribePositions stops broker position pushes.
func (a *Adapter) UnsubscribePositions(ctx context.Context) error {
	a.mu.Lock()
	a.wantPositions = false
	on := a.positionsOn
	a.positionsOn = false
	a.mu.Unlock()

	if !on || !a.Connected() {
		return nil
	}
	return a.session.CancelPositions(ctx)
}

// RequestHistoricalData asks for bars; they arrive as Historical events
// carrying the returned request id.
func (a *Adapter) RequestHistoricalData(ctx context.Context, symbol string, req HistoricalRequest) (int64, error) {
	if !a.Connected() {
		return 0, ErrNotConnected
	}
	n, err := a.native(symbol)
	if err != nil {
		return 0, err
	}
	if req.Duration <= 0 {
		req.Duration = 30 * time.Minute
	}
	if req.BarSize <= 0 {
		req.BarSize = time.Second
	}
	if req.What == "" {
		req.What = "TRADES"
	}

	reqID := a.trackHistorical(symbol)
	if err := a.pacing.Wait(ctx, rate.LaneData); err != nil {
		a.untrackHistorical(reqID)
		return 0, err
	}
	if err := a.session.ReqHistoricalData(ctx, reqID, n, req); err != nil {
		a.untrackHistorical(reqID)
		return reqID, fmt.Errorf("%w: historical data %s: %v", ErrConnection, symbol, err)
	}
	return reqID, nil
}

// RequestHistoricalTicks asks for up to count trades from start.
func (a *Adapter) RequestHistoricalTicks(ctx context.Context, symbol string, start time.Time, count int) (int64, error) {
	if !a.Connected() {
		return 0, ErrNotConnected
	}
	n, err := a.native(symbol)
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		count = 1000
	}

	reqID := a.trackHistorical(symbol)
	if err := a.pacing.Wait(ctx, rate.LaneData); err != nil {
		a.untrackHistorical(reqID)
		return 0, err
	}
	if err := a.session.ReqHistoricalTicks(ctx, reqID, n, start, count); err != nil {
		a.untrackHistorical(reqID)
		return reqID, fmt.Errorf("%w: historical ticks %s: %v", ErrConnection, symbol, err)
	}
	return reqID, nil
}

// RequestContractDetails resolves symbol at the broker; the answer is
// published as a Contract event and cached in the instrument master.
func (a *Adapter) RequestContractDetails(ctx context.Context, symbol string) (int64, error) {
	if !a.Connected() {
		return 0, ErrNotConnected
	}
	n, err := a.native(symbol)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	reqID := a.requestIDs.Next()
	a.contractReqs[reqID] = symbol
	a.mu.Unlock()

	if err := a.session.ReqContractDetails(ctx, reqID, n); err != nil {
		return reqID, fmt.Errorf("%w: contract details %s: %v", ErrConnection, symbol, err)
	}
	return reqID, nil
}

// RequestOptionChain asks for the expirations and strikes listed on symbol.
// The underlying must already carry a broker contract id, usually learned
// from RequestContractDetails. One OptionChain event is published per
// exchange.
func (a *Adapter) RequestOptionChain(ctx context.Context, symbol string) (int64, error) {
	if !a.Connected() {
		return 0, ErrNotConnected
	}
	n, err := a.native(symbol)
	if err != nil {
		return 0, err
	}
	if n.ConID == 0 {
		return 0, fmt.Errorf("%w: no contract id for %s", ErrUnknownInstrument, symbol)
	}

	a.mu.Lock()
	reqID := a.requestIDs.Next()
	a.optionReqs[reqID] = symbol
	a.mu.Unlock()

	if err := a.pacing.Wait(ctx, rate.LaneData); err != nil {
		a.untrackOptionChain(reqID)
		return 0, err
	}
	if err := a.session.ReqOptionChain(ctx, reqID, n); err != nil {
		a.untrackOptionChain(reqID)
		return reqID, fmt.Errorf("%w: option chain %s: %v", ErrConnection, symbol, err)
	}
	return reqID, nil
}

func (a *Adapter) untrackOptionChain(reqID int64) {
	a.mu.Lock()
	delete(a.optionReqs, reqID)
	a.mu.Unlock()
}

func (a *Adapter) trackHistorical(symbol string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	reqID := a.requestIDs.Next()
	a.historical[reqID] = symbol
	return reqID
}

func (a *Adapter) untrackHistorical(reqID int64) {
	a.mu.Lock()
	delete(a.historical, reqID)
	a.mu.Unlock()
}

// resubscribe reissues every remembered subscription with fresh request ids.
func (a *Adapter) resubscribe(ctx context.Context) {
	a.mu.Lock()
	mkt := make([]string, 0, len(a.wantMktData))
	for s := range a.wantMktData {
		mkt = append(mkt, s)
	}
	depth := make([]string, 0, len(a.wantDepth))
	for s := range a.wantDepth {
		depth = append(depth, s)
	}
	account, positions := a.wantAccount, a.wantPositions
	a.mu.Unlock()

	for _, s := range mkt {
		if err := a.SubscribeMarketData(ctx, s); err != nil {
			a.logger.Warn("broker.resubscribe_failed", zap.String("symbol", s), zap.Error(err))
		}
	}
	for _, s := range depth {
		if err := a.SubscribeMarketDepth(ctx, s); err != nil {
			a.logger.Warn("broker.resubscribe_depth_failed", zap.String("symbol", s), zap.Error(err))
		}
	}
	if account {
		if err := a.SubscribeAccountSummary(ctx); err != nil {
			a.logger.Warn("broker.resubscribe_account_failed", zap.Error(err))
		}
	}
	if positions {
		if err := a.SubscribePositions(ctx); err != nil {
			a.logger.Warn("broker.resubscribe_positions_failed", zap.Error(err))
		}
	}
}

// Subscriptions returns the symbols currently streaming L1 data.
func (a *Adapter) Subscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.mktDataBySymbol))
	for s := range a.mktDataBySymbol {
		out = append(out, s)
	}
	return out
}
