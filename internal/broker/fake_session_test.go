package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// fakeSession records every outbound call. Dial fails while failDials > 0.
type fakeSession struct {
	mu        sync.Mutex
	failDials int
	dials     int
	closed    int
	in        Inbound
	calls     []string
	placed    []model.Order
	cancelled []int64
	mktReqs   map[int64]contract.Native
	chainOf   contract.Native
	placeErr  error
	onPlace   func(model.Order)
}

func newFakeSession() *fakeSession {
	return &fakeSession{mktReqs: make(map[int64]contract.Native)}
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeSession) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeSession) Dial(_ context.Context, _ string, _ Credentials, in Inbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failDials > 0 {
		f.failDials--
		return errors.New("connection refused")
	}
	f.in = in
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) PlaceOrder(_ context.Context, _ contract.Native, o model.Order) error {
	f.record("PlaceOrder")
	if f.onPlace != nil {
		f.onPlace(o)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return f.placeErr
	}
	f.placed = append(f.placed, o)
	return nil
}

func (f *fakeSession) CancelOrder(_ context.Context, id int64) error {
	f.record("CancelOrder")
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) CancelAllOrders(context.Context) error {
	f.record("CancelAllOrders")
	return nil
}

func (f *fakeSession) ReqAllOpenOrders(context.Context) error {
	f.record("ReqAllOpenOrders")
	return nil
}

func (f *fakeSession) ReqCurrentTime(context.Context) error {
	f.record("ReqCurrentTime")
	return nil
}

func (f *fakeSession) ReqContractDetails(context.Context, int64, contract.Native) error {
	f.record("ReqContractDetails")
	return nil
}

func (f *fakeSession) ReqOptionChain(_ context.Context, _ int64, underlying contract.Native) error {
	f.record("ReqOptionChain")
	f.mu.Lock()
	f.chainOf = underlying
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) ReqMarketData(_ context.Context, reqID int64, n contract.Native) error {
	f.record("ReqMarketData")
	f.mu.Lock()
	f.mktReqs[reqID] = n
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) CancelMarketData(context.Context, int64) error {
	f.record("CancelMarketData")
	return nil
}

func (f *fakeSession) ReqMarketDepth(context.Context, int64, contract.Native, int) error {
	f.record("ReqMarketDepth")
	return nil
}

func (f *fakeSession) CancelMarketDepth(context.Context, int64) error {
	f.record("CancelMarketDepth")
	return nil
}

func (f *fakeSession) ReqAccountSummary(context.Context, int64) error {
	f.record("ReqAccountSummary")
	return nil
}

func (f *fakeSession) CancelAccountSummary(context.Context, int64) error {
	f.record("CancelAccountSummary")
	return nil
}

func (f *fakeSession) ReqPositions(context.Context) error {
	f.record("ReqPositions")
	return nil
}

func (f *fakeSession) CancelPositions(context.Context) error {
	f.record("CancelPositions")
	return nil
}

func (f *fakeSession) ReqHistoricalData(context.Context, int64, contract.Native, HistoricalRequest) error {
	f.record("ReqHistoricalData")
	return nil
}

func (f *fakeSession) ReqHistoricalTicks(context.Context, int64, contract.Native, time.Time, int) error {
	f.record("ReqHistoricalTicks")
	return nil
}

// recorder is a synchronous Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Of(c model.Category) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Category() == c {
			out = append(out, ev)
		}
	}
	return out
}
