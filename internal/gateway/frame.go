package gateway

import "encoding/json"

// FrameType is the m field of a gateway frame.
type FrameType int

const (
	FrameRequest     FrameType = 0
	FrameReply       FrameType = 1
	FrameSubscribe   FrameType = 2
	FrameEvent       FrameType = 3
	FrameUnsubscribe FrameType = 4
	FrameError       FrameType = 5
)

// Frame is one message on the wire. O carries the operation payload as a
// JSON string.
type Frame struct {
	M FrameType `json:"m"`
	I int64     `json:"i"`
	N string    `json:"n"`
	O string    `json:"o"`
}

func newFrame(m FrameType, seq int64, op string, payload any) (Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{M: m, I: seq, N: op, O: string(body)}, nil
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal([]byte(f.O), v)
}

// Operation names.
const (
	OpAuthenticate       = "AuthenticateUser"
	OpSendOrder          = "SendOrder"
	OpCancelOrder        = "CancelOrder"
	OpCancelAllOrders    = "CancelAllOrders"
	OpGetOpenOrders      = "GetOpenOrders"
	OpGetCurrentTime     = "GetCurrentTime"
	OpGetContractDetails = "GetContractDetails"
	OpGetOptionChain     = "GetOptionChain"
	OpMarketData         = "MarketData"
	OpMarketDepth        = "MarketDepth"
	OpAccountSummary     = "AccountSummary"
	OpPositions          = "Positions"
	OpGetHistoricalData  = "GetHistoricalData"
	OpGetHistoricalTicks = "GetHistoricalTicks"
	OpNextValidID        = "NextValidId"
	OpOrderStatus        = "OrderStatus"
	OpExecution          = "Execution"
	OpPosition           = "Position"
	OpTickPrice          = "TickPrice"
	OpTickSize           = "TickSize"
	OpDepth              = "Depth"
	OpRealTimeBar        = "RealTimeBar"
	OpHistoricalData     = "HistoricalData"
	OpHistoricalTicks    = "HistoricalTicks"
	OpAccountValue       = "AccountValue"
	OpAccountSummaryEnd  = "AccountSummaryEnd"
	OpContractDetails    = "ContractDetails"
	OpOptionChain        = "OptionChain"
	OpOptionChainEnd     = "OptionChainEnd"
	OpCurrentTime        = "CurrentTime"
	OpError              = "Error"
)
