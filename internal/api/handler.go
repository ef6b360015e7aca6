// Package api serves the HTTP surface: order commands and queries,
// positions, broker state, health and metrics.
package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/order"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// OrderService is the order manager surface the handlers use.
type OrderService interface {
	Place(ctx context.Context, o model.Order) (model.Order, error)
	Cancel(ctx context.Context, orderID int64) error
	CancelAll(ctx context.Context) error
	Order(id int64) (model.Order, bool)
	Orders() []model.Order
	OpenOrders() []model.Order
	Fills(orderID int64) []model.Fill
}

// PositionQuery is the position manager surface the handlers use.
type PositionQuery interface {
	Positions() []model.Position
}

// BrokerStatus reports the adapter's connection.
type BrokerStatus interface {
	State() broker.State
	Subscriptions() []string
}

type Handler struct {
	logger    *zap.Logger
	orders    OrderService
	positions PositionQuery
	broker    BrokerStatus
}

func NewHandler(logger *zap.Logger, orders OrderService, positions PositionQuery, b BrokerStatus) *Handler {
	return &Handler{logger: logger, orders: orders, positions: positions, broker: b}
}

// PlaceOrderRequest is the POST /api/v1/orders body. Size is signed:
// positive buys, negative sells.
type PlaceOrderRequest struct {
	OrderID     int64           `json:"order_id,omitempty"`
	Symbol      string          `json:"symbol"`
	Size        decimal.Decimal `json:"size"`
	OrderType   string          `json:"order_type"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TimeInForce string          `json:"tif"`
	Account     string          `json:"account,omitempty"`
}

func (r PlaceOrderRequest) toOrder() model.Order {
	return model.Order{
		ID:          r.OrderID,
		Symbol:      r.Symbol,
		Size:        r.Size,
		Type:        model.OrderTypeFromString(r.OrderType),
		LimitPrice:  r.LimitPrice,
		StopPrice:   r.StopPrice,
		TimeInForce: model.TimeInForceFromString(r.TimeInForce),
		Account:     r.Account,
		Source:      "api",
	}
}

// OrderDetail is an order with its applied fills.
type OrderDetail struct {
	model.Order
	Fills []model.Fill `json:"fills"`
}

func (h *Handler) ListOrders(c *fiber.Ctx) error {
	if c.QueryBool("open") {
		return c.JSON(nonNil(h.orders.OpenOrders()))
	}
	return c.JSON(nonNil(h.orders.Orders()))
}

func (h *Handler) GetOrder(c *fiber.Ctx) error {
	id, err := orderID(c)
	if err != nil {
		return badRequest(c, err)
	}
	o, ok := h.orders.Order(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}
	fills := h.orders.Fills(id)
	if fills == nil {
		fills = []model.Fill{}
	}
	return c.JSON(OrderDetail{Order: o, Fills: fills})
}

func (h *Handler) PlaceOrder(c *fiber.Ctx) error {
	var req PlaceOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	o, err := h.orders.Place(c.UserContext(), req.toOrder())
	if err != nil {
		h.logger.Warn("api.place_order_failed", zap.String("symbol", req.Symbol), zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(o)
}

func (h *Handler) CancelOrder(c *fiber.Ctx) error {
	id, err := orderID(c)
	if err != nil {
		return badRequest(c, err)
	}
	if err := h.orders.Cancel(c.UserContext(), id); err != nil {
		h.logger.Warn("api.cancel_order_failed", zap.Int64("order_id", id), zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"order_id": id, "status": "cancel_requested"})
}

func (h *Handler) CancelAll(c *fiber.Ctx) error {
	if err := h.orders.CancelAll(c.UserContext()); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "cancel_all_requested"})
}

func (h *Handler) ListPositions(c *fiber.Ctx) error {
	account := c.Query("account")
	out := []model.Position{}
	for _, p := range h.positions.Positions() {
		if account == "" || p.Account == account {
			out = append(out, p)
		}
	}
	return c.JSON(out)
}

func (h *Handler) BrokerState(c *fiber.Ctx) error {
	state := h.broker.State()
	return c.JSON(fiber.Map{
		"state":         state.String(),
		"connected":     state == broker.StateConnected,
		"subscriptions": nonNil(h.broker.Subscriptions()),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidOrder), errors.Is(err, broker.ErrUnknownInstrument):
		return fiber.StatusBadRequest
	case errors.Is(err, broker.ErrOrderNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, order.ErrOrderTerminal), errors.Is(err, broker.ErrDuplicateOrderID):
		return fiber.StatusConflict
	case errors.Is(err, broker.ErrNotConnected):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, broker.ErrConnection):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func orderID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
