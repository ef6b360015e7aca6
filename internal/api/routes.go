package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check is one named dependency probe for /health.
type Check func(ctx context.Context) error

func RegisterRoutes(app *fiber.App, h *Handler, checks map[string]Check) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		return c.Status(code).JSON(fiber.Map{"status": status, "checks": results})
	})

	v1 := app.Group("/api/v1")
	v1.Get("/orders", h.ListOrders)
	v1.Get("/orders/:id", h.GetOrder)
	v1.Post("/orders", h.PlaceOrder)
	v1.Delete("/orders/:id", h.CancelOrder)
	v1.Delete("/orders", h.CancelAll)
	v1.Get("/positions", h.ListPositions)
	v1.Get("/broker", h.BrokerState)
}
