package handlers

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iamgideonidoko/geoshield/internal/config"
	"github.com/iamgideonidoko/geoshield/internal/middleware"
)

// NewApp builds the Fiber application with middleware and every route.
func NewApp(h *Handler, cfg *config.Config, limiter *middleware.RateLimiter) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Handler values outlive the request in the recognition store and
		// in background reports.
		Immutable:             true,
		ServerHeader:          "geoshield",
		AppName:               "geoshield",
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          ErrorHandler,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RealIP(cfg.Security.TrustedProxies))
	app.Use(middleware.Logger())
	app.Use(middleware.CORS(cfg.Security.CORSOrigins))

	app.Get("/health", h.Health)
	if cfg.Monitoring.EnableMetrics {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
	app.Get("/favicon.ico", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	api := app.Group("/api")
	api.Get("/statistics", h.Statistics)
	api.Get("/status", h.Status)
	api.Post("/collect-advanced-data", limiter.LimitByIP(), h.Fingerprint)

	v1 := app.Group("/v1")
	v1.Post("/fingerprint", limiter.LimitByIP(), h.Fingerprint)

	app.Get("/ticket/:handle", limiter.LimitByIP(), h.Ticket)

	app.Get("/", limiter.LimitByIP(), h.Index)
	app.Get("/:invite", limiter.LimitByIP(), h.Invite)
	app.Get("/:invite/:honeypot", limiter.LimitByIP(), h.InviteWithHoneypot)

	return app
}
