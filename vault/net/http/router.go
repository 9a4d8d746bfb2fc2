package http

import (
	"net/http"
	"time"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RouterConfig carries the ambient dependencies of NewRouter.
type RouterConfig struct {
	Logger  log.Logger
	Tracer  trace.Tracer
	Metrics *metrics.MetricsFactory
	Version string
	Checks  []DependencyCheck
	// BodyLimit caps request bodies in bytes. Zero keeps 64 KiB.
	BodyLimit int
	RateLimit RateLimit
}

// RateLimit throttles mutating requests per client IP. Max of zero
// disables it. A nil Storage keeps counters in process.
type RateLimit struct {
	Max     int
	Window  time.Duration
	Storage fiber.Storage
}

// WithRateLimit returns a limiter for cfg, or nil when it is disabled.
func WithRateLimit(cfg RateLimit) fiber.Handler {
	if cfg.Max <= 0 {
		return nil
	}

	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window,
		Storage:    cfg.Storage,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return WriteError(c, http.StatusTooManyRequests, constant.ErrRateLimited.Error(),
				"Rate Limit Exceeded", "Too many requests. Please wait before trying again.")
		},
	})
}

// NewRouter builds the Fiber app serving handler.
func NewRouter(handler *Handler, cfg RouterConfig) *fiber.App {
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/LerianStudio/shared-vault/vault/net/http")
	}

	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 64 << 10
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          FiberErrorHandler,
		BodyLimit:             cfg.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(WithHTTPLogging(cfg.Logger))
	app.Use(WithTelemetry(cfg.Tracer, cfg.Metrics))

	if limit := WithRateLimit(cfg.RateLimit); limit != nil {
		app.Use(limit)
	}

	app.Get("/health", Health(cfg.Checks...))
	app.Get("/version", Version(cfg.Version))

	handler.Register(app)

	return app
}
