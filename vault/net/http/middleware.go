package http

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/shared-vault/vault"
	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WithHTTPLogging stores a request scoped logger tagged with the request id
// and logs one line per finished request. Health probes are not logged.
func WithHTTPLogging(logger log.Logger) fiber.Handler {
	logger = log.OrNop(logger)

	return func(c *fiber.Ctx) error {
		headerID := setRequestHeaderID(c)

		if c.Path() == "/health" {
			return c.Next()
		}

		reqLogger := logger.With(log.String(constant.HeaderID, headerID))
		c.SetUserContext(vault.ContextWithLogger(c.UserContext(), reqLogger))

		start := time.Now()
		err := c.Next()

		reqLogger.Log(c.UserContext(), log.LevelInfo, "request finished",
			log.String("method", c.Method()),
			log.String("path", c.Path()),
			log.Int("status", c.Response().StatusCode()),
			log.Int("size", len(c.Response().Body())),
			log.String("duration", time.Since(start).String()),
			log.String("user_agent", c.Get(constant.HeaderUserAgent)),
		)

		return err
	}
}

// WithTelemetry opens a server span per request, continuing any trace
// context sent by the client, and stores tracer and metrics in the request
// context.
func WithTelemetry(tracer trace.Tracer, factory *metrics.MetricsFactory) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}

		ctx := opentelemetry.ExtractHTTPContext(c)
		ctx = vault.ContextWithTracer(ctx, tracer)

		if factory != nil {
			ctx = vault.ContextWithMetricFactory(ctx, factory)
		}

		ctx, span := tracer.Start(ctx, c.Method()+" "+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.request.method", c.Method()),
			attribute.String("url.path", c.Path()),
		)

		c.SetUserContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.response.status_code", status))

		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, "server error")
		}

		return err
	}
}

// FiberErrorHandler renders errors that escaped the handlers.
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return WriteError(c, fe.Code, constant.ErrInvalidRequest.Error(), "Request Error", fe.Message)
	}

	span := trace.SpanFromContext(ctx)
	opentelemetry.HandleSpanError(&span, "handler error", err)

	vault.NewLoggerFromContext(ctx).Log(ctx, log.LevelError, "handler error",
		log.String("method", c.Method()),
		log.String("path", c.Path()),
		log.Err(err),
	)

	return WithError(c, "", err)
}

func setRequestHeaderID(c *fiber.Ctx) string {
	headerID := c.Get(constant.HeaderID)
	if headerID == "" {
		headerID = uuid.NewString()
		c.Request().Header.Set(constant.HeaderID, headerID)
	}

	c.Set(constant.HeaderID, headerID)
	c.SetUserContext(vault.ContextWithHeaderID(c.UserContext(), headerID))

	return headerID
}
