package http

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/observability"
	apperrors "github.com/spec-kit/erp-ticketing/pkg/util"
)

// RegisterMiddlewares attaches global middlewares such as correlation, logging
// and error handling. The request logger sits outside the error middleware so
// it sees the rendered status.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(correlationMiddleware())
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
}

// correlationMiddleware starts or continues the causal chain for a request and
// echoes its id on the response.
func correlationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(observability.CorrelationHeader))
		if id == "" {
			id = observability.NewCorrelationID()
		}
		c.SetUserContext(observability.ContextWithCorrelationID(c.UserContext(), id))
		c.Set(observability.CorrelationHeader, id)
		return c.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := toDomainError(err)
				correlationID := observability.CorrelationID(c.UserContext())
				metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)

				details := domainErr.Details
				if details == nil {
					details = map[string]any{}
				}
				response := fiber.Map{"error": fiber.Map{
					"code":           domainErr.Code,
					"message":        domainErr.Message,
					"details":        details,
					"correlation_id": correlationID,
				}}
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed",
						zap.String("correlation_id", correlationID),
						zap.String("code", domainErr.Code),
						zap.Bool("alert", domainErr.Code == apperrors.CodeIntegrity),
						zap.Error(domainErr),
					)
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}

// toDomainError also covers errors raised by fiber itself, such as unknown
// routes or malformed requests.
func toDomainError(err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := apperrors.CodeInternal
		switch {
		case fiberErr.Code == http.StatusNotFound:
			code = apperrors.CodeNotFound
		case fiberErr.Code == http.StatusUnauthorized:
			code = apperrors.CodeUnauthorized
		case fiberErr.Code == http.StatusForbidden:
			code = apperrors.CodeForbidden
		case fiberErr.Code == http.StatusServiceUnavailable:
			code = apperrors.CodeServiceUnavailable
		case fiberErr.Code >= 400 && fiberErr.Code < 500:
			code = apperrors.CodeValidation
		}
		return apperrors.NewDomainError(code, fiberErr.Message, fiberErr.Code, nil)
	}
	return apperrors.ToDomainError(err)
}
