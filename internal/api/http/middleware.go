package http

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/lifecycle"
	"github.com/spec-kit/support-portal/internal/observability"
	"github.com/spec-kit/support-portal/internal/service"
	apperrors "github.com/spec-kit/support-portal/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
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
				metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				body := fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}
				if len(domainErr.Details) > 0 {
					body["details"] = domainErr.Details
				}
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed", zap.String("path", c.Path()), zap.Error(domainErr))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(fiber.Map{"error": body})
				err = nil
			}
		}()
		return c.Next()
	}
}

// toDomainError maps service and lifecycle sentinels onto API errors.
func toDomainError(err error) *apperrors.DomainError {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return apperrors.NewNotFound("route", nil)
		case fiber.StatusMethodNotAllowed:
			return apperrors.NewDomainError("METHOD_NOT_ALLOWED", fiberErr.Message, fiberErr.Code, nil)
		}
		if fiberErr.Code < 500 {
			return apperrors.NewValidationError(fiberErr.Message, nil)
		}
	}

	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return apperrors.NewConflict("INVALID_TRANSITION", "transition not allowed from the current status", nil).Wrap(err)
	case errors.Is(err, lifecycle.ErrTicketClosed):
		return apperrors.NewConflict("TICKET_CLOSED", "ticket is closed", nil).Wrap(err)
	case errors.Is(err, lifecycle.ErrInvalidInput):
		return apperrors.NewValidationError("invalid ticket input", nil).Wrap(err)
	case errors.Is(err, service.ErrInvalidMessage):
		return apperrors.NewValidationError("message must be between 1 and 4000 characters", nil).Wrap(err)
	case errors.Is(err, service.ErrForbidden):
		return apperrors.NewForbidden("not allowed to access this ticket").Wrap(err)
	case errors.Is(err, service.ErrTooManyOpenTickets):
		return apperrors.NewTooManyRequests("TOO_MANY_OPEN_TICKETS", "too many open tickets", nil).Wrap(err)
	}
	return apperrors.ToDomainError(err)
}
