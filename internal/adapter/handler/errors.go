package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

var messages = map[domain.Kind]string{
	domain.KindValidation:        "Invalid request",
	domain.KindInsufficientFunds: "Insufficient funds",
	domain.KindInvalidTransition: "Operation not allowed in the current state",
	domain.KindDuplicate:         "Idempotency key already used with a different request",
	domain.KindNotFound:          "Not found",
	domain.KindBusy:              "Resource busy, retry later",
	domain.KindDependency:        "Payment provider unavailable",
	domain.KindInternal:          "Internal error",
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidTransition, domain.KindDuplicate:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindBusy:
		return http.StatusServiceUnavailable
	case domain.KindDependency:
		return http.StatusBadGateway
	case domain.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// respondError logs the full error and answers with the kind code and a
// generic message. Validation errors also carry the reason.
func respondError(c *fiber.Ctx, log *slog.Logger, err error) error {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	attrs := []any{"error", err, "kind", kind, "method", c.Method(), "path", c.Path()}
	if status >= http.StatusInternalServerError && kind != domain.KindBusy {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	body := fiber.Map{"error": messages[kind], "code": kind}
	if kind == domain.KindValidation {
		var op *domain.OpError
		if errors.As(err, &op) {
			body["detail"] = op.Err.Error()
		} else {
			body["detail"] = err.Error()
		}
	}
	if id := domain.EntityID(err); id != "" && kind != domain.KindInternal {
		body["id"] = id
	}
	if kind == domain.KindBusy {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, detail string) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": messages[domain.KindValidation], "code": domain.KindValidation, "detail": detail,
	})
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "Permission denied", "code": "forbidden"})
}
