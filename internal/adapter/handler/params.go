package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/middleware"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/security"
)

func idParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// idempotencyKey scopes the client's key to the token subject, the same way
// the response cache does, so two callers can pick the same key.
func idempotencyKey(c *fiber.Ctx) string {
	key := c.Get(middleware.IdempotencyHeader)
	if key == "" {
		return ""
	}
	return security.Fingerprint([]byte(actor(c).Subject), []byte(key))
}

func actor(c *fiber.Ctx) middleware.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

// money builds an amount in minor units. An empty currency means the
// fallback (usually the account's).
func money(amount int64, currency string, fallback domain.Currency) (domain.Money, error) {
	if currency == "" {
		return domain.NewMoney(amount, fallback), nil
	}
	cur, err := domain.ParseCurrency(currency)
	if err != nil {
		return domain.Money{}, err
	}
	return domain.NewMoney(amount, cur), nil
}

// timeQuery parses an RFC3339 timestamp or a YYYY-MM-DD date, in UTC.
func timeQuery(c *fiber.Ctx, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid %s, use RFC3339 or YYYY-MM-DD", name)
}

// listQuery splits a comma-separated query value.
func listQuery(c *fiber.Ctx, name string) []string {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
