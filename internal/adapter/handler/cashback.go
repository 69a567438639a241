package handler

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/middleware"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/wallet"
)

type CashbackHandler struct {
	Wallet *wallet.Service
	Log    *slog.Logger
}

func (h *CashbackHandler) Calculate(c *fiber.Ctx) error {
	church, err := idParam(c, "churchId")
	if err != nil {
		return badRequest(c, err.Error())
	}
	year, err := c.ParamsInt("year")
	if err != nil {
		return badRequest(c, "invalid year")
	}
	r, err := h.Wallet.CalculateCashback(c.UserContext(), idempotencyKey(c), church, year, actor(c).Subject)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.Status(http.StatusCreated).JSON(r)
}

func (h *CashbackHandler) Batch(c *fiber.Ctx) error {
	year, err := c.ParamsInt("year")
	if err != nil {
		return badRequest(c, "invalid year")
	}
	res, err := h.Wallet.CalculateCashbackYear(c.UserContext(), idempotencyKey(c), year, actor(c).Subject)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(res)
}

// record resolves the target of approve and pay, either by record id or by
// church and year. When it reports false the error response is already written.
func (h *CashbackHandler) record(c *fiber.Ctx) (uuid.UUID, bool, error) {
	if c.Params("churchId") == "" {
		id, err := idParam(c, "id")
		if err != nil {
			return uuid.Nil, false, badRequest(c, err.Error())
		}
		return id, true, nil
	}
	church, err := idParam(c, "churchId")
	if err != nil {
		return uuid.Nil, false, badRequest(c, err.Error())
	}
	year, err := c.ParamsInt("year")
	if err != nil {
		return uuid.Nil, false, badRequest(c, "invalid year")
	}
	r, err := h.Wallet.FindCashback(c.UserContext(), church, year)
	if err != nil {
		return uuid.Nil, false, respondError(c, h.Log, err)
	}
	return r.ID, true, nil
}

func (h *CashbackHandler) Approve(c *fiber.Ctx) error {
	id, ok, err := h.record(c)
	if !ok {
		return err
	}
	r, err := h.Wallet.ApproveCashback(c.UserContext(), idempotencyKey(c), id, actor(c).Subject)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(r)
}

func (h *CashbackHandler) Pay(c *fiber.Ctx) error {
	id, ok, err := h.record(c)
	if !ok {
		return err
	}
	r, err := h.Wallet.PayCashback(c.UserContext(), idempotencyKey(c), id, actor(c).Subject)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(r)
}

// List answers GET /cashback?year=&churchId=. Church admins only see their
// own records.
func (h *CashbackHandler) List(c *fiber.Ctx) error {
	var church uuid.UUID
	if v := c.Query("churchId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid churchId")
		}
		church = id
	}
	who := actor(c)
	if who.Role != middleware.RoleSuperAdmin && (church == uuid.Nil || !who.Owns(church.String())) {
		return forbidden(c)
	}

	records, err := h.Wallet.GetCashbackRecords(c.UserContext(), church, c.QueryInt("year", 0))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if records == nil {
		records = []domain.CashbackRecord{}
	}
	return c.JSON(fiber.Map{"records": records})
}
