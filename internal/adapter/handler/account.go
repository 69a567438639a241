package handler

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/wallet"
)

type AccountHandler struct {
	Wallet *wallet.Service
	Log    *slog.Logger
}

// CreateAccountRequest defines what the onboarding service sends us
type CreateAccountRequest struct {
	OwnerType    string `json:"ownerType"`
	OwnerName    string `json:"ownerName"`
	Currency     string `json:"currency"`
	DailyLimit   int64  `json:"dailyLimit"`
	MonthlyLimit int64  `json:"monthlyLimit"`
}

func (h *AccountHandler) CreateAccount(c *fiber.Ctx) error {
	var req CreateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		h.Log.Warn("Invalid account body", "error", err)
		return badRequest(c, "invalid request body")
	}

	account, err := h.Wallet.CreateAccount(c.UserContext(), idempotencyKey(c), wallet.CreateAccountRequest{
		OwnerType:    domain.OwnerType(req.OwnerType),
		OwnerName:    req.OwnerName,
		Currency:     domain.Currency(req.Currency),
		DailyLimit:   req.DailyLimit,
		MonthlyLimit: req.MonthlyLimit,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.Status(http.StatusCreated).JSON(account)
}

func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	if !actor(c).Owns(id.String()) {
		return forbidden(c)
	}
	account, err := h.Wallet.GetAccount(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(account)
}

func (h *AccountHandler) Deactivate(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	account, err := h.Wallet.Deactivate(c.UserContext(), idempotencyKey(c), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(account)
}

type GivingGoalRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (h *AccountHandler) SetGivingGoal(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	if !actor(c).Owns(id.String()) {
		return forbidden(c)
	}
	var req GivingGoalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	goal, err := money(req.Amount, req.Currency, "")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	account, err := h.Wallet.SetGivingGoal(c.UserContext(), idempotencyKey(c), id, goal)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(account)
}
