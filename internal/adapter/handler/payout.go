package handler

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/payout"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/wallet"
)

type PayoutHandler struct {
	Wallet *wallet.Service
	Log    *slog.Logger
}

type PayoutRequest struct {
	ChurchID      string `json:"churchId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Class         string `json:"class"`
	UrgencyReason string `json:"urgencyReason"`
}

// transitionRequest carries the optional fields of the state-change routes.
type transitionRequest struct {
	Reason            string `json:"reason"`
	ExternalReference string `json:"externalReference"`
}

func (h *PayoutHandler) Submit(c *fiber.Ctx) error {
	var req PayoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	church, err := uuid.Parse(req.ChurchID)
	if err != nil {
		return badRequest(c, "invalid churchId")
	}
	who := actor(c)
	if !who.Owns(church.String()) {
		return forbidden(c)
	}

	acc, err := h.Wallet.GetAccount(c.UserContext(), church)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	amount, err := money(req.Amount, req.Currency, acc.Currency)
	if err != nil {
		return respondError(c, h.Log, err)
	}

	p, err := h.Wallet.RequestPayout(c.UserContext(), idempotencyKey(c), payout.SubmitRequest{
		ChurchID:      church,
		Amount:        amount,
		Class:         domain.PayoutClass(req.Class),
		UrgencyReason: req.UrgencyReason,
		RequestedBy:   who.Subject,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.Status(http.StatusCreated).JSON(p)
}

// Transition dispatches POST /payouts/:id/:action.
func (h *PayoutHandler) Transition(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req transitionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	ctx, key, who := c.UserContext(), idempotencyKey(c), actor(c)
	var p domain.PayoutRequest
	switch c.Params("action") {
	case "review":
		p, err = h.Wallet.ReviewPayout(ctx, key, id, who.Subject)
	case "approve":
		p, err = h.Wallet.ApprovePayout(ctx, key, id, who.Subject)
	case "reject":
		p, err = h.Wallet.RejectPayout(ctx, key, id, who.Subject, req.Reason)
	case "process":
		p, err = h.Wallet.ProcessPayout(ctx, key, id)
	case "complete":
		p, err = h.Wallet.CompletePayout(ctx, key, id, req.ExternalReference)
	case "fail":
		p, err = h.Wallet.FailPayout(ctx, key, id, req.Reason)
	default:
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Not found", "code": domain.KindNotFound})
	}
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(p)
}

// Cancel is open to the church's own admins as well as super admins.
func (h *PayoutHandler) Cancel(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	current, err := h.Wallet.GetPayout(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if !actor(c).Owns(current.ChurchID.String()) {
		return forbidden(c)
	}
	p, err := h.Wallet.CancelPayout(c.UserContext(), idempotencyKey(c), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(p)
}

func (h *PayoutHandler) Get(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	p, err := h.Wallet.GetPayout(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if !actor(c).Owns(p.ChurchID.String()) {
		return forbidden(c)
	}
	return c.JSON(p)
}

func (h *PayoutHandler) ListForChurch(c *fiber.Ctx) error {
	church, err := idParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	if !actor(c).Owns(church.String()) {
		return forbidden(c)
	}
	var statuses []domain.PayoutStatus
	for _, s := range listQuery(c, "status") {
		statuses = append(statuses, domain.PayoutStatus(s))
	}
	list, err := h.Wallet.ListPayouts(c.UserContext(), church, statuses...)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if list == nil {
		list = []domain.PayoutRequest{}
	}
	return c.JSON(fiber.Map{"payouts": list})
}
