package handler

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/wallet"
)

type TransactionHandler struct {
	Wallet *wallet.Service
	Log    *slog.Logger
}

// Request Models
type TopUpRequest struct {
	Amount      int64  `json:"amount"` // minor units
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type TransferRequest struct {
	FromID   string `json:"fromId"`
	ToID     string `json:"toId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Kind     string `json:"kind"`
	Note     string `json:"note"`
}

// account resolves :accountId and checks the caller may see it.
func (h *TransactionHandler) account(c *fiber.Ctx) (uuid.UUID, bool, error) {
	id, err := idParam(c, "accountId")
	if err != nil {
		return uuid.Nil, false, badRequest(c, err.Error())
	}
	if !actor(c).Owns(id.String()) {
		return uuid.Nil, false, forbidden(c)
	}
	return id, true, nil
}

func (h *TransactionHandler) Balance(c *fiber.Ctx) error {
	id, ok, err := h.account(c)
	if !ok {
		return err
	}
	asOf, err := timeQuery(c, "asOf")
	if err != nil {
		return badRequest(c, err.Error())
	}
	if !asOf.IsZero() {
		bal, err := h.Wallet.BalanceAsOf(c.UserContext(), id, asOf)
		if err != nil {
			return respondError(c, h.Log, err)
		}
		return c.JSON(fiber.Map{"account_id": id, "balance": bal, "as_of": asOf})
	}
	bal, err := h.Wallet.GetBalance(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(bal)
}

func (h *TransactionHandler) GetHistory(c *fiber.Ctx) error {
	id, ok, err := h.account(c)
	if !ok {
		return err
	}
	q := wallet.TransactionQuery{
		AccountID: id,
		Page:      c.QueryInt("page", 1),
		PageSize:  c.QueryInt("pageSize", wallet.DefaultPageSize),
	}
	for _, t := range listQuery(c, "type") {
		q.Types = append(q.Types, domain.TransactionType(t))
	}
	for _, s := range listQuery(c, "status") {
		q.Statuses = append(q.Statuses, domain.TransactionStatus(s))
	}
	if q.From, err = timeQuery(c, "from"); err != nil {
		return badRequest(c, err.Error())
	}
	if q.To, err = timeQuery(c, "to"); err != nil {
		return badRequest(c, err.Error())
	}

	page, err := h.Wallet.ListTransactions(c.UserContext(), q)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(page)
}

func (h *TransactionHandler) Reconcile(c *fiber.Ctx) error {
	id, ok, err := h.account(c)
	if !ok {
		return err
	}
	r, err := h.Wallet.Reconcile(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(r)
}

func (h *TransactionHandler) TopUp(c *fiber.Ctx) error {
	id, ok, err := h.account(c)
	if !ok {
		return err
	}
	var req TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := money(req.Amount, req.Currency, "")
	if err != nil {
		return respondError(c, h.Log, err)
	}

	t, err := h.Wallet.Deposit(c.UserContext(), idempotencyKey(c), wallet.DepositRequest{
		AccountID: id, Amount: amount, Description: req.Description,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.Status(http.StatusCreated).JSON(t)
}

func (h *TransactionHandler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	from, err := uuid.Parse(req.FromID)
	if err != nil {
		return badRequest(c, "invalid fromId")
	}
	to, err := uuid.Parse(req.ToID)
	if err != nil {
		return badRequest(c, "invalid toId")
	}
	if !actor(c).Owns(from.String()) {
		return forbidden(c)
	}

	currency := domain.Currency(req.Currency)
	if req.Currency == "" {
		acc, err := h.Wallet.GetAccount(c.UserContext(), from)
		if err != nil {
			return respondError(c, h.Log, err)
		}
		currency = acc.Currency
	}
	amount, err := money(req.Amount, string(currency), "")
	if err != nil {
		return respondError(c, h.Log, err)
	}

	legs, err := h.Wallet.Transfer(c.UserContext(), idempotencyKey(c), wallet.TransferRequest{
		FromID: from, ToID: to, Amount: amount, Kind: wallet.TransferKind(req.Kind), Note: req.Note,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"reference": legs[0].Reference, "transactions": legs})
}
