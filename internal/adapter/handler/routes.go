package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/middleware"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/wallet"
)

// Register mounts the /v1 API on app. Every route needs a bearer token and
// every mutating route an Idempotency-Key.
func Register(app *fiber.App, w *wallet.Service, responses middleware.ResponseStore, jwtSecret string, log *slog.Logger) {
	accounts := &AccountHandler{Wallet: w, Log: log}
	transactions := &TransactionHandler{Wallet: w, Log: log}
	payouts := &PayoutHandler{Wallet: w, Log: log}
	cashback := &CashbackHandler{Wallet: w, Log: log}

	superAdmin := middleware.RequireRole(middleware.RoleSuperAdmin)
	churchAdmin := middleware.RequireRole(middleware.RoleChurchAdmin, middleware.RoleSuperAdmin)

	api := app.Group("/v1", middleware.Protected(jwtSecret), middleware.Idempotency(responses, log))

	api.Post("/accounts", superAdmin, accounts.CreateAccount)
	api.Get("/accounts/:id", accounts.GetAccount)
	api.Post("/accounts/:id/deactivate", superAdmin, accounts.Deactivate)
	api.Put("/accounts/:id/goal", accounts.SetGivingGoal)

	api.Post("/wallet/transfer", transactions.Transfer)
	api.Post("/wallet/:accountId/topup", transactions.TopUp)
	api.Get("/wallet/:accountId/balance", transactions.Balance)
	api.Get("/wallet/:accountId/transactions", transactions.GetHistory)
	api.Get("/wallet/:accountId/reconcile", transactions.Reconcile)

	api.Post("/payouts", churchAdmin, payouts.Submit)
	api.Post("/payouts/:id/cancel", churchAdmin, payouts.Cancel)
	api.Post("/payouts/:id/:action", superAdmin, payouts.Transition)
	api.Get("/payouts/:id", payouts.Get)
	api.Get("/churches/:id/payouts", payouts.ListForChurch)

	api.Post("/cashback/batch/:year", superAdmin, cashback.Batch)
	api.Post("/cashback/:churchId/:year/calculate", superAdmin, cashback.Calculate)
	api.Post("/cashback/:churchId/:year/approve", superAdmin, cashback.Approve)
	api.Post("/cashback/:churchId/:year/pay", superAdmin, cashback.Pay)
	api.Post("/cashback/:id/approve", superAdmin, cashback.Approve)
	api.Post("/cashback/:id/pay", superAdmin, cashback.Pay)
	api.Get("/cashback", churchAdmin, cashback.List)
}
