package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tallybook/tallybook/internal/ledger"
)

// RegisterLedgerRoutes wires transfer, balance and history endpoints. guards
// run in front of the transfer handler only.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler, guards ...fiber.Handler) {
	r.Post("/transfers", append(guards, h.Transfer)...)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/transactions", h.History)
	r.Get("/transactions/:transactionId", h.Get)
	r.Patch("/transactions/:transactionId", h.Annotate)
}
