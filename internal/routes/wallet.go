package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tallybook/tallybook/internal/wallet"
)

// RegisterWalletRoutes wires wallet metadata endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Put("/wallets/:walletId/overdraft", h.SetOverdraft)
	r.Put("/wallets/:walletId/label", h.SetLabel)
}
