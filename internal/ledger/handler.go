package ledger

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/middleware"
	"github.com/tallybook/tallybook/internal/wallet"
)

// centsExponent renders integral cents as currency units.
const centsExponent = -2

// Handler exposes transfer, balance and history endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a ledger handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type transferRequest struct {
	SourceWalletID      string  `json:"source_wallet_id"`
	DestinationWalletID string  `json:"destination_wallet_id"`
	Amount              int64   `json:"amount"`
	Description         *string `json:"description"`
}

type annotateRequest struct {
	Description *string `json:"description"`
}

// TransactionResponse is the JSON shape of a transaction.
type TransactionResponse struct {
	ID                  string     `json:"id"`
	SourceWalletID      string     `json:"source_wallet_id"`
	DestinationWalletID string     `json:"destination_wallet_id"`
	ExecutorID          *string    `json:"executor_id"`
	Amount              int64      `json:"amount"`
	AmountDisplay       string     `json:"amount_display"`
	Description         *string    `json:"description"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           *time.Time `json:"updated_at"`
}

func newTransactionResponse(t Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                  t.ID.String(),
		SourceWalletID:      t.SourceWalletID.String(),
		DestinationWalletID: t.DestinationWalletID.String(),
		Amount:              t.Amount,
		AmountDisplay:       displayAmount(t.Amount),
		Description:         t.Description,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
	if t.Executor != nil {
		executor := t.Executor.String()
		resp.ExecutorID = &executor
	}
	return resp
}

func displayAmount(cents int64) string {
	return decimal.New(cents, centsExponent).StringFixed(-centsExponent)
}

// Transfer moves money between two wallets. The executor is the
// authenticated actor, if any.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	source, err := uuid.Parse(req.SourceWalletID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "source_wallet_id must be a UUID")
	}
	destination, err := uuid.Parse(req.DestinationWalletID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "destination_wallet_id must be a UUID")
	}

	t, err := h.engine.Transfer(c.UserContext(), TransferInput{
		Source:      source,
		Destination: destination,
		Amount:      req.Amount,
		Executor:    middleware.Actor(c),
		Description: req.Description,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(newTransactionResponse(t))
}

// Balance returns the derived wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	id, err := wallet.ParamID(c, "walletId")
	if err != nil {
		return err
	}
	balance, err := h.engine.Balance(c.UserContext(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{
		"wallet_id":       id.String(),
		"balance":         balance,
		"balance_display": displayAmount(balance),
		"timestamp":       time.Now().UTC(),
	})
}

// History returns one page of the wallet's transactions, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	id, err := wallet.ParamID(c, "walletId")
	if err != nil {
		return err
	}
	page := Page{Size: c.QueryInt("page_size", DefaultPageSize), Cursor: c.Query("cursor")}

	hp, err := h.engine.History(c.UserContext(), id, page)
	if err != nil {
		return httpError(c, err)
	}
	items := make([]TransactionResponse, 0, len(hp.Transactions))
	for _, t := range hp.Transactions {
		items = append(items, newTransactionResponse(t))
	}
	resp := fiber.Map{"wallet_id": id.String(), "transactions": items}
	if hp.NextCursor != "" {
		resp["next_cursor"] = hp.NextCursor
	}
	return c.JSON(resp)
}

// Get returns one transaction.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := wallet.ParamID(c, "transactionId")
	if err != nil {
		return err
	}
	t, err := h.engine.Transaction(c.UserContext(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(newTransactionResponse(t))
}

// Annotate replaces the transaction description.
func (h *Handler) Annotate(c *fiber.Ctx) error {
	id, err := wallet.ParamID(c, "transactionId")
	if err != nil {
		return err
	}
	var req annotateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.engine.Annotate(c.UserContext(), id, req.Description)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(newTransactionResponse(t))
}

// httpError maps ledger outcomes to responses. Storage details never reach
// the client.
func httpError(c *fiber.Ctx, err error) error {
	var (
		insufficient *InsufficientFundsError
		notFound     *WalletNotFoundError
		outOfRange   *BalanceOutOfRangeError
	)
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSameWallet), errors.Is(err, ErrInvalidCursor):
		return fiber.NewError(http.StatusBadRequest, rootMessage(err))
	case errors.As(err, &notFound):
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error":     ErrWalletNotFound.Error(),
			"wallet_id": notFound.WalletID.String(),
			"role":      notFound.Role,
		})
	case errors.Is(err, ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, ErrTransactionNotFound.Error())
	case errors.As(err, &insufficient):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":             ErrInsufficientFunds.Error(),
			"shortfall":         insufficient.Shortfall,
			"shortfall_display": displayAmount(insufficient.Shortfall),
		})
	case errors.As(err, &outOfRange):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":     ErrBalanceOutOfRange.Error(),
			"wallet_id": outOfRange.WalletID.String(),
			"role":      outOfRange.Role,
		})
	case errors.Is(err, ErrStorageUnavailable):
		c.Set(fiber.HeaderRetryAfter, "1")
		return fiber.NewError(http.StatusServiceUnavailable, ErrStorageUnavailable.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func rootMessage(err error) string {
	for _, known := range []error{ErrInvalidAmount, ErrSameWallet, ErrInvalidCursor} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
