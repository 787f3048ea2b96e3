package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	OwnerID        *string `json:"owner_id"`
	Label          *string `json:"label"`
	AllowOverdraft bool    `json:"allow_overdraft"`
}

type overdraftRequest struct {
	AllowOverdraft *bool `json:"allow_overdraft"`
}

type labelRequest struct {
	Label *string `json:"label"`
}

// Response is the JSON shape of a wallet.
type Response struct {
	ID             string     `json:"id"`
	OwnerID        *string    `json:"owner_id"`
	Label          *string    `json:"label"`
	AllowOverdraft bool       `json:"allow_overdraft"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// NewResponse renders a wallet for the API.
func NewResponse(w Wallet) Response {
	resp := Response{
		ID:             w.ID.String(),
		AllowOverdraft: w.AllowOverdraft,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if w.Owner != nil {
		owner := w.Owner.String()
		resp.OwnerID = &owner
	}
	if w.Label != nil {
		label := string(*w.Label)
		resp.Label = &label
	}
	return resp
}

// Create registers a wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := CreateInput{AllowOverdraft: req.AllowOverdraft}
	if req.OwnerID != nil {
		owner, err := uuid.Parse(*req.OwnerID)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "owner_id must be a UUID")
		}
		input.Owner = &owner
	}
	if req.Label != nil {
		label := Label(*req.Label)
		input.Label = &label
	}

	w, err := h.service.Create(c.UserContext(), input)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(NewResponse(w))
}

// Get returns wallet metadata.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := ParamID(c, "walletId")
	if err != nil {
		return err
	}
	w, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(NewResponse(w))
}

// SetOverdraft changes the overdraft policy.
func (h *Handler) SetOverdraft(c *fiber.Ctx) error {
	id, err := ParamID(c, "walletId")
	if err != nil {
		return err
	}
	var req overdraftRequest
	if err := c.BodyParser(&req); err != nil || req.AllowOverdraft == nil {
		return fiber.NewError(http.StatusBadRequest, "allow_overdraft is required")
	}
	w, err := h.service.SetOverdraftPolicy(c.UserContext(), id, *req.AllowOverdraft)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(NewResponse(w))
}

// SetLabel renames the wallet; a null label clears it.
func (h *Handler) SetLabel(c *fiber.Ctx) error {
	id, err := ParamID(c, "walletId")
	if err != nil {
		return err
	}
	var req labelRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	var label *Label
	if req.Label != nil {
		l := Label(*req.Label)
		label = &l
	}
	w, err := h.service.SetLabel(c.UserContext(), id, label)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(NewResponse(w))
}

// ParamID parses a UUID route parameter.
func ParamID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, name+" must be a UUID")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrDuplicateLabel):
		return fiber.NewError(http.StatusConflict, ErrDuplicateLabel.Error())
	case errors.Is(err, ErrWalletInUse):
		return fiber.NewError(http.StatusConflict, ErrWalletInUse.Error())
	case errors.Is(err, ErrInvalidLabel):
		return fiber.NewError(http.StatusBadRequest, ErrInvalidLabel.Error())
	case errors.Is(err, ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "storage unavailable")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
