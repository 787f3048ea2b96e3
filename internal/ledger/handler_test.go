package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybook/tallybook/internal/auth"
	"github.com/tallybook/tallybook/internal/middleware"
)

func newHandlerApp(t *testing.T, secret string) (*fiber.App, *fixture) {
	t.Helper()
	f := newSQLiteFixture(t, nil)
	h := NewHandler(f.engine)
	app := fiber.New()
	app.Use(middleware.ActorAuth(secret))
	app.Post("/transfers", h.Transfer)
	app.Get("/wallets/:walletId/balance", h.Balance)
	app.Get("/wallets/:walletId/transactions", h.History)
	app.Get("/transactions/:transactionId", h.Get)
	app.Patch("/transactions/:transactionId", h.Annotate)
	return app, f
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	} else {
		decoded["message"] = string(raw)
	}
	return resp.StatusCode, decoded
}

func TestHandlerTransferFlow(t *testing.T) {
	app, f := newHandlerApp(t, "")
	a := f.funded(t, 10_000)
	b := f.wallet(t, false)

	status, body := doJSON(t, app, fiber.MethodPost, "/transfers", fiber.Map{
		"source_wallet_id":      a.ID.String(),
		"destination_wallet_id": b.ID.String(),
		"amount":                1_250,
		"description":           "stock",
	}, nil)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "12.50", body["amount_display"])
	assert.Nil(t, body["executor_id"])
	txID := body["id"].(string)

	status, body = doJSON(t, app, fiber.MethodGet, "/wallets/"+a.ID.String()+"/balance", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 8_750, body["balance"])
	assert.Equal(t, "87.50", body["balance_display"])

	status, body = doJSON(t, app, fiber.MethodGet, "/wallets/"+b.ID.String()+"/transactions?page_size=10", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	items := body["transactions"].([]any)
	require.Len(t, items, 1)
	assert.Nil(t, body["next_cursor"])

	status, body = doJSON(t, app, fiber.MethodPatch, "/transactions/"+txID, fiber.Map{"description": "stock, March"}, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "stock, March", body["description"])
	assert.NotNil(t, body["updated_at"])

	status, body = doJSON(t, app, fiber.MethodGet, "/transactions/"+txID, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1_250, body["amount"])
}

func TestHandlerErrorMapping(t *testing.T) {
	app, f := newHandlerApp(t, "")
	a := f.funded(t, 100)
	b := f.wallet(t, false)
	missing := uuid.New()

	transfer := func(src, dst uuid.UUID, amount int64) (int, map[string]any) {
		return doJSON(t, app, fiber.MethodPost, "/transfers", fiber.Map{
			"source_wallet_id":      src.String(),
			"destination_wallet_id": dst.String(),
			"amount":                amount,
		}, nil)
	}

	status, _ := transfer(a.ID, b.ID, 0)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = transfer(a.ID, a.ID, 10)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := transfer(a.ID, missing, 10)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "destination", body["role"])

	status, body = transfer(a.ID, b.ID, 160)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.EqualValues(t, 60, body["shortfall"])

	status, _ = doJSON(t, app, fiber.MethodGet, "/wallets/"+missing.String()+"/balance", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = doJSON(t, app, fiber.MethodGet, "/wallets/not-a-uuid/balance", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doJSON(t, app, fiber.MethodGet, "/wallets/"+a.ID.String()+"/transactions?cursor=%21%21", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doJSON(t, app, fiber.MethodGet, "/transactions/"+missing.String(), nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	f.engine.store = flakyStore{Store: f.store}
	status, body = transfer(a.ID, b.ID, 10)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.NotContains(t, body["message"], "deadlock")
}

func TestHandlerRecordsExecutor(t *testing.T) {
	app, f := newHandlerApp(t, "s3cret")
	a := f.funded(t, 100)
	b := f.wallet(t, false)
	actor := uuid.New()
	token, err := auth.SignActorToken(actor, "s3cret", time.Minute)
	require.NoError(t, err)

	req := fiber.Map{"source_wallet_id": a.ID.String(), "destination_wallet_id": b.ID.String(), "amount": 5}
	status, _ := doJSON(t, app, fiber.MethodPost, "/transfers", req, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := doJSON(t, app, fiber.MethodPost, "/transfers", req, map[string]string{
		fiber.HeaderAuthorization: "Bearer " + token,
	})
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, actor.String(), body["executor_id"])
}

func TestDisplayAmount(t *testing.T) {
	assert.Equal(t, "0.00", displayAmount(0))
	assert.Equal(t, "-5.00", displayAmount(-500))
	assert.Equal(t, "0.07", displayAmount(7))
}
