package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybook/tallybook/internal/audit"
	"github.com/tallybook/tallybook/internal/config"
	"github.com/tallybook/tallybook/internal/ledger"
	"github.com/tallybook/tallybook/internal/logging"
	"github.com/tallybook/tallybook/internal/notification"
	"github.com/tallybook/tallybook/internal/routes"
	"github.com/tallybook/tallybook/internal/testutil"
	"github.com/tallybook/tallybook/internal/wallet"
)

func TestNewServesRoutes(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"PORT": "9191"})
	require.NoError(t, err)

	db := testutil.NewSQLite(t)
	guard := audit.NewGuard(nil)
	repo := wallet.NewSQLiteRepository(db, guard)
	logger := logging.Discard()

	srv, err := New(routes.Deps{
		Cfg:     cfg,
		Logger:  logger,
		Wallets: wallet.NewService(repo, logger),
		Engine:  ledger.NewEngine(ledger.NewSQLiteStore(db, guard), repo, notification.NewLoggerNotifier(logger), logger),
		Ping:    db.PingContext,
	})
	require.NoError(t, err)
	assert.Equal(t, ":9191", srv.addr)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/v1/ping", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestNewRejectsMissingServices(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	_, err = New(routes.Deps{Cfg: cfg, Logger: logging.Discard()})
	assert.Error(t, err)
}
