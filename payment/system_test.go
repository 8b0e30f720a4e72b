package payment_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go-settlement/config"
	"go-settlement/payment"
	"go-settlement/payment/catalog"
	"go-settlement/payment/errcode"
	"go-settlement/payment/events"
	"go-settlement/payment/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(driver, dsn string) *config.Config {
	return &config.Config{
		DBDriver:         driver,
		DSN:              dsn,
		ReceivingAddress: "0x1111111111111111111111111111111111111111",
		TokenContract:    "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		ProviderTag:      "crypto_direct",
		OrderTTL:         30 * time.Minute,
		MinConfirmations: 3,
		Products:         []string{"plan-basic:50000000:Basic"},
	}
}

func TestOpenMemoryWithoutNode(t *testing.T) {
	ctx := context.Background()
	sys, err := payment.Open(ctx, testConfig("memory", ""))
	require.NoError(t, err)
	defer sys.Close()

	created, err := sys.Allocator.CreateOrder(ctx, "buyer@example.com", []order.Item{{ProductID: "plan-basic", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(50000001), created.ExpectedAmount)

	_, err = sys.Verifier.VerifyPayment(ctx, created.OrderID, "0x"+strings.Repeat("ab", 32))
	assert.Equal(t, errcode.LedgerUnavailable, errcode.KindOf(err))
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	sys, err := payment.Open(ctx, testConfig("sqlite", filepath.Join(t.TempDir(), "settlement.db")))
	require.NoError(t, err)
	defer sys.Close()

	require.NoError(t, sys.Catalog.Add(ctx, catalog.Product{ID: "plan-basic", UnitPrice: 1000, Active: true}))
	created, err := sys.Allocator.CreateOrder(ctx, "buyer@example.com", []order.Item{{ProductID: "plan-basic", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2001), created.ExpectedAmount)
	require.NoError(t, sys.Store.Ping(ctx))
}

func TestOpenRejectsBadProduct(t *testing.T) {
	cfg := testConfig("memory", "")
	cfg.Products = []string{"plan-basic"}
	_, err := payment.Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPublisherFallsBackToLog(t *testing.T) {
	p, err := payment.Publisher(testConfig("memory", ""))
	require.NoError(t, err)
	assert.IsType(t, events.LogPublisher{}, p)
}
