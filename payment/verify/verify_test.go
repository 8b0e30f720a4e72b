package verify_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"go-settlement/log"
	"go-settlement/payment/catalog"
	"go-settlement/payment/db"
	"go-settlement/payment/errcode"
	"go-settlement/payment/matcher"
	"go-settlement/payment/order"
	"go-settlement/payment/store"
	"go-settlement/payment/verify"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token     = common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	receiving = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payer     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger  = common.HexToAddress("0x3333333333333333333333333333333333333333")

	createdAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expiresAt = createdAt.Add(30 * time.Minute)
)

const (
	txHash    = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	receiptAt = 1000
)

type fakeLedger struct {
	receipts map[common.Hash]*types.Receipt
	height   uint64
	times    map[uint64]time.Time
	err      error
}

func (f *fakeLedger) Receipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.receipts[h], nil
}

func (f *fakeLedger) BlockHeight(ctx context.Context) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.height, nil
}

func (f *fakeLedger) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	ts, ok := f.times[number]
	if !ok {
		return time.Time{}, errcode.Newf(errcode.LedgerUnavailable, "block %d not available", number)
	}
	return ts, nil
}

func transferLog(contract, from, to common.Address, value int64) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			matcher.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

type fixture struct {
	store    *store.MemoryStore
	ledger   *fakeLedger
	verifier *verify.Verifier
	order    *order.Created
	now      time.Time
}

// newFixture opens one 50 000 001 order at createdAt and a successful
// receipt paying it, five blocks deep, one minute into the window.
func newFixture(t *testing.T) *fixture {
	s := store.NewMemory()
	a := order.NewAllocator(s, catalog.NewStatic(catalog.Product{ID: "basic", UnitPrice: 50_000_000, Active: true}),
		order.Config{
			ReceivingAddress: receiving.Hex(),
			TokenContract:    token.Hex(),
			ProviderTag:      "crypto_direct",
			Clock:            func() time.Time { return createdAt },
		}, log.Discard())
	created, err := a.CreateOrder(context.Background(), "buyer@example.com", []order.Item{{ProductID: "basic", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, int64(50_000_001), created.ExpectedAmount)

	f := &fixture{
		store: s,
		ledger: &fakeLedger{
			receipts: map[common.Hash]*types.Receipt{},
			height:   receiptAt + 5,
			times:    map[uint64]time.Time{receiptAt: createdAt.Add(time.Minute)},
		},
		order: created,
		now:   createdAt.Add(5 * time.Minute),
	}
	f.setReceipt(types.ReceiptStatusSuccessful, transferLog(token, payer, receiving, 50_000_001))
	f.verifier = verify.New(s, f.ledger, verify.Config{
		TokenContract: token,
		Clock:         func() time.Time { return f.now },
	}, log.Discard())
	return f
}

func (f *fixture) setReceipt(status uint64, logs ...*types.Log) {
	f.ledger.receipts[common.HexToHash(txHash)] = &types.Receipt{
		Status:      status,
		BlockNumber: big.NewInt(receiptAt),
		Logs:        logs,
	}
}

func (f *fixture) verify() (*verify.Result, error) {
	return f.verifier.VerifyPayment(context.Background(), f.order.OrderID, txHash)
}

func (f *fixture) assertUntouched(t *testing.T) {
	p, err := f.store.PaymentByOrder(context.Background(), f.order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentInitiated, p.Status)
	assert.Nil(t, p.TxHash)
	o, err := f.store.Order(context.Background(), f.order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPendingPayment, o.Status)
}

func TestVerifyPaymentConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.verify()
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, f.order.OrderID, res.OrderID)
	assert.Equal(t, uint64(receiptAt), res.BlockNumber)

	p, err := f.store.PaymentByOrder(ctx, f.order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentConfirmed, p.Status)
	require.NotNil(t, p.TxHash)
	assert.Equal(t, txHash, *p.TxHash)
	assert.Equal(t, payer.Hex(), *p.SenderAddress)
	assert.Equal(t, "50000001", *p.ReceivedAmount)
	assert.Equal(t, uint64(receiptAt), *p.BlockNumber)
	assert.Equal(t, createdAt.Add(time.Minute), *p.BlockTimestamp)

	o, err := f.store.Order(ctx, f.order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderConfirmed, o.Status)

	events, err := f.store.ClaimEvents(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestVerifyPaymentTwice(t *testing.T) {
	f := newFixture(t)

	_, err := f.verify()
	require.NoError(t, err)

	_, err = f.verify()
	assert.Equal(t, errcode.WrongState, errcode.KindOf(err))

	p, err := f.store.PaymentByOrder(context.Background(), f.order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentConfirmed, p.Status)

	events, err := f.store.ClaimEvents(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, events, 1, "a repeated verify must not publish twice")
}

func TestConcurrentVerifyConfirmsOnce(t *testing.T) {
	f := newFixture(t)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		kinds     []errcode.Kind
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.verify()
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			kinds = append(kinds, errcode.KindOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, k := range kinds {
		assert.Contains(t, []errcode.Kind{errcode.WrongState, errcode.ConfirmConflict}, k)
	}
}

func TestVerifyPaymentAmountIsExact(t *testing.T) {
	tests := []struct {
		value int64
		want  errcode.Kind
	}{
		{50_000_000, errcode.AmountMismatch},
		{50_000_001, ""},
		{50_000_002, errcode.AmountMismatch},
	}
	for _, tt := range tests {
		f := newFixture(t)
		f.setReceipt(types.ReceiptStatusSuccessful, transferLog(token, payer, receiving, tt.value))

		_, err := f.verify()
		assert.Equal(t, tt.want, errcode.KindOf(err), "value %d", tt.value)
		if tt.want != "" {
			f.assertUntouched(t)
		}
	}
}

func TestVerifyPaymentRejectsHugeTransfer(t *testing.T) {
	f := newFixture(t)
	huge := transferLog(token, payer, receiving, 0)
	huge.Data = common.LeftPadBytes(new(big.Int).Lsh(big.NewInt(1), 200).Bytes(), 32)
	f.setReceipt(types.ReceiptStatusSuccessful, huge)

	_, err := f.verify()
	assert.Equal(t, errcode.AmountMismatch, errcode.KindOf(err))
}

func TestVerifyPaymentConfirmationDepth(t *testing.T) {
	tests := []struct {
		height uint64
		want   errcode.Kind
	}{
		{receiptAt - 1, errcode.InsufficientConfirmations},
		{receiptAt, errcode.InsufficientConfirmations},
		{receiptAt + 2, errcode.InsufficientConfirmations},
		{receiptAt + 3, ""},
		{receiptAt + 10, ""},
	}
	for _, tt := range tests {
		f := newFixture(t)
		f.ledger.height = tt.height

		_, err := f.verify()
		assert.Equal(t, tt.want, errcode.KindOf(err), "height %d", tt.height)
		if tt.want != "" {
			f.assertUntouched(t)
		}
	}
}

func TestVerifyPaymentTimestampWindow(t *testing.T) {
	tests := []struct {
		name  string
		block time.Time
		want  errcode.Kind
	}{
		{"one second before creation", createdAt.Add(-time.Second), errcode.TimestampOutOfWindow},
		{"at creation", createdAt, ""},
		{"at expiry", expiresAt, ""},
		{"one second after expiry", expiresAt.Add(time.Second), errcode.TimestampOutOfWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.times[receiptAt] = tt.block

			_, err := f.verify()
			assert.Equal(t, tt.want, errcode.KindOf(err))
		})
	}

	t.Run("block in the second the order was created", func(t *testing.T) {
		f := newFixtureCreatedAt(t, createdAt.Add(900*time.Millisecond))
		f.ledger.times[receiptAt] = createdAt

		_, err := f.verify()
		assert.Equal(t, errcode.TimestampOutOfWindow, errcode.KindOf(err))
		f.assertUntouched(t)

		f.ledger.times[receiptAt] = createdAt.Add(time.Second)
		_, err = f.verify()
		assert.NoError(t, err)
	})
}

// newFixtureCreatedAt is newFixture with the order written straight to the
// store, so its created_at may carry a fraction of a second.
func newFixtureCreatedAt(t *testing.T, created time.Time) *fixture {
	s := store.NewMemory()
	o := &db.Order{
		ID:          "order-fractional",
		BuyerEmail:  "buyer@example.com",
		Status:      db.OrderPendingPayment,
		TotalAmount: 50_000_000,
		CreatedAt:   created,
		ExpiresAt:   created.Add(30 * time.Minute),
	}
	p := &db.Payment{
		ID:               "payment-fractional",
		OrderID:          o.ID,
		ProviderTag:      "crypto_direct",
		ExpectedAmount:   50_000_001,
		ReceivingAddress: receiving.Hex(),
		Status:           db.PaymentInitiated,
	}
	require.NoError(t, s.CreateOrder(context.Background(), o, nil, p))

	f := &fixture{
		store: s,
		ledger: &fakeLedger{
			receipts: map[common.Hash]*types.Receipt{},
			height:   receiptAt + 5,
			times:    map[uint64]time.Time{},
		},
		order: &order.Created{OrderID: o.ID, ExpectedAmount: p.ExpectedAmount},
		now:   created.Add(5 * time.Minute),
	}
	f.setReceipt(types.ReceiptStatusSuccessful, transferLog(token, payer, receiving, 50_000_001))
	f.verifier = verify.New(s, f.ledger, verify.Config{
		TokenContract: token,
		Clock:         func() time.Time { return f.now },
	}, log.Discard())
	return f
}

func TestVerifyPaymentRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  errcode.Kind
	}{
		{"receipt unknown", func(f *fixture) {
			delete(f.ledger.receipts, common.HexToHash(txHash))
		}, errcode.TransactionUnconfirmed},
		{"transaction reverted", func(f *fixture) {
			f.setReceipt(types.ReceiptStatusFailed, transferLog(token, payer, receiving, 50_000_001))
		}, errcode.TransactionUnconfirmed},
		{"transfer to another wallet", func(f *fixture) {
			f.setReceipt(types.ReceiptStatusSuccessful, transferLog(token, payer, stranger, 50_000_001))
		}, errcode.NoMatchingTransfer},
		{"transfer of another token", func(f *fixture) {
			f.setReceipt(types.ReceiptStatusSuccessful, transferLog(stranger, payer, receiving, 50_000_001))
		}, errcode.NoMatchingTransfer},
		{"first transfer to wallet decides", func(f *fixture) {
			f.setReceipt(types.ReceiptStatusSuccessful,
				transferLog(token, payer, receiving, 1),
				transferLog(token, payer, receiving, 50_000_001))
		}, errcode.AmountMismatch},
		{"order expired", func(f *fixture) {
			f.now = expiresAt
		}, errcode.OrderExpired},
		{"expiry checked before the ledger", func(f *fixture) {
			f.now = expiresAt.Add(time.Hour)
			f.ledger.err = errors.New("node down")
		}, errcode.OrderExpired},
		{"ledger down", func(f *fixture) {
			f.ledger.err = errcode.New(errcode.LedgerUnavailable, "node down")
		}, errcode.LedgerUnavailable},
		{"block unavailable", func(f *fixture) {
			delete(f.ledger.times, receiptAt)
		}, errcode.LedgerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			_, err := f.verify()
			require.Error(t, err)
			assert.Equal(t, tt.want, errcode.KindOf(err))
			f.assertUntouched(t)
		})
	}
}

func TestVerifyPaymentInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.verifier.VerifyPayment(ctx, "", txHash)
	assert.Equal(t, errcode.InvalidInput, errcode.KindOf(err))

	for _, bad := range []string{"", "0x1234", txHash[2:], txHash + "00", "0x" + string(make([]byte, 64))} {
		_, err = f.verifier.VerifyPayment(ctx, f.order.OrderID, bad)
		assert.Equal(t, errcode.InvalidInput, errcode.KindOf(err), "hash %q", bad)
	}

	_, err = f.verifier.VerifyPayment(ctx, "3f0e6a52-1d1c-4c55-9d0f-8f1b1c1d1e1f", txHash)
	assert.Equal(t, errcode.PaymentNotFound, errcode.KindOf(err))
}

func TestVerifyPaymentAfterExpirySweep(t *testing.T) {
	f := newFixture(t)
	n, err := f.store.ExpireStale(context.Background(), expiresAt.Add(time.Second), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.verify()
	assert.Equal(t, errcode.WrongState, errcode.KindOf(err))
}
