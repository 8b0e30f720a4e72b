// Package verify decides whether a claimed transaction settles an order and,
// if it does, commits that fact exactly once.
package verify

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"go-settlement/payment/db"
	"go-settlement/payment/errcode"
	"go-settlement/payment/ledger"
	"go-settlement/payment/matcher"
	"go-settlement/payment/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const DefaultMinConfirmations = 3

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type Config struct {
	TokenContract    common.Address
	MinConfirmations uint64
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Result struct {
	Confirmed   bool   `json:"confirmed"`
	OrderID     string `json:"order_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

type Verifier struct {
	store  store.Store
	ledger ledger.Client
	cfg    Config
	logger *slog.Logger
}

func New(s store.Store, l ledger.Client, cfg Config, logger *slog.Logger) *Verifier {
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = DefaultMinConfirmations
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Verifier{store: s, ledger: l, cfg: cfg, logger: logger}
}

// VerifyPayment checks txHash against the open payment of orderID and
// confirms both on success. Checks run in a fixed order and stop at the first
// failure; only the final confirm mutates anything, so a failed or repeated
// call is always safe to retry.
func (v *Verifier) VerifyPayment(ctx context.Context, orderID, txHash string) (*Result, error) {
	res, err := v.verify(ctx, orderID, txHash)
	if err != nil {
		kind := errcode.KindOf(err)
		if kind.Retryable() || kind == "" {
			v.logger.Warn("payment verification failed", "order_id", orderID, "tx_hash", txHash, "kind", kind, "err", err)
		} else {
			v.logger.Info("payment rejected", "order_id", orderID, "tx_hash", txHash, "kind", kind, "reason", errcode.Message(err))
		}
		return nil, err
	}
	v.logger.Info("payment confirmed", "order_id", orderID, "tx_hash", res.TxHash, "block", res.BlockNumber)
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, orderID, txHash string) (*Result, error) {
	if orderID == "" {
		return nil, errcode.New(errcode.InvalidInput, "order id is required")
	}
	if !txHashPattern.MatchString(txHash) {
		return nil, errcode.New(errcode.InvalidInput, "tx hash must be 0x followed by 64 hex digits")
	}
	hash := common.HexToHash(txHash)

	payment, err := v.store.PaymentByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status != db.PaymentInitiated {
		return nil, errcode.Newf(errcode.WrongState, "payment is %s", payment.Status)
	}

	order, err := v.store.Order(ctx, orderID)
	if err != nil {
		if errcode.KindOf(err) == errcode.PaymentNotFound {
			return nil, errcode.Wrap(errcode.WrongState, err, "order is not payable")
		}
		return nil, err
	}
	if order.Status != db.OrderPendingPayment {
		return nil, errcode.Newf(errcode.WrongState, "order is %s", order.Status)
	}
	now := v.cfg.Clock()
	if !now.Before(order.ExpiresAt) {
		return nil, errcode.New(errcode.OrderExpired, "order expired")
	}

	receipt, err := v.ledger.Receipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful || receipt.BlockNumber == nil {
		return nil, errcode.New(errcode.TransactionUnconfirmed, "transaction not found or not successful")
	}
	block := receipt.BlockNumber.Uint64()

	height, err := v.ledger.BlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	var depth uint64
	if height > block {
		depth = height - block
	}
	if depth < v.cfg.MinConfirmations {
		return nil, errcode.Newf(errcode.InsufficientConfirmations,
			"%d of %d confirmations, try again later", depth, v.cfg.MinConfirmations)
	}

	transfer, ok := matcher.FindTo(receipt.Logs, v.cfg.TokenContract, common.HexToAddress(payment.ReceivingAddress))
	if !ok {
		return nil, errcode.New(errcode.NoMatchingTransfer, "no token transfer to the receiving wallet in transaction")
	}

	if !transfer.Value.IsInt64() || transfer.Value.Int64() != payment.ExpectedAmount {
		return nil, errcode.Newf(errcode.AmountMismatch,
			"transferred %s, expected %d", transfer.Value.String(), payment.ExpectedAmount)
	}

	blockTime, err := v.ledger.BlockTime(ctx, block)
	if err != nil {
		return nil, err
	}
	if blockTime.Before(order.CreatedAt) || blockTime.After(order.ExpiresAt) {
		return nil, errcode.New(errcode.TimestampOutOfWindow, "transaction time outside the order's payment window")
	}

	err = v.store.Confirm(ctx, store.Confirmation{
		PaymentID:      payment.ID,
		OrderID:        order.ID,
		TxHash:         hash.Hex(),
		Sender:         transfer.From.Hex(),
		ReceivedAmount: transfer.Value,
		BlockNumber:    block,
		BlockTime:      blockTime,
		ConfirmedAt:    now.UTC(),
	})
	if err != nil {
		return nil, err
	}

	return &Result{Confirmed: true, OrderID: order.ID, TxHash: hash.Hex(), BlockNumber: block}, nil
}
