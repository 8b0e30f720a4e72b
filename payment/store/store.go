// Package store persists orders, order lines, payments and the payment
// outbox. It is the only shared mutable state of the service and the sole
// arbiter of two invariants: open payments never share an expected amount,
// and a payment is confirmed at most once.
package store

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"go-settlement/payment/db"
	"go-settlement/payment/errcode"
	"go-settlement/payment/events"
	"go-settlement/utils"
)

// Store is implemented by the gorm backed store and the in-memory store.
//
// Every error returned is an *errcode.Error.
type Store interface {
	// ActiveAmounts returns the expected amounts of initiated payments that
	// fall within [lo, hi].
	ActiveAmounts(ctx context.Context, lo, hi int64) ([]int64, error)

	// CreateOrder inserts order, lines and payment as one unit. If the
	// payment's expected amount is already held by another initiated payment
	// it fails with AllocationConflict and nothing is persisted.
	CreateOrder(ctx context.Context, order *db.Order, lines []db.OrderLine, payment *db.Payment) error

	Order(ctx context.Context, orderID string) (*db.Order, error)
	OrderLines(ctx context.Context, orderID string) ([]db.OrderLine, error)
	PaymentByOrder(ctx context.Context, orderID string) (*db.Payment, error)

	// Confirm moves the payment from initiated to confirmed and its order
	// from pending_payment to confirmed, and records a payment-confirmed
	// event, all or nothing. ConfirmConflict means nothing changed.
	Confirm(ctx context.Context, c Confirmation) error

	// ExpireStale fails up to limit initiated payments whose order expired
	// before now, and marks those orders expired. It returns the number of
	// orders expired.
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)

	OpenPayments(ctx context.Context) ([]db.Payment, error)
	Ping(ctx context.Context) error
}

// Confirmation carries the chain facts recorded on a confirmed payment.
type Confirmation struct {
	PaymentID      string
	OrderID        string
	TxHash         string
	Sender         string
	ReceivedAmount *big.Int
	BlockNumber    uint64
	BlockTime      time.Time
	ConfirmedAt    time.Time
}

var (
	errConfirmConflict = errcode.New(errcode.ConfirmConflict, "payment not in initiated state")
	errTxAlreadyUsed   = errcode.New(errcode.ConfirmConflict, "transaction already used for another payment")
)

func notFound(what string) *errcode.Error {
	return errcode.New(errcode.PaymentNotFound, what+" not found")
}

func confirmedEvent(order *db.Order, payment *db.Payment, c Confirmation) (*db.OutboxEvent, error) {
	evt := events.PaymentConfirmed{
		EventID:        utils.GenerateUUID(),
		OrderID:        order.ID,
		PaymentID:      payment.ID,
		BuyerEmail:     order.BuyerEmail,
		ExpectedAmount: payment.ExpectedAmount,
		ReceivedAmount: c.ReceivedAmount.String(),
		TxHash:         c.TxHash,
		Sender:         c.Sender,
		BlockNumber:    c.BlockNumber,
		BlockTimestamp: c.BlockTime.UTC(),
		ConfirmedAt:    c.ConfirmedAt.UTC(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return &db.OutboxEvent{
		EventID:   evt.EventID,
		EventType: events.TypePaymentConfirmed,
		Payload:   payload,
		Status:    db.OutboxPending,
		NextRetry: c.ConfirmedAt,
	}, nil
}
