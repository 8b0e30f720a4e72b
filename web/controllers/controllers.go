// Package controllers holds the gin handlers of the payment service.
package controllers

import (
	"context"
	"log/slog"

	"go-settlement/payment/db"
	"go-settlement/payment/errcode"
	"go-settlement/payment/order"
	"go-settlement/payment/verify"

	"github.com/gin-gonic/gin"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, email string, items []order.Item) (*order.Created, error)
}

type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, orderID, txHash string) (*verify.Result, error)
}

// OrderReader is the read side of the order store.
type OrderReader interface {
	Order(ctx context.Context, orderID string) (*db.Order, error)
	OrderLines(ctx context.Context, orderID string) ([]db.OrderLine, error)
	PaymentByOrder(ctx context.Context, orderID string) (*db.Payment, error)
	OpenPayments(ctx context.Context) ([]db.Payment, error)
	Ping(ctx context.Context) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Handler struct {
	Orders        OrderCreator
	Verifier      PaymentVerifier
	Store         OrderReader
	Sweeper       Sweeper
	TokenContract string
	TokenDecimals int32
	ChainID       uint64
	Logger        *slog.Logger
}

// fail writes err as {"error", "kind"} with the status of its kind. Errors
// without a kind are internal and their text is not exposed.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := errcode.KindOf(err)
	if kind == "" || kind == errcode.StorageFailure {
		h.Logger.Error("request failed", "path", c.FullPath(), "err", err)
	}
	body := gin.H{"error": errcode.Message(err)}
	if kind != "" {
		body["kind"] = kind
	}
	c.JSON(kind.HTTPStatus(), body)
}
