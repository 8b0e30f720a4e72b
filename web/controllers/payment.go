package controllers

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"go-settlement/payment/db"
	"go-settlement/payment/errcode"
	"go-settlement/payment/order"
	"go-settlement/payment/qrcode"
	"go-settlement/utils"

	"github.com/gin-gonic/gin"
)

const qrSize = 256

type createOrderRequest struct {
	Email string       `json:"email" binding:"required"`
	Items []order.Item `json:"items" binding:"required"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "kind": errcode.InvalidInput})
		return
	}

	created, err := h.Orders.CreateOrder(c.Request.Context(), req.Email, req.Items)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":                created.OrderID,
		"expected_amount":         strconv.FormatInt(created.ExpectedAmount, 10),
		"expected_amount_display": utils.FormatUnits(created.ExpectedAmount, h.TokenDecimals),
		"receiving_wallet":        created.ReceivingAddress,
		"token_contract":          created.TokenContract,
		"expires_at":              created.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	o, err := h.Store.Order(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	lines, err := h.Store.OrderLines(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.Store.PaymentByOrder(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}

	payment := gin.H{
		"status":                  p.Status,
		"expected_amount":         strconv.FormatInt(p.ExpectedAmount, 10),
		"expected_amount_display": utils.FormatUnits(p.ExpectedAmount, h.TokenDecimals),
		"receiving_wallet":        p.ReceivingAddress,
	}
	if p.TxHash != nil {
		payment["tx_hash"] = *p.TxHash
	}
	if p.ReceivedAmount != nil {
		if v, ok := new(big.Int).SetString(*p.ReceivedAmount, 10); ok {
			payment["received_amount_display"] = utils.FormatBigUnits(v, h.TokenDecimals)
		}
	}
	if p.BlockNumber != nil {
		payment["block_number"] = *p.BlockNumber
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":     o.ID,
		"status":       o.Status,
		"total_amount": strconv.FormatInt(o.TotalAmount, 10),
		"created_at":   o.CreatedAt.Format(time.RFC3339),
		"expires_at":   o.ExpiresAt.Format(time.RFC3339),
		"items":        lines,
		"payment":      payment,
	})
}

// OrderQRCode serves the wallet QR code of an open order's payment.
func (h *Handler) OrderQRCode(c *gin.Context) {
	p, err := h.Store.PaymentByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if p.Status != db.PaymentInitiated {
		h.fail(c, errcode.Newf(errcode.WrongState, "payment is %s, not awaiting a transfer", p.Status))
		return
	}

	png, err := qrcode.TransferPNG(h.TokenContract, p.ReceivingAddress, h.ChainID, p.ExpectedAmount, qrSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
