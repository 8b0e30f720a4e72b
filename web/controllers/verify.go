package controllers

import (
	"net/http"

	"go-settlement/payment/errcode"

	"github.com/gin-gonic/gin"
)

type verifyRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	TxHash  string `json:"tx_hash" binding:"required"`
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "kind": errcode.InvalidInput})
		return
	}

	res, err := h.Verifier.VerifyPayment(c.Request.Context(), req.OrderID, req.TxHash)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"order_id":     res.OrderID,
		"tx_hash":      res.TxHash,
		"block_number": res.BlockNumber,
	})
}
