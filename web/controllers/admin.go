package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func (h *Handler) OpenPayments(c *gin.Context) {
	payments, err := h.Store.OpenPayments(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(payments), "payments": payments})
}

func (h *Handler) Sweep(c *gin.Context) {
	n, err := h.Sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

// Health reports database reachability and host load. It answers 503 when
// the database is down.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	body := gin.H{"status": "ok", "database": "ok"}
	status := http.StatusOK

	if err := h.Store.Ping(ctx); err != nil {
		h.Logger.Warn("health check: database unreachable", "err", err)
		body["status"] = "degraded"
		body["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if usage, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(usage) > 0 {
		body["cpu_percent"] = usage[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		body["mem_percent"] = vm.UsedPercent
	}

	c.JSON(status, body)
}
