package web

import (
	"time"

	"go-settlement/web/controllers"
	"go-settlement/web/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter mounts the public API behind the per-IP limiter and the admin
// API behind AdminAuth.
func NewRouter(h *controllers.Handler, limiter *middleware.RateLimiter, adminSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Accept", "Origin", "Cache-Control", "X-Requested-With"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", h.Health)

	api := r.Group("/api", limiter.Middleware())
	api.POST("/orders/create", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.GET("/orders/:id/qrcode", h.OrderQRCode)
	api.POST("/payments/verify", h.VerifyPayment)

	admin := r.Group("/admin", middleware.AdminAuth(adminSecret))
	admin.GET("/payments/open", h.OpenPayments)
	admin.POST("/sweep", h.Sweep)

	return r
}
