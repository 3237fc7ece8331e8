package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"raffle-service/internal/service"
	"raffle-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the services exposed over HTTP
type Services struct {
	Raffles  *service.RaffleService
	Orders   *service.OrderService
	Tickets  *service.TicketService
	Payments *service.PaymentService
	Draws    *service.DrawService
}

// Handler contains HTTP handlers
type Handler struct {
	raffles  *service.RaffleService
	orders   *service.OrderService
	tickets  *service.TicketService
	payments *service.PaymentService
	draws    *service.DrawService
	checks   map[string]Pinger
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(svc Services, checks map[string]Pinger) *Handler {
	return &Handler{
		raffles:  svc.Raffles,
		orders:   svc.Orders,
		tickets:  svc.Tickets,
		payments: svc.Payments,
		draws:    svc.Draws,
		checks:   checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/raffles", h.listRaffles)
		v1.POST("/raffles", h.createRaffle)
		v1.GET("/raffles/:id", h.getRaffle)
		v1.PATCH("/raffles/:id", h.updateRaffle)
		v1.DELETE("/raffles/:id", h.deleteRaffle)
		v1.GET("/raffles/:id/occupied-tickets", h.occupiedTickets)
		v1.GET("/raffles/:id/available-tickets", h.availableTickets)
		v1.GET("/raffles/:id/winners", h.listWinners)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/mark-paid", h.markPaid)
		v1.PUT("/orders/:id/release", h.releaseOrder)
		v1.PATCH("/orders/:id", h.updateOrder)
		v1.DELETE("/orders/:id", h.deleteOrder)

		payment := v1.Group("/payment")
		payment.POST("/paypal/create", h.createPayPalOrder)
		payment.POST("/paypal/capture", h.capturePayPalOrder)
		payment.POST("/paypal/webhook", h.payPalWebhook)
		payment.GET("/paypal/status/:orderId", h.paymentStatus)
		payment.POST("/transfer/confirm", h.confirmTransfer)

		v1.POST("/winners/draw", h.drawWinner)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"details": failed,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": "invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
