package api

import (
	"io"
	"net/http"

	"raffle-service/internal/service"
	"raffle-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type createPayPalRequest struct {
	OrderID   int64  `json:"order_id" binding:"required"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

func (h *Handler) createPayPalOrder(c *gin.Context) {
	var req createPayPalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	checkout, err := h.payments.CreateProviderOrder(c.Request.Context(), req.OrderID, req.ReturnURL, req.CancelURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

type capturePayPalRequest struct {
	OrderID         int64  `json:"order_id" binding:"required"`
	ProviderOrderID string `json:"provider_order_id"`
}

func (h *Handler) capturePayPalOrder(c *gin.Context) {
	var req capturePayPalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.payments.CaptureProviderOrder(c.Request.Context(), req.OrderID, req.ProviderOrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// payPalWebhook always acknowledges with 200 so the provider does not
// redeliver; failures are retried through the retry topic
func (h *Handler) payPalWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		util.GetLogger().Warn("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, service.WebhookResult{Received: true, Ignored: true, Reason: "unreadable_body"})
		return
	}
	c.JSON(http.StatusOK, h.payments.HandleWebhook(c.Request.Context(), c.Request.Header, body))
}

func (h *Handler) paymentStatus(c *gin.Context) {
	id, ok := parseID(c, "orderId")
	if !ok {
		return
	}
	status, err := h.payments.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) confirmTransfer(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.Source = service.SourceTransfer
	res, err := h.payments.ConfirmPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
