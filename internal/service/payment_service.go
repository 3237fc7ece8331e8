package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"
	"raffle-service/internal/payments"
	"raffle-service/internal/store"
	"raffle-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Webhook event types acted upon; every other type is acknowledged and ignored
const (
	WebhookCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	WebhookOrderCompleted   = "CHECKOUT.ORDER.COMPLETED"
)

// Payment sources accepted by ConfirmPayment
const (
	SourceTransfer = "transfer"
	SourcePayPal   = "paypal"
)

// PaymentConfig configures the payment reconciler
type PaymentConfig struct {
	Conversion payments.Conversion
	// RequireHTTPS rejects non-HTTPS return and cancel URLs
	RequireHTTPS bool
	// ReturnURL and CancelURL are used when a checkout request omits them
	ReturnURL string
	CancelURL string
	// RetryBackoff is multiplied by the attempt number to schedule a webhook retry
	RetryBackoff time.Duration
}

// PaymentService reconciles provider and manual payments against orders.
// Every path ends in OrderService.MarkPaid, whose compare-and-set makes
// repeated confirmations harmless.
type PaymentService struct {
	repo      store.Repository
	orders    *OrderService
	provider  payments.Provider
	publisher EventPublisher
	cfg       PaymentConfig
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service. provider is nil when no
// payment provider is configured.
func NewPaymentService(repo store.Repository, orders *OrderService, provider payments.Provider, publisher EventPublisher, cfg PaymentConfig) *PaymentService {
	if cfg.Conversion.Tolerance.IsZero() {
		cfg.Conversion.Tolerance = payments.DefaultTolerance
	}
	return &PaymentService{
		repo:      repo,
		orders:    orders,
		provider:  provider,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// PaymentResult is the outcome of a confirmation
type PaymentResult struct {
	Order            *models.Order `json:"order"`
	AlreadyProcessed bool          `json:"already_processed"`
}

// ConfirmPaymentRequest represents a manual or provider payment confirmation
type ConfirmPaymentRequest struct {
	OrderID         int64  `json:"order_id" binding:"required"`
	Source          string `json:"source"`
	Evidence        string `json:"evidence,omitempty"`
	ProviderOrderID string `json:"provider_order_id,omitempty"`
}

// ConfirmPayment routes a confirmation to the transfer or provider path
func (s *PaymentService) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment", util.OrderAttr(req.OrderID))
	defer span.End()

	switch req.Source {
	case SourceTransfer, "":
		util.PaymentAttemptsTotal.WithLabelValues(SourceTransfer, "confirm").Inc()
		notes := ""
		if req.Evidence != "" {
			notes = "transfer: " + req.Evidence
		}
		order, already, err := s.orders.MarkPaid(ctx, req.OrderID, MarkPaidOptions{
			PaymentMethod: models.PaymentMethodTransfer,
			Notes:         notes,
		})
		if err != nil {
			util.PaymentFailedTotal.WithLabelValues(SourceTransfer, apperr.CodeOf(err)).Inc()
			return nil, err
		}
		if !already {
			util.PaymentSuccessTotal.WithLabelValues(SourceTransfer).Inc()
		}
		return &PaymentResult{Order: order, AlreadyProcessed: already}, nil
	case SourcePayPal:
		return s.CaptureProviderOrder(ctx, req.OrderID, req.ProviderOrderID)
	}
	return nil, apperr.ErrInvalidInput.With("PaymentService.ConfirmPayment", "unknown payment source %q", req.Source)
}

// ProviderCheckout is returned when a provider order is opened
type ProviderCheckout struct {
	OrderID          int64           `json:"order_id"`
	ProviderOrderID  string          `json:"provider_order_id,omitempty"`
	ApprovalURL      string          `json:"approval_url,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	AlreadyProcessed bool            `json:"already_processed"`
}

// CreateProviderOrder opens a provider checkout for a PENDING order and
// stores the provider order id on it
func (s *PaymentService) CreateProviderOrder(ctx context.Context, orderID int64, returnURL, cancelURL string) (*ProviderCheckout, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateProviderOrder", util.OrderAttr(orderID))
	defer span.End()

	const op = "PaymentService.CreateProviderOrder"
	if s.provider == nil {
		return nil, apperr.ErrProviderNotConfigured.With(op, "")
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPaid {
		return &ProviderCheckout{OrderID: order.ID, AlreadyProcessed: true, Currency: s.cfg.Conversion.Currency}, nil
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.ErrOrderNotPending.With(op, "order %d is %s", orderID, order.Status)
	}
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	if cancelURL == "" {
		cancelURL = s.cfg.CancelURL
	}
	if err := s.checkRedirectURL(op, returnURL); err != nil {
		return nil, err
	}
	if err := s.checkRedirectURL(op, cancelURL); err != nil {
		return nil, err
	}

	amount := s.cfg.Conversion.ToSettlement(order.Total)
	if s.cfg.Conversion.BelowMinimum(amount) {
		return nil, apperr.ErrAmountBelowMinimum.With(op, "amount %s %s is below the minimum %s",
			amount.StringFixed(2), s.cfg.Conversion.Currency, s.cfg.Conversion.MinAmount.StringFixed(2))
	}

	name := s.provider.Name()
	util.PaymentAttemptsTotal.WithLabelValues(name, "create").Inc()
	start := time.Now()
	po, err := s.provider.CreateOrder(ctx, payments.CreateOrderRequest{
		Reference: order.Folio,
		Amount:    amount,
		Currency:  s.cfg.Conversion.Currency,
		ReturnURL: returnURL,
		CancelURL: cancelURL,
	})
	util.PaymentProcessingLatency.WithLabelValues("create").Observe(time.Since(start).Seconds())
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(name, "create").Inc()
		s.logger.Error("Provider order creation failed", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, apperr.ErrProviderRequestFailed.Wrap(op, err)
	}

	if order.ProviderOrderID != nil && *order.ProviderOrderID != po.ID {
		s.logger.Info("Replacing provider order id",
			zap.Int64("order_id", orderID),
			zap.String("previous", *order.ProviderOrderID),
			zap.String("provider_order_id", po.ID))
	}
	if err := s.repo.SetProviderOrderID(ctx, orderID, po.ID); err != nil {
		return nil, fmt.Errorf("failed to store provider order id: %w", err)
	}

	s.logger.Info("Provider order created",
		zap.Int64("order_id", orderID),
		zap.String("provider_order_id", po.ID),
		zap.String("amount", amount.StringFixed(2)))

	return &ProviderCheckout{
		OrderID:         orderID,
		ProviderOrderID: po.ID,
		ApprovalURL:     po.ApprovalURL,
		Amount:          amount,
		Currency:        s.cfg.Conversion.Currency,
	}, nil
}

// CaptureProviderOrder captures the provider order of an order and marks it
// PAID. A PAID order is reported as already processed without contacting
// the provider.
func (s *PaymentService) CaptureProviderOrder(ctx context.Context, orderID int64, providerOrderID string) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CaptureProviderOrder", util.OrderAttr(orderID))
	defer span.End()

	const op = "PaymentService.CaptureProviderOrder"
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPaid {
		return &PaymentResult{Order: order, AlreadyProcessed: true}, nil
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.ErrOrderNotPending.With(op, "order %d is %s", orderID, order.Status)
	}
	if s.provider == nil {
		return nil, apperr.ErrProviderNotConfigured.With(op, "")
	}

	stored := ""
	if order.ProviderOrderID != nil {
		stored = *order.ProviderOrderID
	}
	switch {
	case providerOrderID == "" && stored == "":
		return nil, apperr.ErrInvalidInput.With(op, "order %d has no provider order", orderID)
	case providerOrderID == "":
		providerOrderID = stored
	case stored != "" && providerOrderID != stored:
		return nil, apperr.ErrInvalidInput.With(op, "provider order %s does not belong to order %d", providerOrderID, orderID)
	}

	name := s.provider.Name()
	captured, checkAmount, err := s.capture(ctx, op, providerOrderID)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(name, "capture").Inc()
		// A concurrent capture or webhook may already have settled the order.
		if current, gerr := s.repo.GetOrder(ctx, orderID); gerr == nil && current.Status == models.OrderStatusPaid {
			return &PaymentResult{Order: current, AlreadyProcessed: true}, nil
		}
		po, gerr := s.provider.GetOrder(ctx, providerOrderID)
		if gerr != nil || po.Status != payments.StatusCompleted {
			s.logger.Error("Provider capture failed",
				zap.Int64("order_id", orderID),
				zap.String("provider_order_id", providerOrderID),
				zap.Error(err))
			return nil, err
		}
		s.logger.Info("Capture rejected but provider order is completed",
			zap.Int64("order_id", orderID),
			zap.String("provider_order_id", providerOrderID))
		captured = payments.Capture{OrderID: po.ID, Status: po.Status, Amount: po.Amount, Currency: po.Currency}
		checkAmount = false
	}

	expected := s.cfg.Conversion.ToSettlement(order.Total)
	if checkAmount && !s.cfg.Conversion.WithinTolerance(expected, captured.Amount) {
		s.logger.Warn("Captured amount differs from order total",
			zap.Int64("order_id", orderID),
			zap.String("expected", expected.StringFixed(2)),
			zap.String("captured", captured.Amount.StringFixed(2)),
			zap.String("currency", captured.Currency))
	}

	if stored == "" {
		if err := s.repo.SetProviderOrderID(ctx, orderID, providerOrderID); err != nil {
			s.logger.Error("Failed to store provider order id", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}

	paid, already, err := s.orders.MarkPaid(ctx, orderID, MarkPaidOptions{
		PaymentMethod: models.PaymentMethodPayPal,
		Notes:         fmt.Sprintf("%s capture %s", name, providerOrderID),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrOrderTerminal) {
			s.logger.Error("Funds captured for an order that is no longer pending",
				zap.Int64("order_id", orderID),
				zap.String("provider_order_id", providerOrderID),
				zap.String("amount", captured.Amount.StringFixed(2)))
		}
		return nil, err
	}
	if !already {
		util.PaymentSuccessTotal.WithLabelValues(name).Inc()
	}
	return &PaymentResult{Order: paid, AlreadyProcessed: already}, nil
}

// capture calls the provider once. checkAmount reports whether the returned
// amount comes from the capture itself.
func (s *PaymentService) capture(ctx context.Context, op, providerOrderID string) (payments.Capture, bool, error) {
	util.PaymentAttemptsTotal.WithLabelValues(s.provider.Name(), "capture").Inc()
	start := time.Now()
	c, err := s.provider.CaptureOrder(ctx, providerOrderID)
	util.PaymentProcessingLatency.WithLabelValues("capture").Observe(time.Since(start).Seconds())
	if err != nil {
		return payments.Capture{}, false, apperr.ErrProviderRequestFailed.Wrap(op, err)
	}
	if c.Status != payments.StatusCompleted {
		return payments.Capture{}, false, apperr.ErrProviderRequestFailed.With(op, "capture of %s returned status %s", providerOrderID, c.Status)
	}
	return c, true, nil
}

// WebhookEvent is the envelope of a provider webhook delivery
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type webhookResource struct {
	ID                string `json:"id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// WebhookResult is always reported to the provider with a 200
type WebhookResult struct {
	Received         bool   `json:"received"`
	AlreadyProcessed bool   `json:"alreadyProcessed,omitempty"`
	Ignored          bool   `json:"ignored,omitempty"`
	Reason           string `json:"reason,omitempty"`
	OrderID          int64  `json:"orderId,omitempty"`
}

// HandleWebhook verifies and processes a provider webhook. Internal failures
// are logged and queued for retry; they never surface to the provider.
func (s *PaymentService) HandleWebhook(ctx context.Context, headers http.Header, body []byte) *WebhookResult {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	result, err := s.processWebhook(ctx, headers, body)
	if err != nil {
		s.logger.Error("Webhook processing failed", zap.Error(err))
		s.queueRetry(ctx, headers, body, 1)
		return &WebhookResult{Received: true, Reason: "processing_failed"}
	}
	return result
}

// processWebhook checks the signature, then applies the body. Nothing reaches
// applyWebhook without a successful verification.
func (s *PaymentService) processWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookResult, error) {
	if s.provider == nil {
		util.WebhookEventsTotal.WithLabelValues("unverified").Inc()
		s.logger.Warn("Webhook received without a configured provider")
		return &WebhookResult{Received: true, Ignored: true, Reason: "provider_not_configured"}, nil
	}

	ok, err := s.provider.VerifyWebhook(ctx, headers, body)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to verify webhook: %w", err)
	}
	if !ok {
		s.logger.Warn("Webhook signature rejected")
		util.WebhookEventsTotal.WithLabelValues("invalid_signature").Inc()
		return &WebhookResult{Received: true, Ignored: true, Reason: "invalid_signature"}, nil
	}
	return s.applyWebhook(ctx, body)
}

// applyWebhook applies a verified webhook body. The provider is asked for
// the order state before anything is marked PAID. A returned error means the
// delivery should be retried.
func (s *PaymentService) applyWebhook(ctx context.Context, body []byte) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.applyWebhook")
	defer span.End()

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		util.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		s.logger.Warn("Malformed webhook body", zap.Error(err))
		return &WebhookResult{Received: true, Ignored: true, Reason: "malformed"}, nil
	}

	if event.EventType != WebhookCaptureCompleted && event.EventType != WebhookOrderCompleted {
		util.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return &WebhookResult{Received: true, Ignored: true, Reason: "unhandled_event_type"}, nil
	}

	if event.ID != "" {
		processed, err := s.repo.IsEventProcessed(ctx, event.ID)
		if err != nil {
			util.WebhookEventsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
			s.logger.Info("Webhook event already processed", zap.String("event_id", event.ID))
			return &WebhookResult{Received: true, AlreadyProcessed: true}, nil
		}
	}

	var res webhookResource
	if err := json.Unmarshal(event.Resource, &res); err != nil {
		util.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		return &WebhookResult{Received: true, Ignored: true, Reason: "malformed"}, nil
	}
	providerOrderID := res.ID
	if event.EventType == WebhookCaptureCompleted {
		providerOrderID = res.SupplementaryData.RelatedIDs.OrderID
	}
	if providerOrderID == "" {
		util.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		return &WebhookResult{Received: true, Ignored: true, Reason: "missing_order_reference"}, nil
	}

	order, err := s.repo.GetOrderByProviderID(ctx, providerOrderID)
	if errors.Is(err, apperr.ErrOrderNotFound) {
		util.WebhookEventsTotal.WithLabelValues("unknown_order").Inc()
		s.logger.Warn("Webhook for unknown provider order",
			zap.String("event_id", event.ID),
			zap.String("provider_order_id", providerOrderID))
		return &WebhookResult{Received: true, Ignored: true, Reason: "order_not_found"}, nil
	}
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to look up order: %w", err)
	}

	result := &WebhookResult{Received: true, OrderID: order.ID}
	if order.Status == models.OrderStatusPaid {
		result.AlreadyProcessed = true
	} else {
		po, err := s.provider.GetOrder(ctx, providerOrderID)
		if err != nil {
			util.WebhookEventsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to confirm provider order: %w", err)
		}
		if po.Status != payments.StatusCompleted {
			util.WebhookEventsTotal.WithLabelValues("not_completed").Inc()
			s.logger.Warn("Webhook for a provider order that is not completed",
				zap.String("event_id", event.ID),
				zap.Int64("order_id", order.ID),
				zap.String("provider_status", string(po.Status)))
			return &WebhookResult{Received: true, Ignored: true, Reason: "payment_not_completed", OrderID: order.ID}, nil
		}

		_, already, err := s.orders.MarkPaid(ctx, order.ID, MarkPaidOptions{
			PaymentMethod: models.PaymentMethodPayPal,
			Notes:         fmt.Sprintf("webhook %s %s", event.EventType, event.ID),
		})
		switch {
		case errors.Is(err, apperr.ErrOrderTerminal):
			util.WebhookEventsTotal.WithLabelValues("terminal_order").Inc()
			s.logger.Error("Payment webhook for an order that is no longer pending",
				zap.Int64("order_id", order.ID),
				zap.String("provider_order_id", providerOrderID),
				zap.String("status", string(order.Status)))
			result.Ignored = true
			result.Reason = "order_not_pending"
		case err != nil:
			util.WebhookEventsTotal.WithLabelValues("error").Inc()
			return nil, err
		default:
			result.AlreadyProcessed = already
		}
	}

	if event.ID != "" {
		if err := s.repo.MarkEventProcessed(ctx, event.ID, event.EventType); err != nil {
			s.logger.Error("Failed to mark event processed", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	switch {
	case result.Ignored:
	case result.AlreadyProcessed:
		util.WebhookEventsTotal.WithLabelValues("already_paid").Inc()
	default:
		util.WebhookEventsTotal.WithLabelValues("paid").Inc()
	}
	return result, nil
}

// RetryWebhook re-verifies and re-processes a queued webhook delivery,
// requeueing it while attempts remain
func (s *PaymentService) RetryWebhook(ctx context.Context, event *models.WebhookRetryEvent, maxAttempts int) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.RetryWebhook")
	defer span.End()

	_, err := s.processWebhook(ctx, http.Header(event.Headers), event.Payload)
	if err == nil {
		return nil
	}
	if event.Attempt >= maxAttempts {
		s.logger.Error("Giving up on webhook delivery",
			zap.String("event_id", event.EventID),
			zap.Int("attempt", event.Attempt),
			zap.Error(err))
		return nil
	}
	s.logger.Warn("Webhook retry failed", zap.Int("attempt", event.Attempt), zap.Error(err))
	s.queueRetry(ctx, http.Header(event.Headers), event.Payload, event.Attempt+1)
	return nil
}

func (s *PaymentService) queueRetry(ctx context.Context, headers http.Header, body []byte, attempt int) {
	if s.publisher == nil {
		return
	}
	provider := ""
	if s.provider != nil {
		provider = s.provider.Name()
	}
	now := time.Now()
	event := &models.WebhookRetryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeWebhookRetry,
			Timestamp: now,
		},
		Provider:  provider,
		Headers:   headers.Clone(),
		Payload:   body,
		Attempt:   attempt,
		NotBefore: now.Add(s.cfg.RetryBackoff * time.Duration(attempt)),
	}
	if err := s.publisher.PublishWebhookRetry(ctx, event); err != nil {
		s.logger.Error("Failed to queue webhook retry", zap.Error(err))
	}
}

// PaymentStatus combines the local order state with the provider's view
type PaymentStatus struct {
	OrderID         int64              `json:"order_id"`
	Folio           string             `json:"folio"`
	Status          models.OrderStatus `json:"status"`
	PaymentMethod   string             `json:"payment_method"`
	Total           decimal.Decimal    `json:"total"`
	PaidAt          *time.Time         `json:"paid_at,omitempty"`
	ProviderOrderID string             `json:"provider_order_id,omitempty"`
	ProviderStatus  payments.Status    `json:"provider_status,omitempty"`
}

// Status reports the payment state of an order
func (s *PaymentService) Status(ctx context.Context, orderID int64) (*PaymentStatus, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Status", util.OrderAttr(orderID))
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	st := &PaymentStatus{
		OrderID:       order.ID,
		Folio:         order.Folio,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		Total:         order.Total,
		PaidAt:        order.PaidAt,
	}
	if order.ProviderOrderID == nil {
		return st, nil
	}
	st.ProviderOrderID = *order.ProviderOrderID

	if s.provider != nil {
		start := time.Now()
		po, err := s.provider.GetOrder(ctx, st.ProviderOrderID)
		util.PaymentProcessingLatency.WithLabelValues("get").Observe(time.Since(start).Seconds())
		if err != nil {
			s.logger.Warn("Provider status lookup failed",
				zap.Int64("order_id", orderID),
				zap.String("provider_order_id", st.ProviderOrderID),
				zap.Error(err))
		} else {
			st.ProviderStatus = po.Status
		}
	}
	return st, nil
}

func (s *PaymentService) checkRedirectURL(op, raw string) error {
	if raw == "" {
		return apperr.ErrInvalidInput.With(op, "return and cancel urls are required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apperr.ErrInvalidReturnURL.With(op, "malformed url %q", raw)
	}
	if s.cfg.RequireHTTPS && u.Scheme != "https" {
		return apperr.ErrInvalidReturnURL.With(op, "url %q must use https", raw)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return apperr.ErrInvalidReturnURL.With(op, "unsupported url scheme %q", u.Scheme)
	}
	return nil
}
