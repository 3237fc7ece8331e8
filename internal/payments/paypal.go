package payments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

// PayPal modes
const (
	PayPalModeSandbox = "sandbox"
	PayPalModeLive    = "live"
)

type paypalAPI interface {
	CreateOrder(ctx context.Context, intent string, purchaseUnits []paypal.PurchaseUnitRequest, payer *paypal.CreateOrderPayer, appContext *paypal.ApplicationContext) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string, captureOrderRequest paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	VerifyWebhookSignature(ctx context.Context, httpReq *http.Request, webhookID string) (*paypal.VerifyWebhookResponse, error)
}

// PayPalConfig configures the PayPalProvider.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string
	WebhookID    string
	Timeout      time.Duration
	// RequireSignature rejects every webhook when no WebhookID is set
	RequireSignature bool

	api paypalAPI
}

// PayPalProvider implements Provider on the PayPal Orders v2 API.
type PayPalProvider struct {
	api              paypalAPI
	webhookID        string
	requireSignature bool
}

// NewPayPalProvider builds a PayPal adapter. Every provider HTTP call is
// bounded by cfg.Timeout.
func NewPayPalProvider(cfg PayPalConfig) (*PayPalProvider, error) {
	if cfg.api != nil {
		return &PayPalProvider{api: cfg.api, webhookID: cfg.WebhookID, requireSignature: cfg.RequireSignature}, nil
	}

	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}

	base := paypal.APIBaseSandBox
	if strings.EqualFold(cfg.Mode, PayPalModeLive) {
		base = paypal.APIBaseLive
	}

	client, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal: create client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.SetHTTPClient(&http.Client{Timeout: timeout})

	return &PayPalProvider{
		api:              client,
		webhookID:        strings.TrimSpace(cfg.WebhookID),
		requireSignature: cfg.RequireSignature,
	}, nil
}

// Name returns the provider key
func (p *PayPalProvider) Name() string {
	return "paypal"
}

// CreateOrder opens a PayPal checkout with intent CAPTURE.
func (p *PayPalProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (ProviderOrder, error) {
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: req.Reference,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: req.Currency,
			Value:    req.Amount.StringFixed(2),
		},
	}}
	appCtx := &paypal.ApplicationContext{
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
	}

	order, err := p.api.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appCtx)
	if err != nil {
		return ProviderOrder{}, fmt.Errorf("paypal: create order: %w", err)
	}
	if order == nil || order.ID == "" {
		return ProviderOrder{}, errors.New("paypal: create order returned no id")
	}

	return ProviderOrder{
		ID:          order.ID,
		Status:      Status(order.Status),
		ApprovalURL: approvalLink(order.Links),
		Amount:      req.Amount,
		Currency:    req.Currency,
	}, nil
}

// CaptureOrder captures an approved PayPal order.
func (p *PayPalProvider) CaptureOrder(ctx context.Context, providerOrderID string) (Capture, error) {
	resp, err := p.api.CaptureOrder(ctx, providerOrderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return Capture{}, fmt.Errorf("paypal: capture order %s: %w", providerOrderID, err)
	}
	if resp == nil {
		return Capture{}, errors.New("paypal: capture returned no body")
	}

	out := Capture{OrderID: resp.ID, Status: Status(resp.Status)}
	for _, unit := range resp.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, c := range unit.Payments.Captures {
			if c.Amount == nil {
				continue
			}
			v, err := decimal.NewFromString(c.Amount.Value)
			if err != nil {
				return Capture{}, fmt.Errorf("paypal: capture amount %q: %w", c.Amount.Value, err)
			}
			out.Amount = out.Amount.Add(v)
			out.Currency = c.Amount.Currency
		}
	}
	return out, nil
}

// GetOrder fetches the current state of a PayPal order.
func (p *PayPalProvider) GetOrder(ctx context.Context, providerOrderID string) (ProviderOrder, error) {
	order, err := p.api.GetOrder(ctx, providerOrderID)
	if err != nil {
		return ProviderOrder{}, fmt.Errorf("paypal: get order %s: %w", providerOrderID, err)
	}
	if order == nil {
		return ProviderOrder{}, errors.New("paypal: get order returned no body")
	}

	out := ProviderOrder{
		ID:          order.ID,
		Status:      Status(order.Status),
		ApprovalURL: approvalLink(order.Links),
	}
	if len(order.PurchaseUnits) > 0 && order.PurchaseUnits[0].Amount != nil {
		amount := order.PurchaseUnits[0].Amount
		if v, err := decimal.NewFromString(amount.Value); err == nil {
			out.Amount = v
		}
		out.Currency = amount.Currency
	}
	return out, nil
}

// Headers PayPal signs every webhook delivery with
var webhookSignatureHeaders = []string{
	"Paypal-Auth-Algo",
	"Paypal-Cert-Url",
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Sig",
	"Paypal-Transmission-Time",
}

// VerifyWebhook checks a webhook signature with PayPal. Without a webhook
// id deliveries are accepted unless RequireSignature is set. Deliveries
// missing a signature header are rejected without calling PayPal.
func (p *PayPalProvider) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	if p.webhookID == "" {
		return !p.requireSignature, nil
	}
	for _, h := range webhookSignatureHeaders {
		if headers.Get(h) == "" {
			return false, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", io.NopCloser(bytes.NewReader(body)))
	if err != nil {
		return false, err
	}
	req.Header = headers.Clone()

	resp, err := p.api.VerifyWebhookSignature(ctx, req, p.webhookID)
	if err != nil {
		return false, fmt.Errorf("paypal: verify webhook: %w", err)
	}
	return resp != nil && resp.VerificationStatus == "SUCCESS", nil
}

func approvalLink(links []paypal.Link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}
