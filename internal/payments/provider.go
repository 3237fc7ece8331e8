// Package payments wraps external payment providers behind a normalised
// contract and holds the money arithmetic used when reconciling them.
package payments

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised provider order states.
type Status string

const (
	// StatusCreated indicates the buyer has not approved the order yet.
	StatusCreated Status = "CREATED"
	// StatusApproved indicates the buyer approved and the order awaits capture.
	StatusApproved Status = "APPROVED"
	// StatusCompleted indicates the funds were captured.
	StatusCompleted Status = "COMPLETED"
	// StatusVoided indicates the order can no longer be captured.
	StatusVoided Status = "VOIDED"
)

// CreateOrderRequest captures what a provider needs to open a checkout.
type CreateOrderRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	ReturnURL string
	CancelURL string
}

// ProviderOrder is the provider-side view of a checkout.
type ProviderOrder struct {
	ID          string
	Status      Status
	ApprovalURL string
	Amount      decimal.Decimal
	Currency    string
}

// Capture is the outcome of capturing a provider order.
type Capture struct {
	OrderID  string
	Status   Status
	Amount   decimal.Decimal
	Currency string
}

// Provider defines the contract for payment provider adapters.
type Provider interface {
	Name() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (ProviderOrder, error)
	CaptureOrder(ctx context.Context, providerOrderID string) (Capture, error)
	GetOrder(ctx context.Context, providerOrderID string) (ProviderOrder, error)
	// VerifyWebhook reports whether body was signed by the provider. Adapters
	// without a configured webhook id report true.
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (bool, error)
}
