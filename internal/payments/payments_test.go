package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToSettlementRoundsToCents(t *testing.T) {
	c := Conversion{ExchangeRate: dec("24.7"), MinAmount: dec("0.01"), Currency: "USD"}

	amount := c.ToSettlement(dec("1000"))
	assert.Equal(t, "40.49", amount.StringFixed(2))
	assert.False(t, c.BelowMinimum(amount))

	small := c.ToSettlement(dec("0.10"))
	assert.True(t, small.IsZero())
	assert.True(t, c.BelowMinimum(small))
}

func TestWithinTolerance(t *testing.T) {
	c := Conversion{}
	assert.True(t, c.WithinTolerance(dec("40.49"), dec("40.50")))
	assert.True(t, c.WithinTolerance(dec("40.49"), dec("40.47")))
	assert.False(t, c.WithinTolerance(dec("40.49"), dec("40.52")))
}

type fakePayPal struct {
	order      *paypal.Order
	capture    *paypal.CaptureOrderResponse
	verify     *paypal.VerifyWebhookResponse
	err        error
	lastIntent string
	lastUnits  []paypal.PurchaseUnitRequest
	lastApp    *paypal.ApplicationContext
	lastHeader http.Header
}

func (f *fakePayPal) CreateOrder(_ context.Context, intent string, units []paypal.PurchaseUnitRequest, _ *paypal.CreateOrderPayer, app *paypal.ApplicationContext) (*paypal.Order, error) {
	f.lastIntent = intent
	f.lastUnits = units
	f.lastApp = app
	return f.order, f.err
}

func (f *fakePayPal) CaptureOrder(_ context.Context, _ string, _ paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error) {
	return f.capture, f.err
}

func (f *fakePayPal) GetOrder(_ context.Context, _ string) (*paypal.Order, error) {
	return f.order, f.err
}

func (f *fakePayPal) VerifyWebhookSignature(_ context.Context, req *http.Request, _ string) (*paypal.VerifyWebhookResponse, error) {
	f.lastHeader = req.Header
	return f.verify, f.err
}

func TestPayPalCreateOrder(t *testing.T) {
	api := &fakePayPal{order: &paypal.Order{
		ID:     "PP-1",
		Status: "CREATED",
		Links: []paypal.Link{
			{Rel: "self", Href: "https://api.example/self"},
			{Rel: "approve", Href: "https://paypal.example/approve"},
		},
	}}
	p, err := NewPayPalProvider(PayPalConfig{api: api})
	require.NoError(t, err)

	order, err := p.CreateOrder(context.Background(), CreateOrderRequest{
		Reference: "RF-ABCDEF01",
		Amount:    dec("40.49"),
		Currency:  "USD",
		ReturnURL: "https://shop.example/ok",
		CancelURL: "https://shop.example/cancel",
	})
	require.NoError(t, err)

	assert.Equal(t, "PP-1", order.ID)
	assert.Equal(t, "https://paypal.example/approve", order.ApprovalURL)
	assert.Equal(t, paypal.OrderIntentCapture, api.lastIntent)
	require.Len(t, api.lastUnits, 1)
	assert.Equal(t, "40.49", api.lastUnits[0].Amount.Value)
	assert.Equal(t, "https://shop.example/ok", api.lastApp.ReturnURL)
}

func TestPayPalCaptureSumsCaptures(t *testing.T) {
	api := &fakePayPal{capture: &paypal.CaptureOrderResponse{
		ID:     "PP-1",
		Status: "COMPLETED",
		PurchaseUnits: []paypal.CapturedPurchaseUnit{{
			Payments: &paypal.CapturedPayments{
				Captures: []paypal.CaptureAmount{
					{Amount: &paypal.PurchaseUnitAmount{Currency: "USD", Value: "40.49"}},
				},
			},
		}},
	}}
	p, err := NewPayPalProvider(PayPalConfig{api: api})
	require.NoError(t, err)

	capture, err := p.CaptureOrder(context.Background(), "PP-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, capture.Status)
	assert.True(t, capture.Amount.Equal(dec("40.49")))
	assert.Equal(t, "USD", capture.Currency)
}

func TestPayPalCaptureError(t *testing.T) {
	p, err := NewPayPalProvider(PayPalConfig{api: &fakePayPal{err: errors.New("boom")}})
	require.NoError(t, err)

	_, err = p.CaptureOrder(context.Background(), "PP-1")
	assert.Error(t, err)
}

func TestPayPalVerifyWebhook(t *testing.T) {
	api := &fakePayPal{verify: &paypal.VerifyWebhookResponse{VerificationStatus: "SUCCESS"}}

	unverified, err := NewPayPalProvider(PayPalConfig{api: api})
	require.NoError(t, err)
	ok, err := unverified.VerifyWebhook(context.Background(), http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, api.lastHeader)

	verified, err := NewPayPalProvider(PayPalConfig{api: api, WebhookID: "WH-1"})
	require.NoError(t, err)
	headers := signedHeaders()
	ok, err = verified.VerifyWebhook(context.Background(), headers, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", api.lastHeader.Get("Paypal-Transmission-Id"))

	api.verify = &paypal.VerifyWebhookResponse{VerificationStatus: "FAILURE"}
	ok, err = verified.VerifyWebhook(context.Background(), headers, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func signedHeaders() http.Header {
	h := http.Header{}
	h.Set("Paypal-Auth-Algo", "SHA256withRSA")
	h.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	h.Set("Paypal-Transmission-Id", "abc")
	h.Set("Paypal-Transmission-Sig", "sig")
	h.Set("Paypal-Transmission-Time", "2024-03-01T12:00:00Z")
	return h
}

func TestPayPalVerifyWebhookFailsClosed(t *testing.T) {
	api := &fakePayPal{err: errors.New("400 VALIDATION_ERROR")}

	strict, err := NewPayPalProvider(PayPalConfig{api: api, RequireSignature: true})
	require.NoError(t, err)
	ok, err := strict.VerifyWebhook(context.Background(), signedHeaders(), []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)

	verified, err := NewPayPalProvider(PayPalConfig{api: api, WebhookID: "WH-1"})
	require.NoError(t, err)
	ok, err = verified.VerifyWebhook(context.Background(), http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, api.lastHeader)
}

func TestNewPayPalProviderRequiresCredentials(t *testing.T) {
	_, err := NewPayPalProvider(PayPalConfig{})
	assert.Error(t, err)
}
