package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"raffle-service/internal/service"
	"raffle-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, checks map[string]Pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := store.NewMemoryStore()
	orders := service.NewOrderService(repo, nil, nil, service.OrderOptions{TTL: time.Hour})
	svc := Services{
		Raffles:  service.NewRaffleService(repo, nil, nil),
		Orders:   orders,
		Tickets:  service.NewTicketService(repo, nil, nil),
		Payments: service.NewPaymentService(repo, orders, nil, nil, service.PaymentConfig{}),
		Draws:    service.NewDrawService(repo, nil, func() (int64, error) { return 7, nil }, nil),
	}

	router := gin.New()
	NewHandler(svc, checks).SetupRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func createActiveRaffle(t *testing.T, router *gin.Engine, title string, count int) int64 {
	t.Helper()
	w, body := doJSON(t, router, http.MethodPost, "/api/v1/raffles", gin.H{
		"title":        title,
		"ticket_count": count,
		"price":        "100",
		"status":       "active",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return int64(body["id"].(float64))
}

func TestOrderFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t, nil)
	raffleID := createActiveRaffle(t, router, "Flow", 10)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"raffle_id": raffleID,
		"user_id":   1,
		"tickets":   []int{3, 4},
	}, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := body["order"].(map[string]interface{})
	orderID := int64(order["id"].(float64))
	assert.Equal(t, "PENDING", order["status"])
	assert.Equal(t, "200", order["total"])

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"raffle_id": raffleID,
		"user_id":   1,
		"tickets":   []int{3, 4},
	}, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["replayed"])

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"raffle_id": raffleID,
		"user_id":   2,
		"tickets":   []int{4},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ticket_unavailable", body["error"])

	w, body = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/raffles/%d/occupied-tickets", raffleID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{3.0, 4.0}, body["tickets"])

	w, body = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/mark-paid", orderID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["already_processed"])

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/payment/transfer/confirm", gin.H{"order_id": orderID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["already_processed"])

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/winners/draw", gin.H{"raffle_id": raffleID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, []interface{}{3.0, 4.0}, body["ticket"])
	drawnOrder, ok := body["order"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	assert.Equal(t, float64(orderID), drawnOrder["id"])
	assert.Equal(t, "PAID", drawnOrder["status"])
	drawn, ok := body["winner"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, body["ticket"], drawn["ticket"])

	w, body = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/raffles/%d/winners", raffleID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["winners"], 1)

	w, body = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/raffles/%d", raffleID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "raffle_has_paid_orders", body["error"])
}

func TestReleaseAndErrors(t *testing.T) {
	router := newTestRouter(t, nil)
	raffleID := createActiveRaffle(t, router, "Release", 5)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{"raffle_id": raffleID, "user_id": 1, "tickets": []int{9}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ticket_out_of_range", body["error"])

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{"raffle_id": raffleID, "user_id": 1, "pack_size": 2})
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := int64(body["order"].(map[string]interface{})["id"].(float64))

	w, body = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/release", orderID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CANCELLED", body["status"])

	w, body = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/raffles/%d/available-tickets", raffleID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5.0, body["count"])

	w, body = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/mark-paid", orderID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "order_terminal", body["error"])

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "order_not_found", body["error"])

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/payment/paypal/create", gin.H{
		"order_id":   orderID,
		"return_url": "https://a.example",
		"cancel_url": "https://b.example",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "provider_not_configured", body["error"])
}

func TestWebhookAlwaysAcknowledged(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/paypal/webhook", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var res service.WebhookResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Received)
	assert.True(t, res.Ignored)
}

func TestReadiness(t *testing.T) {
	router := newTestRouter(t, map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
	})
	w, _ := doJSON(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	router = newTestRouter(t, map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	w, body := doJSON(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", body["status"])

	w, _ = doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
