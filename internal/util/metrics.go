package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_orders_created_total",
		Help: "Total number of raffle orders created",
	}, []string{"mode"})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_orders_paid_total",
		Help: "Total number of orders marked paid",
	}, []string{"method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_orders_failed_total",
		Help: "Total number of rejected order operations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_orders_cancelled_total",
		Help: "Total number of released orders",
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_orders_expired_total",
		Help: "Total number of pending orders expired",
	})

	OrdersDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_orders_deleted_total",
		Help: "Total number of deleted orders",
	})

	TicketConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_ticket_conflicts_total",
		Help: "Total number of ticket claims rejected",
	}, []string{"reason"})

	TicketCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_ticket_cache_lookups_total",
		Help: "Occupied ticket cache lookups by result",
	}, []string{"result"})

	RaffleLockLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "raffle_lock_latency_seconds",
		Help:    "Time spent inside the per-raffle critical section",
		Buckets: prometheus.DefBuckets,
	})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	}, []string{"provider", "operation"})

	PaymentSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	}, []string{"provider"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"provider", "reason"})

	PaymentProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Webhook events by outcome",
	}, []string{"outcome"})

	DrawsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_draws_total",
		Help: "Total number of winner draws",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
