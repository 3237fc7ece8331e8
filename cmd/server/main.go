package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"raffle-service/config"
	"raffle-service/internal/api"
	"raffle-service/internal/broker"
	"raffle-service/internal/payments"
	"raffle-service/internal/redisclient"
	"raffle-service/internal/service"
	"raffle-service/internal/store"
	"raffle-service/internal/util"
	"raffle-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting raffle service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer("raffle-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	eventsProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRaffleEvents)
	defer eventsProducer.Close()
	retryProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhookRetry)
	defer retryProducer.Close()
	logger.Info("Kafka producers initialized",
		zap.String("events_topic", eventsProducer.Topic()),
		zap.String("retry_topic", retryProducer.Topic()))

	eventPublisher := broker.NewEventPublisher(eventsProducer, retryProducer)

	var provider payments.Provider
	if cfg.PayPal.Enabled() {
		pp, err := payments.NewPayPalProvider(payments.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Mode:         cfg.PayPal.Mode,
			WebhookID:    cfg.PayPal.WebhookID,
			Timeout:      cfg.PayPal.Timeout,
			// production deliveries are never accepted unsigned
			RequireSignature: cfg.IsProduction(),
		})
		if err != nil {
			logger.Fatal("Failed to initialize PayPal client", zap.Error(err))
		}
		provider = pp
		logger.Info("PayPal provider enabled", zap.String("mode", cfg.PayPal.Mode))
	} else {
		logger.Warn("PayPal credentials not set, provider payments disabled")
	}

	orderService := service.NewOrderService(db, redisClient, eventPublisher, service.OrderOptions{TTL: cfg.Business.OrderTTL})
	paymentService := service.NewPaymentService(db, orderService, provider, eventPublisher, service.PaymentConfig{
		Conversion: payments.Conversion{
			ExchangeRate: cfg.PayPal.ExchangeRate,
			MinAmount:    cfg.PayPal.MinAmount,
			Currency:     cfg.PayPal.Currency,
		},
		RequireHTTPS: cfg.IsProduction(),
		ReturnURL:    strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/payment/success",
		CancelURL:    strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/payment/cancel",
		RetryBackoff: cfg.Kafka.WebhookBackoff,
	})
	services := api.Services{
		Raffles:  service.NewRaffleService(db, redisClient, nil),
		Orders:   orderService,
		Tickets:  service.NewTicketService(db, redisClient, nil),
		Payments: paymentService,
		Draws:    service.NewDrawService(db, eventPublisher, service.CryptoSeed, nil),
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	retryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhookRetry, cfg.Kafka.ConsumerGroup)
	webhookWorker := worker.NewWebhookWorker(retryConsumer, paymentService, eventPublisher, cfg.Kafka.WebhookMaxAttempts)
	go func() {
		if err := webhookWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Webhook worker error", zap.Error(err))
		}
	}()

	expiryWorker := worker.NewExpiryWorker(orderService, redisClient, cfg.Business.ExpirySweepInterval, cfg.Business.ExpiryBatchSize)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Expiry worker error", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, map[string]api.Pinger{
		"database": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := webhookWorker.Stop(); err != nil {
		logger.Warn("Error stopping webhook worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
