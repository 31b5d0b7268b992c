package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/auth"
	"github.com/fast-fab/Seller-service/internal/broker"
	"github.com/fast-fab/Seller-service/internal/config"
	"github.com/fast-fab/Seller-service/internal/db"
	"github.com/fast-fab/Seller-service/internal/logging"
	"github.com/fast-fab/Seller-service/internal/metrics"
	mw "github.com/fast-fab/Seller-service/internal/middleware"
	"github.com/fast-fab/Seller-service/internal/notifications"
	"github.com/fast-fab/Seller-service/internal/notifications/push"
	"github.com/fast-fab/Seller-service/internal/observability"
	"github.com/fast-fab/Seller-service/internal/sellers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger level comes from config, so fall back to defaults here.
		logging.New("info", config.ServiceName).Fatal("invalid configuration", zap.Error(err))
	}

	logger := logging.New(cfg.LogLevel, config.ServiceName)
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without export", zap.Error(err))
	}

	metrics.Register()

	// Database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	// Broker: an unreachable broker at startup is fatal.
	msgBroker, err := broker.NewBroker(cfg, logger.Named("broker"))
	if err != nil {
		logger.Fatal("broker setup failed", zap.Error(err))
	}
	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	err = msgBroker.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		logger.Fatal("broker connection failed", zap.Error(err))
	}

	// Sellers and device tokens
	sellerStore := sellers.NewStore(database.Pool)
	var tokens push.TokenSource = sellerStore
	var tokenInvalidator sellers.TokenInvalidator
	if cfg.RedisAddr != "" {
		rdb, err := sellers.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, device tokens read from the database", zap.Error(err))
		} else {
			defer rdb.Close()
			cache := sellers.NewCachedTokenSource(sellerStore, rdb, cfg.TokenCacheTTL, logger.Named("tokencache"))
			tokens = cache
			tokenInvalidator = cache
		}
	}

	// Notifications
	producer := notifications.NewEventProducer(msgBroker, notifications.ProducerConfig{
		Topics:  cfg.Topics,
		Retries: cfg.PublishRetries,
		Timeout: cfg.PublishTimeout,
	}, logger.Named("producer"))

	notifier, err := push.NewFCMNotifier(push.Config{
		Endpoint:   cfg.PushEndpoint,
		ServerKey:  cfg.PushServerKey,
		OAuthToken: cfg.PushOAuthToken,
		Timeout:    cfg.PushTimeout,
	}, tokens, logger.Named("push"))
	if err != nil {
		logger.Fatal("push notifier setup failed", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	notifStore := notifications.NewStore(database.Pool)
	wsHandler := notifications.NewWSHandler(jwtService, cfg.AllowedOrigins, logger.Named("ws"))

	dispatcher := notifications.NewDispatcher(sellerStore, notifier, notifStore, producer, wsHandler, cfg.FanoutLimit, logger.Named("dispatcher"))
	collector := notifications.NewResponseCollector(notifStore, producer, logger.Named("responses"))

	consumer := notifications.NewConsumer(msgBroker, dispatcher, collector, producer, notifications.ConsumerConfig{
		Topics:      cfg.Topics,
		Source:      cfg.KafkaClientID,
		MaxAttempts: cfg.ConsumerMaxAttempts,
	}, logger.Named("consumer"))
	if err := consumer.Start(); err != nil {
		logger.Fatal("consumer failed to start", zap.Error(err))
	}

	sellerHandlers := sellers.NewHandlers(sellers.NewService(sellerStore, producer, tokenInvalidator, logger.Named("sellers")))
	notifHandlers := notifications.NewHandlers(notifStore, collector)

	// Router
	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)

	// Health check and metrics (no auth)
	r.HandleFunc("/healthz", healthzHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket (auth handled inside handler)
	wsHandler.RegisterRoutes(r)

	// Protected API routes
	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.RequestLogger(logger.Named("http")))
	protected.Use(mw.AuthMiddleware(jwtService))
	protected.Use(mw.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	protected.Use(mw.RequireOwnSeller("id"))
	sellerHandlers.RegisterRoutes(protected)
	notifHandlers.RegisterRoutes(protected)

	// HTTP Server: CORS wraps the entire router so OPTIONS preflight
	// requests are handled before mux routing.
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        corsMiddleware(cfg.AllowedOrigins, r),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
		consumer.Stop()
		if err := msgBroker.Close(); err != nil {
			logger.Error("broker close failed", zap.Error(err))
		}
		if shutdownTracing != nil {
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Error("tracing shutdown failed", zap.Error(err))
			}
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.Port), zap.String("version", observability.Version))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed to start", zap.Error(err))
	}

	<-idle
	logger.Info("server stopped")
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
}

func corsMiddleware(allowedOrigins string, next http.Handler) http.Handler {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
