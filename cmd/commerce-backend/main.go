package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"commerce-backend/internal/cache"
	"commerce-backend/internal/config"
	"commerce-backend/internal/env"
	"commerce-backend/internal/infrastructure/mercadopago"
	"commerce-backend/internal/infrastructure/repo"
	"commerce-backend/internal/server"
	"commerce-backend/internal/telemetry"
	"commerce-backend/internal/usecase"
)

func main() {
	env.Load(".env", ".env.local")
	envDefaults := config.EnvDefaults()

	envName := flag.String("env", envDefaults.Env, "")
	port := flag.Int("port", envDefaults.Port, "")
	dsn := flag.String("database-dsn", envDefaults.DatabaseDSN, "")
	redisAddr := flag.String("redis-addr", envDefaults.RedisAddr, "")
	jwtSecret := flag.String("jwt-secret", envDefaults.JWTSecret, "")
	logJSON := flag.Bool("log-json", envDefaults.LogJSON, "")
	mpToken := flag.String("mp-access-token", envDefaults.MPAccessToken, "")
	mpBaseURL := flag.String("mp-base-url", envDefaults.MPBaseURL, "")
	publicBaseURL := flag.String("public-base-url", envDefaults.PublicBaseURL, "")

	flag.Parse()

	cfg := config.Config{
		Env:           *envName,
		Port:          *port,
		DatabaseDSN:   *dsn,
		RedisAddr:     *redisAddr,
		JWTSecret:     *jwtSecret,
		LogJSON:       *logJSON,
		MPAccessToken: *mpToken,
		MPBaseURL:     *mpBaseURL,
		PublicBaseURL: *publicBaseURL,
	}

	telemetry.InitLogger(cfg.LogJSON)

	var store repo.Store
	if cfg.DatabaseDSN != "" {
		pg, err := repo.NewPostgresStore(cfg.DatabaseDSN)
		if err != nil {
			slog.Error("postgres init failed", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		slog.Warn("no database dsn configured, using in-memory store")
		store = repo.NewMemoryStore()
	}

	var c cache.Cache
	if cfg.RedisAddr != "" {
		c = cache.NewRedisCache(cfg.RedisAddr, "commerce")
	} else {
		c = cache.NewMemoryCache("commerce")
	}

	provider := &mercadopago.Client{
		AccessToken: cfg.MPAccessToken,
		BaseURL:     cfg.MPBaseURL,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
	}

	orders := usecase.NewOrderService(store, nil)
	payments := &usecase.PaymentService{
		Store:           store,
		Provider:        provider,
		Orders:          orders,
		SuccessURL:      cfg.PublicBaseURL + "/checkout/success",
		PendingURL:      cfg.PublicBaseURL + "/checkout/pending",
		FailureURL:      cfg.PublicBaseURL + "/checkout/failure",
		NotificationURL: cfg.PublicBaseURL + "/api/payments/webhook",
	}

	srv := server.New(cfg, orders, payments, store, c)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("listening", "env", cfg.Env, "addr", addr)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
