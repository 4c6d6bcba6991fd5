package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/api/shipping_api"
	"github.com/BearBump/TrackHub/internal/cache/rediscache"
	"github.com/BearBump/TrackHub/internal/emailparse"
	"github.com/BearBump/TrackHub/internal/normalize"
	"github.com/BearBump/TrackHub/internal/services/ingest"
	"github.com/BearBump/TrackHub/internal/services/shipments"
	"github.com/BearBump/TrackHub/internal/storage/pgshipping"
)

type shippingAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   shippingAPIOpts
	api    *shipping_api.ShippingAPI
	closes []func()
}

func mustBootstrapShippingAPI() *shippingAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.TrackHub.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	cacheTTL := time.Duration(cfg.TrackHub.ShipmentCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	rlPerMin := int64(cfg.TrackHub.WebhookRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 600
	}
	policy := cfg.TrackHub.UnsignedWebhookPolicy
	if policy == "" {
		policy = ingest.PolicyReject
	}

	st := mustOpenPostgresWithRetry(cfg.PostgresDSN(), 60*time.Second)
	rc := rediscache.New(cfg.RedisAddr())
	rl := rediscache.NewRateLimiter(cfg.RedisAddr())

	shipmentsSvc := shipments.New(st, rc, cacheTTL)
	ingestSvc := ingest.New(st, normalize.Default(), shipmentsSvc, ingest.Options{
		UnsignedPolicy: policy,
		MinConfidence:  emailparse.ParseConfidence(cfg.TrackHub.EmailMinConfidence, emailparse.ConfidenceMedium),
	})
	api := shipping_api.New(ingestSvc, shipmentsSvc, rl, shipping_api.Options{
		MaxBodyBytes:       cfg.TrackHub.WebhookMaxBodyBytes,
		RateLimitPerMinute: rlPerMin,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shippingAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shippingAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
			ready:       st.Ping,
		},
		api: api,
		closes: []func(){
			func() { _ = rl.Close() },
			func() { _ = rc.Close() },
			st.Close,
		},
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipping.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipping.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shippingAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closes {
		c()
	}
}

func (a *shippingAPIApp) Run() error {
	return runShippingAPI(a.ctx, a.opts, a.api)
}
