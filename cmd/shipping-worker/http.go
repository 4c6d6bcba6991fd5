package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/services/dispatcher"
	"github.com/BearBump/TrackHub/internal/services/relay"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	relay      *relay.Relay
	dispatcher *dispatcher.Dispatcher
	cfg        *config.Config
}

type workerStats struct {
	Relay      relay.Stats      `json:"relay"`
	Dispatcher dispatcher.Stats `json:"dispatcher"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.relay == nil || opts.dispatcher == nil {
			writeJSON(w, map[string]string{"error": "worker not wired"})
			return
		}
		writeJSON(w, workerStats{Relay: opts.relay.Stats(), Dispatcher: opts.dispatcher.Stats()})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, map[string]string{"error": "config not wired"})
			return
		}
		// Только операционные настройки, без ключей и паролей.
		tc := opts.cfg.TrackHub
		writeJSON(w, map[string]any{
			"topic":                    opts.cfg.ShipmentEventsTopic(),
			"consumerGroup":            tc.KafkaConsumerGroup,
			"relayPollIntervalSeconds": tc.RelayPollIntervalSeconds,
			"relayBatchSize":           tc.RelayBatchSize,
			"relayLeaseSeconds":        tc.RelayLeaseSeconds,
			"relayBackoffSeconds": []int{
				tc.RelayBackoff1Seconds, tc.RelayBackoff2Seconds,
				tc.RelayBackoff3Seconds, tc.RelayBackoff4Seconds,
			},
			"idempotencyRetentionDays":   tc.IdempotencyRetentionDays,
			"deadLetterTopic":            opts.cfg.ShipmentEventsDLQTopic(),
			"dispatcherMaxAttempts":      tc.DispatcherMaxAttempts,
			"dispatcherRetryDelayMillis": tc.DispatcherRetryDelayMillis,
			"notifierConfigured":         tc.NotifierBaseURL != "",
			"aggregatorConfigured":       tc.AggregatorBaseURL != "",
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.relay == nil {
			writeJSON(w, map[string]string{"error": "relay not wired"})
			return
		}
		opts.relay.Trigger()
		writeJSON(w, map[string]bool{"triggered": true})
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(lis)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}
