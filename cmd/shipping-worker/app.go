package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/broker/kafka"
	"github.com/BearBump/TrackHub/internal/cache/rediscache"
	"github.com/BearBump/TrackHub/internal/integrations/aggregator"
	"github.com/BearBump/TrackHub/internal/integrations/aggregator/fake"
	"github.com/BearBump/TrackHub/internal/integrations/aggregator/track17http"
	"github.com/BearBump/TrackHub/internal/integrations/notifier"
	"github.com/BearBump/TrackHub/internal/services/dispatcher"
	"github.com/BearBump/TrackHub/internal/services/relay"
	"github.com/BearBump/TrackHub/internal/storage/pgshipping"
	"golang.org/x/sync/errgroup"
)

const defaultConsumerGroup = "shipping-dispatcher"

// workerRedis covers both broadcast and dedup needs of the dispatcher.
type workerRedis interface {
	dispatcher.Broadcaster
	dispatcher.Deduper
	Close() error
}

// workerProducer publishes both outbox events and dead letters.
type workerProducer interface {
	relay.Producer
	Close() error
}

type workerFactories struct {
	newStorage    func(cfg *config.Config) (repo relay.Repository, closeFn func(), err error)
	newProducer   func(cfg *config.Config) workerProducer
	newRedis      func(cfg *config.Config) workerRedis
	newConsumer   func(cfg *config.Config) func() dispatcher.Consumer
	newSender     func(cfg *config.Config) dispatcher.Sender
	newAggregator func(cfg *config.Config) aggregator.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (relay.Repository, func(), error) {
			st, err := pgshipping.New(cfg.PostgresDSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) workerProducer {
			return kafka.NewProducer(cfg.KafkaBrokers())
		},
		newRedis: func(cfg *config.Config) workerRedis {
			return rediscache.New(cfg.RedisAddr())
		},
		newConsumer: func(cfg *config.Config) func() dispatcher.Consumer {
			group := cfg.TrackHub.KafkaConsumerGroup
			if group == "" {
				group = defaultConsumerGroup
			}
			brokers, topic := cfg.KafkaBrokers(), cfg.ShipmentEventsTopic()
			return func() dispatcher.Consumer {
				return kafka.NewConsumer(brokers, topic, group)
			}
		},
		newSender: func(cfg *config.Config) dispatcher.Sender {
			// Без адреса сервиса уведомлений только пишем в лог.
			if cfg.TrackHub.NotifierBaseURL == "" {
				return notifier.LogSender{}
			}
			return notifier.New(cfg.TrackHub.NotifierBaseURL, cfg.TrackHub.NotifierAPIKey)
		},
		newAggregator: func(cfg *config.Config) aggregator.Client {
			if cfg.TrackHub.AggregatorBaseURL == "" {
				return fake.New()
			}
			return track17http.New(cfg.TrackHub.AggregatorBaseURL, cfg.TrackHub.AggregatorAPIKey)
		},
	}
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func millisOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func newRelay(cfg *config.Config, repo relay.Repository, producer relay.Producer) *relay.Relay {
	tc := cfg.TrackHub

	batchSize := tc.RelayBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	retentionDays := tc.IdempotencyRetentionDays
	if retentionDays <= 0 {
		retentionDays = 90
	}

	return relay.New(repo, producer, cfg.ShipmentEventsTopic()).
		WithSettings(secondsOr(tc.RelayPollIntervalSeconds, time.Second), batchSize, 10, secondsOr(tc.RelayLeaseSeconds, 60*time.Second)).
		WithPlanner(relay.PlannerConfig{
			Backoff1: secondsOr(tc.RelayBackoff1Seconds, 0),
			Backoff2: secondsOr(tc.RelayBackoff2Seconds, 0),
			Backoff3: secondsOr(tc.RelayBackoff3Seconds, 0),
			Backoff4: secondsOr(tc.RelayBackoff4Seconds, 0),
		}).
		WithRetention(time.Duration(retentionDays)*24*time.Hour, time.Hour)
}

// RunShippingWorker runs the outbox relay, the event dispatcher and, when a
// swagger file is given, the operational HTTP server until ctx is done.
func RunShippingWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	rc := f.newRedis(cfg)
	defer func() { _ = rc.Close() }()

	producer := f.newProducer(cfg)
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("close kafka producer", "error", err.Error())
		}
	}()

	rl := newRelay(cfg, repo, producer)
	d := dispatcher.New(rc, rc, f.newSender(cfg), f.newAggregator(cfg), f.newConsumer(cfg)).
		WithAttempts(cfg.TrackHub.DispatcherMaxAttempts, millisOr(cfg.TrackHub.DispatcherRetryDelayMillis, 500*time.Millisecond)).
		WithDeadLetter(producer, cfg.ShipmentEventsDLQTopic())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rl.Run(gctx) })
	g.Go(func() error { return d.Run(gctx) })

	if httpOpts.swaggerPath != "" {
		httpOpts.relay = rl
		httpOpts.dispatcher = d
		httpOpts.cfg = cfg
		if httpOpts.httpAddr == "" {
			httpOpts.httpAddr = cfg.TrackHub.WorkerHTTPAddr
		}
		g.Go(func() error { return runWorkerHTTPServer(gctx, httpOpts) })
	} else {
		slog.Warn("worker swaggerPath is empty, operational HTTP server disabled")
	}

	slog.Info("shipping worker started", "topic", cfg.ShipmentEventsTopic())
	return g.Wait()
}
