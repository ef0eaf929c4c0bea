package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/integration-relay/internal/config"
	"github.com/example/integration-relay/internal/failures"
	"github.com/example/integration-relay/internal/gateway"
	"github.com/example/integration-relay/internal/kafka/consumer"
	"github.com/example/integration-relay/internal/kafka/producer"
	"github.com/example/integration-relay/internal/logger"
	"github.com/example/integration-relay/internal/metrics"
	"github.com/example/integration-relay/internal/models"
	"github.com/example/integration-relay/internal/ops"
	"github.com/example/integration-relay/internal/relay"
	"github.com/example/integration-relay/internal/service"
	"github.com/example/integration-relay/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "integration-relay").Logger()

	prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	gw, err := gateway.New(prod, gateway.Config{
		PublishTimeout:     time.Duration(cfg.Gateway.PublishTimeoutSeconds) * time.Second,
		MaxConcurrent:      cfg.Gateway.MaxConcurrent,
		MaxRetries:         cfg.Gateway.MaxRetries,
		RetryBackoff:       time.Duration(cfg.Gateway.RetryBackoffMs) * time.Millisecond,
		BreakerFailureRate: cfg.Gateway.BreakerFailureRate,
		BreakerMinRequests: cfg.Gateway.BreakerMinRequests,
		BreakerOpenFor:     time.Duration(cfg.Gateway.BreakerOpenSeconds) * time.Second,
	}, log.With().Str("component", "gateway").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise publisher gateway")
	}

	orderTopics, ok := cfg.Topics.Set(string(models.KindOrder))
	if !ok {
		log.Fatal().Msg("no topics configured for order events")
	}
	invoiceTopics, ok := cfg.Topics.Set(string(models.KindInvoice))
	if !ok {
		log.Fatal().Msg("no topics configured for invoice events")
	}

	registry := failures.NewRegistry(failures.Config{
		HistoryLimit: cfg.Reprocess.FailureHistoryLimit,
		MaxAttempts:  cfg.Reprocess.MaxAttempts,
		Cooldown:     time.Duration(cfg.Reprocess.CooldownSeconds) * time.Second,
		InputTopics: map[models.EventKind]string{
			models.KindOrder:   orderTopics.Input,
			models.KindInvoice: invoiceTopics.Input,
		},
	}, gw, log.With().Str("component", "failures").Logger(), time.Now)

	orderStore := store.NewOrders(cfg.Persistence.StoreLimit)
	invoiceStore := store.NewInvoices(cfg.Persistence.StoreLimit)

	persistCfg := service.OrdersConfig{
		RetryBase: time.Duration(cfg.Persistence.RetryBaseMs) * time.Millisecond,
		RetryMax:  time.Duration(cfg.Persistence.RetryMaxMs) * time.Millisecond,
	}
	orderSvc, err := service.NewOrders(orderStore, persistCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise order service")
	}
	invoiceSvc, err := service.NewInvoices(invoiceStore, service.InvoicesConfig(persistCfg), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise invoice service")
	}

	orderHandler, err := relay.NewHandler(relay.Config{
		Kind:             models.KindOrder,
		OutputTopic:      orderTopics.Output,
		RetryTopic:       orderTopics.Retry,
		DLQTopic:         orderTopics.DLQ,
		MaxRetryAttempts: cfg.Reprocess.MaxAttempts,
	}, relay.Dependencies{
		Domain:   orderSvc,
		Pub:      gw,
		Failures: registry,
		Metrics:  metrics.ForKind(string(models.KindOrder)),
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise order relay handler")
	}

	invoiceHandler, err := relay.NewHandler(relay.Config{
		Kind:             models.KindInvoice,
		OutputTopic:      invoiceTopics.Output,
		RetryTopic:       invoiceTopics.Retry,
		DLQTopic:         invoiceTopics.DLQ,
		MaxRetryAttempts: cfg.Reprocess.MaxAttempts,
	}, relay.Dependencies{
		Domain:   invoiceSvc,
		Pub:      gw,
		Failures: registry,
		Metrics:  metrics.ForKind(string(models.KindInvoice)),
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise invoice relay handler")
	}

	primaryCons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log.With().Str("component", "consumer").Str("lane", "primary").Logger(), cfg.Kafka.CommitOnSuccessOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create primary consumer")
	}
	defer func() {
		if err := primaryCons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close primary consumer")
		}
	}()

	retryGroup := cfg.Kafka.GroupID + cfg.Kafka.ReprocessSuffix
	retryCons, err := consumer.New(cfg.Kafka.Brokers, retryGroup, log.With().Str("component", "consumer").Str("lane", "retry").Logger(), cfg.Kafka.CommitOnSuccessOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create retry consumer")
	}
	defer func() {
		if err := retryCons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close retry consumer")
		}
	}()

	primaryRoutes := map[string]consumer.Handler{
		orderTopics.Input:   relay.KafkaHandler(orderHandler, primaryCons, false),
		invoiceTopics.Input: relay.KafkaHandler(invoiceHandler, primaryCons, false),
	}
	retryRoutes := map[string]consumer.Handler{
		orderTopics.Retry:   relay.KafkaHandler(orderHandler, retryCons, true),
		invoiceTopics.Retry: relay.KafkaHandler(invoiceHandler, retryCons, true),
	}

	opsServer, err := ops.NewServer(cfg.App.OpsPort, ops.Dependencies{
		Registry: registry,
		Orders:   orderStore,
		Invoices: invoiceStore,
		Logger:   log,
		Ready: map[string]ops.ReadyFunc{
			"producer":         prod.IsReady,
			"primary_consumer": primaryCons.IsReady,
			"retry_consumer":   retryCons.IsReady,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise ops server")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		topics := []string{orderTopics.Input, invoiceTopics.Input}
		return runConsumer(gctx, primaryCons, topics, routeByTopic(primaryRoutes))
	})
	g.Go(func() error {
		topics := []string{orderTopics.Retry, invoiceTopics.Retry}
		return runConsumer(gctx, retryCons, topics, routeByTopic(retryRoutes))
	})
	g.Go(opsServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.FailureRegistrySize.Set(float64(registry.Len()))
			}
		}
	})

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("order_input", orderTopics.Input).
		Str("invoice_input", invoiceTopics.Input).
		Int("ops_port", cfg.App.OpsPort).
		Msg("integration relay started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("relay terminated with error")
		os.Exit(1)
	}
	log.Info().Msg("relay stopped")
}

// routeByTopic dispatches each inbound record to the handler owning its
// topic. Records on unrouted topics are dropped with an error so the
// subscription mismatch is visible.
func routeByTopic(routes map[string]consumer.Handler) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		h, ok := routes[rec.Topic]
		if !ok {
			return fmt.Errorf("no handler routed for topic %s", rec.Topic)
		}
		return h(ctx, rec)
	}
}

func runConsumer(ctx context.Context, cons *consumer.Consumer, topics []string, handler consumer.Handler) error {
	err := cons.Consume(ctx, topics, handler)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("integration relay init failed")
}
