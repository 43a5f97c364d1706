package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	fgnats "github.com/Strob0t/flowgate/internal/adapter/nats"
	"github.com/Strob0t/flowgate/internal/adapter/natskv"
	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/adapter/postgres"
	"github.com/Strob0t/flowgate/internal/adapter/ristretto"
	"github.com/Strob0t/flowgate/internal/adapter/sqlite"
	"github.com/Strob0t/flowgate/internal/adapter/tiered"
	"github.com/Strob0t/flowgate/internal/adapter/worker"
	"github.com/Strob0t/flowgate/internal/catalog"
	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/pool"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
	"github.com/Strob0t/flowgate/internal/port/cache"
	"github.com/Strob0t/flowgate/internal/port/messagequeue"
	"github.com/Strob0t/flowgate/internal/port/notifier"
	"github.com/Strob0t/flowgate/internal/resilience"
	"github.com/Strob0t/flowgate/internal/service"
)

const historyBucket = "flowgate-history"

// app holds the wired services shared by serve and the operator commands.
type app struct {
	cfg        *config.Config
	store      approvalstore.Store
	queue      *fgnats.Queue
	metrics    *fgotel.Metrics
	channel    notifier.Notifier
	httpClient *http.Client
	dispatcher *service.Dispatcher
	resolver   *service.Resolver
	resumer    *service.Resumer
	sweeper    *service.Sweeper
	approvals  *service.ApprovalService

	closers []func()
}

// Close releases everything opened by newApp in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openStore connects the configured approval store.
func openStore(ctx context.Context, cfg *config.Config) (approvalstore.Store, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("sqlite store opened", "path", cfg.SQLite.Path)
		return st, func() { _ = st.Close() }, nil
	case "postgres", "":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		pgPool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")
		return postgres.NewStore(pgPool), pgPool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newApp wires the store, the event bus, the channel and the services.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	metrics, err := fgotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.metrics = metrics

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := fgnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.queue = q
		queue = q
		a.closers = append(a.closers, func() { _ = q.Drain() })
	} else {
		slog.Info("nats disabled, lifecycle events are not published")
	}

	httpClient := worker.NewHTTPClient(cfg.Backends)
	a.httpClient = httpClient
	client := worker.NewClient(httpClient, cfg.Backends, cfg.Breaker, func(name string, from, to resilience.State) {
		slog.Warn("circuit breaker state change", "backend", name, "from", from, "to", to)
		metrics.RecordBreaker(context.Background(), name, string(to))
	})
	backendClient := service.NewRetryingClient(client, resilience.RetryPolicy{
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, metrics)

	channel, err := newChannel(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	a.channel = channel
	target := cfg.HITL.NotifierTarget
	if target == "" {
		target = cfg.Telegram.ChatID
	}

	events := service.NewEventPublisher(queue)
	notify := service.NewNotificationService(channel, target, store)

	rules, err := service.PolicyFromConfig(cfg.HITL.Rules)
	if err != nil {
		return nil, fmt.Errorf("approval rules: %w", err)
	}
	gate := service.NewApprovalGate(rules, store, notify, events, cfg.HITL)
	gate.SetMetrics(metrics)

	historyCache, err := newHistoryCache(ctx, cfg, a.queue)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, historyCache.Close)
	gate.SetHistory(catalog.NewInvoiceHistory(backendClient), historyCache, cfg.Cache.TTL)

	registry, err := catalog.New(backendClient, gate).Registry()
	if err != nil {
		return nil, fmt.Errorf("tool catalog: %w", err)
	}
	a.dispatcher = service.NewDispatcher(registry, metrics)

	a.resumer = service.NewResumer(a.dispatcher, store, notify, events, pool.New(cfg.HITL.ResumeWorkers))
	a.resumer.SetMetrics(metrics)
	a.closers = append(a.closers, a.resumer.Wait)

	a.resolver = service.NewResolver(store, notify, events, a.resumer, cfg.HITL.WebhookSecret)
	a.resolver.SetMetrics(metrics)

	a.sweeper = service.NewSweeper(store, notify, events, cfg.HITL.SweepInterval)
	a.sweeper.SetMetrics(metrics)

	a.approvals = service.NewApprovalService(store)

	ok = true
	return a, nil
}

// newChannel builds the configured notifier, or nil for log-only prompts.
func newChannel(cfg *config.Config, httpClient *http.Client) (notifier.Notifier, error) {
	var settings map[string]string
	switch cfg.HITL.Notifier {
	case "":
		slog.Info("no notifier configured, approval prompts are logged only")
		return nil, nil
	case "telegram":
		settings = map[string]string{
			"token":        cfg.Telegram.Token,
			"chat_id":      cfg.Telegram.ChatID,
			"api_endpoint": cfg.Telegram.APIEndpoint,
		}
	case "slack":
		settings = map[string]string{
			"webhook_url": cfg.Slack.WebhookURL,
			"console_url": cfg.Slack.ConsoleURL,
		}
	}
	n, err := notifier.New(cfg.HITL.Notifier, notifier.Options{Settings: settings, HTTPClient: httpClient})
	if err != nil {
		return nil, fmt.Errorf("notifier %s: %w", cfg.HITL.Notifier, err)
	}
	slog.Info("notifier ready", "channel", n.Name())
	return n, nil
}

// newHistoryCache returns the in-process cache, backed by a NATS KV bucket
// shared across replicas when NATS is enabled.
func newHistoryCache(ctx context.Context, cfg *config.Config, q *fgnats.Queue) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("history cache: %w", err)
	}
	if q == nil {
		return l1, nil
	}
	l2, err := natskv.Open(ctx, q.JetStream(), historyBucket, cfg.Cache.TTL)
	if err != nil {
		l1.Close()
		return nil, fmt.Errorf("history cache bucket: %w", err)
	}
	return tiered.New(l1, l2, cfg.Cache.TTL), nil
}
