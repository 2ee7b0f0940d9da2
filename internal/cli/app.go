package cli

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ogulcanaydogan/ops-sentinel/internal/config"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/cache"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/metrics"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/notify"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/paginator"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/queue"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/refresh"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/rules"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/storage"
)

// app holds every wired component. Commands build one and use the parts
// they need.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *storage.SQLite
	metrics   metrics.Collector
	cache     *cache.Cache
	paginator *paginator.Paginator
	router    *notify.Router
	queue     *queue.Queue
	job       *refresh.Job
}

// newApp opens storage and wires the rule engine, cache, paginator,
// notification queue and refresh job.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	engineOpts := []rules.Option{}
	if cfg.Rules.File != "" {
		th, err := rules.LoadThresholds(cfg.Rules.File)
		if err != nil {
			return nil, fmt.Errorf("load rule thresholds: %w", err)
		}
		engineOpts = append(engineOpts, rules.WithThresholds(th))
	}

	store, err := storage.NewSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	router, err := initRouter(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := metrics.New(cfg.Metrics.Enabled)
	engine := rules.NewEngine(engineOpts...)

	c := cache.New(rules.NewEvaluator(store, engine), cache.Config{
		TTL:            cfg.Cache.TTL,
		ComputeTimeout: cfg.Cache.ComputeTimeout,
		PushRetention:  cfg.Cache.PushRetention,
		SweepInterval:  cfg.Cache.SweepInterval,
	}, logger.With("component", "cache"), cache.WithMetrics(m))

	q := queue.New(router, cfg.Queue, logger.With("component", "queue"), queue.WithMetrics(m))

	jobOpts := []refresh.Option{refresh.WithMetrics(m)}
	if cfg.Escalation.Enabled {
		esc := refresh.NewEscalator(q, cfg.Escalation.Type, cfg.Escalation.Recipient, logger.With("component", "escalator"))
		jobOpts = append(jobOpts, refresh.WithObserver(esc))
	}
	job := refresh.NewJob(store, c, cfg.Refresh.Config, logger.With("component", "refresh"), jobOpts...)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		metrics:   m,
		cache:     c,
		paginator: paginator.New(c),
		router:    router,
		queue:     q,
		job:       job,
	}, nil
}

// initRouter registers the configured senders. The log sender is the
// fallback for unknown types.
func initRouter(cfg *config.Config, logger *slog.Logger) (*notify.Router, error) {
	logSender := notify.NewLogSender(logger.With("component", "notify"))
	router := notify.NewRouter(logSender)
	if err := router.Register(logSender); err != nil {
		return nil, err
	}

	if cfg.Senders.Slack.Enabled {
		if err := router.Register(notify.NewSlackSender(cfg.Senders.Slack.WebhookURL, cfg.Senders.Slack.Channel)); err != nil {
			return nil, err
		}
	}
	if cfg.Senders.Webhook.Enabled {
		if err := router.Register(notify.NewWebhookSender(cfg.Senders.Webhook.URL, cfg.Senders.Webhook.Secret)); err != nil {
			return nil, err
		}
	}
	return router, nil
}

// metricsHandler returns the Prometheus handler, or nil with metrics off.
func (a *app) metricsHandler() http.Handler {
	if p, ok := a.metrics.(*metrics.Prometheus); ok {
		return p.Handler()
	}
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}
