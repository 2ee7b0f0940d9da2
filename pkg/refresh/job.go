// Package refresh recomputes cached alerts for one tenant or the whole
// fleet. The scheduled loop and manual triggers share one entry point.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/metrics"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Triggers recorded on a Summary.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

const tracerName = "github.com/ogulcanaydogan/ops-sentinel/pkg/refresh"

// TenantLister enumerates the tenants refreshed by a fleet-wide run.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// Refresher recomputes one tenant's alerts. Concurrent calls for the same
// tenant must share one evaluation; the alerts cache does this.
type Refresher interface {
	Refresh(ctx context.Context, tenantID string) ([]model.Alert, error)
}

// Observer is told about every tenant refreshed successfully.
type Observer interface {
	Observe(ctx context.Context, tenantID string, alerts []model.Alert)
}

// Config bounds a run.
type Config struct {
	TenantTimeout time.Duration `mapstructure:"tenant_timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TenantTimeout: 20 * time.Second,
		Concurrency:   4,
	}
}

// TenantError records why one tenant could not be refreshed.
type TenantError struct {
	TenantID string `json:"tenant_id"`
	Error    string `json:"error"`
}

// Summary describes one run.
type Summary struct {
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	Processed  int            `json:"processed"`
	Counts     map[string]int `json:"counts"`
	DurationMs int64          `json:"duration_ms"`
	Errors     []TenantError  `json:"errors"`
}

// Job refreshes cached alerts.
type Job struct {
	lister    TenantLister
	refresher Refresher
	cfg       Config
	logger    *slog.Logger
	metrics   metrics.Collector
	tracer    trace.Tracer
	observers []Observer
	now       func() time.Time

	mu   sync.RWMutex
	last *Summary
}

// Option configures a Job.
type Option func(*Job)

// WithMetrics attaches a metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(j *Job) { j.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(j *Job) { j.tracer = t }
}

// WithObserver registers an observer of successful tenant refreshes.
func WithObserver(o Observer) Option {
	return func(j *Job) { j.observers = append(j.observers, o) }
}

// WithClock injects the time source stamped on summaries.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// NewJob creates a refresh job.
func NewJob(lister TenantLister, refresher Refresher, cfg Config, logger *slog.Logger, opts ...Option) *Job {
	def := DefaultConfig()
	if cfg.TenantTimeout <= 0 {
		cfg.TenantTimeout = def.TenantTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	j := &Job{
		lister:    lister,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.NewNop(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Execute refreshes tenantID, or every listed tenant when tenantID is
// empty. Tenant failures are recorded in the summary; the returned error
// is reserved for failing to list tenants.
func (j *Job) Execute(ctx context.Context, tenantID string) (*Summary, error) {
	return j.execute(ctx, TriggerManual, tenantID)
}

// Run executes a fleet-wide refresh every interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	j.logger.Info("refresh scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("refresh scheduler stopped")
			return
		case <-t.C:
			if _, err := j.execute(ctx, TriggerSchedule, ""); err != nil {
				j.logger.Error("scheduled refresh failed", "error", err)
			}
		}
	}
}

// Last returns the most recent summary, or nil before the first run.
func (j *Job) Last() *Summary {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == nil {
		return nil
	}
	s := *j.last
	s.Counts = make(map[string]int, len(j.last.Counts))
	for k, v := range j.last.Counts {
		s.Counts[k] = v
	}
	s.Errors = append([]TenantError(nil), j.last.Errors...)
	return &s
}

func (j *Job) execute(ctx context.Context, trigger, tenantID string) (*Summary, error) {
	ctx, span := j.tracer.Start(ctx, "refresh.execute",
		trace.WithAttributes(attribute.String("refresh.trigger", trigger)))
	defer span.End()

	started := j.now()
	clock := time.Now()

	tenants := []string{tenantID}
	if tenantID == "" {
		ids, err := j.lister.ListTenants(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list tenants")
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		tenants = ids
	}
	span.SetAttributes(attribute.Int("refresh.tenants", len(tenants)))

	sum := &Summary{
		Trigger:   trigger,
		StartedAt: started,
		Counts:    make(map[string]int),
		Errors:    []TenantError{},
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(j.cfg.Concurrency)
	for _, id := range tenants {
		g.Go(func() error {
			n, err := j.refreshTenant(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Errors = append(sum.Errors, TenantError{TenantID: id, Error: err.Error()})
				return nil
			}
			sum.Processed++
			sum.Counts[id] = n
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(sum.Errors, func(a, b int) bool { return sum.Errors[a].TenantID < sum.Errors[b].TenantID })
	elapsed := time.Since(clock)
	sum.DurationMs = elapsed.Milliseconds()

	j.metrics.RefreshRun(trigger, elapsed, len(tenants), len(sum.Errors))
	if len(sum.Errors) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d tenants failed", len(sum.Errors)))
	}

	j.mu.Lock()
	j.last = sum
	j.mu.Unlock()

	j.logger.Info("refresh completed",
		"trigger", trigger,
		"tenants", len(tenants),
		"processed", sum.Processed,
		"failed", len(sum.Errors),
		"duration_ms", sum.DurationMs,
	)
	return sum, nil
}

func (j *Job) refreshTenant(ctx context.Context, tenantID string) (int, error) {
	ctx, span := j.tracer.Start(ctx, "refresh.tenant",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	tctx, cancel := context.WithTimeout(ctx, j.cfg.TenantTimeout)
	defer cancel()

	alerts, err := j.refresher.Refresh(tctx, tenantID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s", j.cfg.TenantTimeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		j.logger.Warn("tenant refresh failed", "tenant", tenantID, "error", err)
		return 0, err
	}

	span.SetAttributes(attribute.Int("alerts.count", len(alerts)))
	for _, o := range j.observers {
		o.Observe(ctx, tenantID, alerts)
	}
	return len(alerts), nil
}
