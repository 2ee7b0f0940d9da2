// Package cache holds each tenant's last evaluated alert list for a bounded
// time-to-live. Reads never return an expired snapshot; recomputation is
// coalesced per tenant so concurrent readers share one evaluation.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/metrics"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/rules"
)

// Evaluator computes the full alert list for a tenant.
type Evaluator interface {
	Evaluate(ctx context.Context, tenantID string) ([]model.Alert, error)
}

// Config tunes cache lifetimes.
type Config struct {
	// TTL is how long a computed snapshot may be served.
	TTL time.Duration
	// ComputeTimeout bounds one shared evaluation, independent of the
	// callers waiting on it.
	ComputeTimeout time.Duration
	// PushRetention is how long pushed informational alerts are merged
	// into recomputed snapshots.
	PushRetention time.Duration
	// MaxPushed caps the pushed alerts kept per tenant.
	MaxPushed int
	// SweepInterval is how often Run evicts expired entries.
	SweepInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:            5 * time.Minute,
		ComputeTimeout: 30 * time.Second,
		PushRetention:  24 * time.Hour,
		MaxPushed:      100,
		SweepInterval:  time.Minute,
	}
}

// Entry is a tenant's cached snapshot.
type Entry struct {
	TenantID   string
	Alerts     []model.Alert
	ComputedAt time.Time
	ExpiresAt  time.Time
}

// Cache is a per-tenant TTL store of evaluated alerts.
//
// Cache is safe for concurrent use. The mutex only guards map access; rule
// evaluation runs outside it, one flight per tenant at any time.
type Cache struct {
	evaluator Evaluator
	cfg       Config
	logger    *slog.Logger
	metrics   metrics.Collector
	now       func() time.Time

	mu          sync.RWMutex
	entries     map[string]*Entry
	generations map[string]uint64
	epoch       uint64
	pushed      map[string][]model.Alert

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache. Zero values in cfg fall back to DefaultConfig.
func New(ev Evaluator, cfg Config, logger *slog.Logger, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = def.ComputeTimeout
	}
	if cfg.PushRetention <= 0 {
		cfg.PushRetention = def.PushRetention
	}
	if cfg.MaxPushed <= 0 {
		cfg.MaxPushed = def.MaxPushed
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	c := &Cache{
		evaluator:   ev,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics.NewNop(),
		now:         time.Now,
		entries:     make(map[string]*Entry),
		generations: make(map[string]uint64),
		pushed:      make(map[string][]model.Alert),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.cfg.TTL
}

// Get returns the tenant's alerts. A live snapshot is served with
// fromCache=true; otherwise the alerts are recomputed and stored.
// On evaluation failure the previous entry is left untouched.
func (c *Cache) Get(ctx context.Context, tenantID string) ([]model.Alert, bool, error) {
	if alerts, ok := c.lookup(tenantID); ok {
		c.metrics.CacheLookup(true)
		return alerts, true, nil
	}
	c.metrics.CacheLookup(false)

	alerts, err := c.compute(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	return alerts, false, nil
}

// Refresh recomputes the tenant's alerts regardless of the remaining TTL.
// It joins an evaluation already in flight for the same tenant.
func (c *Cache) Refresh(ctx context.Context, tenantID string) ([]model.Alert, error) {
	return c.compute(ctx, tenantID)
}

// Invalidate drops the tenant's snapshot. An evaluation already in flight
// for the tenant still finishes but its result is not stored, and callers
// arriving after Invalidate wait for it and then recompute.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.generations[tenantID]++
	c.mu.Unlock()

	c.logger.Debug("cache invalidated", "tenant", tenantID)
}

// InvalidateAll drops every snapshot and detaches every evaluation in
// flight, the same way Invalidate does for one tenant.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.epoch++
	c.mu.Unlock()

	c.logger.Info("cache invalidated for all tenants", "entries", n)
	return n
}

// Push adds an informational alert raised at mutation time. It is merged
// into the live snapshot, if any, without changing its expiry, and kept in
// a bounded per-tenant buffer that is merged into later recomputations.
func (c *Cache) Push(tenantID string, alert model.Alert) error {
	if tenantID == "" {
		return &model.ValidationError{Field: "tenant", Reason: "must not be empty"}
	}
	if alert.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "pushed alert needs an id"}
	}
	a := alert.Normalize()
	now := c.now()
	if a.DetectedAt.IsZero() {
		a.DetectedAt = now
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf := c.prunePushedLocked(tenantID, now)
	buf = append(withoutID(buf, a.ID), a)
	if len(buf) > c.cfg.MaxPushed {
		buf = buf[len(buf)-c.cfg.MaxPushed:]
	}
	c.pushed[tenantID] = buf

	if e, ok := c.entries[tenantID]; ok && now.Before(e.ExpiresAt) {
		merged := append(withoutID(cloneAlerts(e.Alerts), a.ID), a)
		rules.Sort(merged)
		c.entries[tenantID] = &Entry{
			TenantID:   tenantID,
			Alerts:     merged,
			ComputedAt: e.ComputedAt,
			ExpiresAt:  e.ExpiresAt,
		}
	}
	return nil
}

// lookup returns a copy of the live snapshot. Expired entries are never
// served, even before the sweeper removes them.
func (c *Cache) lookup(tenantID string) ([]model.Alert, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[tenantID]
	if !ok || !c.now().Before(e.ExpiresAt) {
		return nil, false
	}
	return cloneAlerts(e.Alerts), true
}

// version identifies the invalidation state an evaluation started under.
type version struct {
	epoch uint64
	gen   uint64
}

func (v version) before(o version) bool {
	return v.epoch < o.epoch || v.gen < o.gen
}

type flightResult struct {
	alerts []model.Alert
	ver    version
}

func (c *Cache) versionOf(tenantID string) version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return version{epoch: c.epoch, gen: c.generations[tenantID]}
}

// compute runs or joins the tenant's evaluation. Each caller waits with its
// own ctx; the shared evaluation is bounded by ComputeTimeout only.
//
// A caller that joined a flight started before an invalidation it already
// observed waits for that flight to end and then starts a new one, so a
// tenant never has two evaluations running at once.
func (c *Cache) compute(ctx context.Context, tenantID string) ([]model.Alert, error) {
	want := c.versionOf(tenantID)
	for {
		ch := c.group.DoChan(tenantID, func() (any, error) {
			return c.evaluate(ctx, tenantID)
		})

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for tenant %q evaluation: %w", tenantID, ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			fr := res.Val.(*flightResult)
			if fr.ver.before(want) {
				continue
			}
			return cloneAlerts(fr.alerts), nil
		}
	}
}

func (c *Cache) evaluate(ctx context.Context, tenantID string) (*flightResult, error) {
	ver := c.versionOf(tenantID)

	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ComputeTimeout)
	defer cancel()

	start := time.Now()
	alerts, err := c.evaluator.Evaluate(evalCtx, tenantID)
	c.metrics.CacheRecompute(time.Since(start), err)
	if err != nil {
		c.logger.Warn("alert evaluation failed", "tenant", tenantID, "error", err)
		return nil, err
	}
	return &flightResult{alerts: c.store(tenantID, ver, alerts), ver: ver}, nil
}

// store merges retained pushed alerts into a fresh result and saves it,
// unless the tenant was invalidated after the evaluation started.
func (c *Cache) store(tenantID string, ver version, computed []model.Alert) []model.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	merged := cloneAlerts(computed)
	for _, p := range c.prunePushedLocked(tenantID, now) {
		merged = append(withoutID(merged, p.ID), p)
	}
	rules.Sort(merged)

	if c.epoch != ver.epoch || c.generations[tenantID] != ver.gen {
		c.logger.Debug("discarding evaluation superseded by invalidation", "tenant", tenantID)
		return merged
	}
	c.entries[tenantID] = &Entry{
		TenantID:   tenantID,
		Alerts:     merged,
		ComputedAt: now,
		ExpiresAt:  now.Add(c.cfg.TTL),
	}
	c.logger.Debug("cache recomputed", "tenant", tenantID, "alerts", len(merged))
	return merged
}

func (c *Cache) prunePushedLocked(tenantID string, now time.Time) []model.Alert {
	buf := c.pushed[tenantID]
	cutoff := now.Add(-c.cfg.PushRetention)
	kept := buf[:0:0]
	for _, a := range buf {
		if a.DetectedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(c.pushed, tenantID)
		return nil
	}
	c.pushed[tenantID] = kept
	return kept
}

// EntryStats describes one cached tenant.
type EntryStats struct {
	TenantID    string            `json:"tenant_id"`
	Alerts      int               `json:"alerts"`
	Counts      model.AlertsCount `json:"counts"`
	ComputedAt  time.Time         `json:"computed_at"`
	AgeMs       int64             `json:"age_ms"`
	ExpiresInMs int64             `json:"expires_in_ms"`
	Expired     bool              `json:"expired"`
}

// Stats is an operational view of the cache.
type Stats struct {
	Tenants int          `json:"tenants"`
	TTLMs   int64        `json:"ttl_ms"`
	Entries []EntryStats `json:"entries"`
}

// Stats reports every held entry, expired ones included, sorted by tenant.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	st := Stats{
		Tenants: len(c.entries),
		TTLMs:   c.cfg.TTL.Milliseconds(),
		Entries: make([]EntryStats, 0, len(c.entries)),
	}
	for id, e := range c.entries {
		remaining := e.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		st.Entries = append(st.Entries, EntryStats{
			TenantID:    id,
			Alerts:      len(e.Alerts),
			Counts:      model.CountAlerts(e.Alerts),
			ComputedAt:  e.ComputedAt,
			AgeMs:       now.Sub(e.ComputedAt).Milliseconds(),
			ExpiresInMs: remaining.Milliseconds(),
			Expired:     !now.Before(e.ExpiresAt),
		})
	}
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].TenantID < st.Entries[j].TenantID })
	return st
}

// Sweep removes expired entries and returns how many were evicted.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	for id := range c.pushed {
		c.prunePushedLocked(id, now)
	}
	return removed
}

// Run evicts expired entries every SweepInterval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	t := time.NewTicker(c.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Sweep(c.now()); n > 0 {
				c.logger.Debug("cache: evicted expired entries", "count", n)
			}
		}
	}
}

func cloneAlerts(in []model.Alert) []model.Alert {
	out := make([]model.Alert, len(in))
	copy(out, in)
	return out
}

func withoutID(in []model.Alert, id string) []model.Alert {
	out := in[:0]
	for _, a := range in {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}
