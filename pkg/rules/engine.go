package rules

import (
	"sort"
	"time"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Engine evaluates the rule catalog against a tenant's dataset.
//
// Engine holds no mutable state and is safe for concurrent use.
type Engine struct {
	thresholds Thresholds
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithClock injects the time source; tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with default thresholds and the wall clock.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		thresholds: DefaultThresholds(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the thresholds the engine evaluates with.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate runs every pull rule and returns the alerts ordered by Sort.
// A nil dataset yields no alerts.
func (e *Engine) Evaluate(tenantID string, ds *model.Dataset) []model.Alert {
	if ds == nil {
		return []model.Alert{}
	}
	in := newInput(tenantID, ds, e.now(), e.thresholds)

	out := make([]model.Alert, 0)
	for _, r := range catalog {
		if r.eval == nil {
			continue
		}
		out = append(out, r.eval(in, r)...)
	}
	Sort(out)
	return out
}

// Sort orders alerts in place: critical before warning before info, then
// earliest DueAt first (alerts without one last). Ties keep their current
// order, so sorting the same snapshot always yields the same sequence.
func Sort(alerts []model.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra < rb
		}
		switch {
		case a.DueAt == nil:
			return false
		case b.DueAt == nil:
			return true
		default:
			return a.DueAt.Before(*b.DueAt)
		}
	})
}
