package rules

import (
	"context"
	"fmt"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// DataSource supplies the operational records for a tenant. Implementations
// are read-only.
type DataSource interface {
	LoadDataset(ctx context.Context, tenantID string) (*model.Dataset, error)
}

// RuleEvaluationError reports a data-source failure while evaluating a tenant.
type RuleEvaluationError struct {
	TenantID string
	Err      error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("evaluate tenant %q: %v", e.TenantID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// Evaluator loads a tenant's dataset and runs the engine over it.
type Evaluator struct {
	source DataSource
	engine *Engine
}

// NewEvaluator creates an evaluator backed by source.
func NewEvaluator(source DataSource, engine *Engine) *Evaluator {
	return &Evaluator{source: source, engine: engine}
}

// Evaluate returns the ordered alerts for tenantID.
func (ev *Evaluator) Evaluate(ctx context.Context, tenantID string) ([]model.Alert, error) {
	ds, err := ev.source.LoadDataset(ctx, tenantID)
	if err != nil {
		return nil, &RuleEvaluationError{TenantID: tenantID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &RuleEvaluationError{TenantID: tenantID, Err: err}
	}
	return ev.engine.Evaluate(tenantID, ds), nil
}
