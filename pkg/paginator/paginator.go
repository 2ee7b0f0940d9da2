// Package paginator serves filtered pages of a tenant's cached alerts.
package paginator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

const (
	// DefaultPageSize is used by callers that do not set a page size.
	DefaultPageSize = 20
	// MaxPageSize bounds a single page.
	MaxPageSize = 200
)

// Source reads a tenant's alerts. The alerts cache satisfies it.
type Source interface {
	Get(ctx context.Context, tenantID string) ([]model.Alert, bool, error)
}

// Filters narrows the alert list. Empty fields match everything.
type Filters struct {
	Severity string
	Category string
	OSID     string
}

// Query selects one page of a tenant's alerts.
type Query struct {
	TenantID string
	Page     int
	PageSize int
	Filters  Filters
}

// Pagination describes the page returned.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Page is a slice of the filtered alert list.
type Page struct {
	Data       []model.Alert `json:"data"`
	Pagination Pagination    `json:"pagination"`
	FromCache  bool          `json:"from_cache"`
}

// Paginator reads through the cache. It never evaluates rules itself.
type Paginator struct {
	source Source
}

// New creates a Paginator over source.
func New(source Source) *Paginator {
	return &Paginator{source: source}
}

// Get returns the requested page. Filters apply to the full list before
// slicing; a page past the end yields empty data with accurate totals.
func (p *Paginator) Get(ctx context.Context, q Query) (*Page, error) {
	if q.TenantID == "" {
		return nil, &model.ValidationError{Field: "tenant", Reason: "must not be empty"}
	}
	if q.PageSize <= 0 || q.PageSize > MaxPageSize {
		return nil, &model.ValidationError{
			Field:  "page_size",
			Reason: fmt.Sprintf("must be between 1 and %d", MaxPageSize),
		}
	}
	match, err := q.Filters.matcher()
	if err != nil {
		return nil, err
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	alerts, fromCache, err := p.source.Get(ctx, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("read alerts for tenant %q: %w", q.TenantID, err)
	}

	filtered := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if match(a) {
			filtered = append(filtered, a)
		}
	}

	total := len(filtered)
	totalPages := (total + q.PageSize - 1) / q.PageSize
	start, end := total, total
	if page <= totalPages {
		start = (page - 1) * q.PageSize
		end = min(start+q.PageSize, total)
	}

	return &Page{
		Data: filtered[start:end],
		Pagination: Pagination{
			Page:       page,
			PageSize:   q.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
		FromCache: fromCache,
	}, nil
}

// Count returns per-severity totals of the filtered list without building
// a page.
func (p *Paginator) Count(ctx context.Context, tenantID string, f Filters) (model.AlertsCount, error) {
	if tenantID == "" {
		return model.AlertsCount{}, &model.ValidationError{Field: "tenant", Reason: "must not be empty"}
	}
	match, err := f.matcher()
	if err != nil {
		return model.AlertsCount{}, err
	}
	alerts, _, err := p.source.Get(ctx, tenantID)
	if err != nil {
		return model.AlertsCount{}, fmt.Errorf("read alerts for tenant %q: %w", tenantID, err)
	}

	var c model.AlertsCount
	for _, a := range alerts {
		if !match(a) {
			continue
		}
		switch a.Severity {
		case model.SeverityCritical:
			c.Critical++
		case model.SeverityWarning:
			c.Warning++
		default:
			c.Info++
		}
		c.Total++
	}
	return c, nil
}

// matcher validates the filters and compiles them into a predicate.
func (f Filters) matcher() (func(model.Alert) bool, error) {
	sev := model.Severity(strings.ToLower(strings.TrimSpace(f.Severity)))
	if sev != "" && !sev.Valid() {
		return nil, &model.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", f.Severity)}
	}
	cat := model.Category(strings.ToLower(strings.TrimSpace(f.Category)))
	if cat != "" && !cat.Valid() {
		return nil, &model.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", f.Category)}
	}
	osID := strings.TrimSpace(f.OSID)

	return func(a model.Alert) bool {
		if sev != "" && a.Severity != sev {
			return false
		}
		if cat != "" && a.Category != cat {
			return false
		}
		if osID != "" && a.OperationID != osID {
			return false
		}
		return true
	}, nil
}
