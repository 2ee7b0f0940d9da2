package model

import (
	"strings"
	"time"
)

// Severity is the urgency tier of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities: lower ranks sort first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Valid reports whether s is one of the enumerated severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ParseSeverity normalizes s. Unknown values become SeverityInfo.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return SeverityInfo
	}
	return sev
}

// Category groups alerts by business area.
type Category string

const (
	CategoryFinanceiro   Category = "financeiro"
	CategoryOperacional  Category = "operacional"
	CategoryDocumentacao Category = "documentacao"
	CategoryFornecedor   Category = "fornecedor"
	CategoryPrazo        Category = "prazo"
)

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFinanceiro, CategoryOperacional, CategoryDocumentacao, CategoryFornecedor, CategoryPrazo:
		return true
	}
	return false
}

// ParseCategory normalizes c. Unknown values become CategoryOperacional.
func ParseCategory(c string) Category {
	cat := Category(strings.ToLower(strings.TrimSpace(c)))
	if !cat.Valid() {
		return CategoryOperacional
	}
	return cat
}

// Alert is a single detected condition for a tenant. Alerts are immutable
// once produced; Metadata must be treated as read-only by consumers.
type Alert struct {
	ID             string         `json:"id"`
	Severity       Severity       `json:"severity"`
	Category       Category       `json:"category"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	OperationID    string         `json:"operation_id,omitempty"`
	OperationTitle string         `json:"operation_title,omitempty"`
	ActionLink     string         `json:"action_link,omitempty"`
	ActionLabel    string         `json:"action_label,omitempty"`
	DetectedAt     time.Time      `json:"detected_at"`
	DueAt          *time.Time     `json:"due_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Normalize returns a copy of a with severity and category coerced into
// their enumerations.
func (a Alert) Normalize() Alert {
	a.Severity = ParseSeverity(string(a.Severity))
	a.Category = ParseCategory(string(a.Category))
	return a
}

// AlertsCount aggregates alerts by severity.
type AlertsCount struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// CountAlerts derives an AlertsCount from a list.
func CountAlerts(alerts []Alert) AlertsCount {
	var c AlertsCount
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityWarning:
			c.Warning++
		default:
			c.Info++
		}
	}
	c.Total = len(alerts)
	return c
}
