package rules

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Informational builds a push-only alert for an event that happened at
// mutation time (status change, new participant, payment received). Only
// push-only kinds are accepted.
func Informational(kind Kind, op model.Operation, detail string, at time.Time) (model.Alert, error) {
	r, ok := lookup(kind)
	if !ok || r.eval != nil {
		return model.Alert{}, &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("%q is not an informational alert kind", kind)}
	}
	if at.IsZero() {
		at = time.Now()
	}
	a := model.Alert{
		ID:          string(kind) + ":" + op.ID + ":" + strconv.FormatInt(at.UnixNano(), 10),
		Severity:    r.severity,
		Category:    r.category,
		Title:       r.title,
		Description: detail,
		DetectedAt:  at,
	}
	if op.ID != "" {
		a.OperationID = op.ID
		a.OperationTitle = op.Title
		a.ActionLink = "/operacoes/" + op.ID
		a.ActionLabel = "Abrir OS"
	}
	return a, nil
}

// InformationalKinds lists the push-only kinds.
func InformationalKinds() []Kind {
	var kinds []Kind
	for _, r := range catalog {
		if r.eval == nil {
			kinds = append(kinds, r.kind)
		}
	}
	return kinds
}
