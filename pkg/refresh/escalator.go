package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Enqueuer accepts outbound notifications. The notification queue
// satisfies it.
type Enqueuer interface {
	Enqueue(req model.NotificationRequest) (string, error)
}

// Escalator turns newly detected critical alerts into urgent
// notifications. An alert that disappears and comes back is escalated
// again.
type Escalator struct {
	queue     Enqueuer
	typ       string
	recipient string
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewEscalator creates an Escalator that enqueues notifications of the
// given type addressed to recipient.
func NewEscalator(q Enqueuer, typ, recipient string, logger *slog.Logger) *Escalator {
	return &Escalator{
		queue:     q,
		typ:       typ,
		recipient: recipient,
		logger:    logger,
		seen:      make(map[string]map[string]struct{}),
	}
}

// Observe enqueues one notification per critical alert not present in the
// tenant's previous observation.
func (e *Escalator) Observe(_ context.Context, tenantID string, alerts []model.Alert) {
	e.mu.Lock()
	prev := e.seen[tenantID]
	current := make(map[string]struct{})
	var fresh []model.Alert
	for _, a := range alerts {
		if a.Severity != model.SeverityCritical {
			continue
		}
		current[a.ID] = struct{}{}
		if _, ok := prev[a.ID]; !ok {
			fresh = append(fresh, a)
		}
	}
	e.seen[tenantID] = current
	e.mu.Unlock()

	for _, a := range fresh {
		meta := map[string]string{
			"tenant":   tenantID,
			"alert_id": a.ID,
			"category": string(a.Category),
		}
		if a.OperationID != "" {
			meta["operation_id"] = a.OperationID
		}
		if a.ActionLink != "" {
			meta["action_link"] = a.ActionLink
		}
		msg := a.Description
		if msg == "" {
			msg = a.Title
		}
		id, err := e.queue.Enqueue(model.NotificationRequest{
			Type:      e.typ,
			Recipient: e.recipient,
			Subject:   fmt.Sprintf("[%s] %s", tenantID, a.Title),
			Message:   msg,
			Priority:  model.PriorityUrgent,
			Metadata:  meta,
		})
		if err != nil {
			e.logger.Error("escalation enqueue failed", "tenant", tenantID, "alert", a.ID, "error", err)
			continue
		}
		e.logger.Info("critical alert escalated", "tenant", tenantID, "alert", a.ID, "notification", id)
	}
}
