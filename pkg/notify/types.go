// Package notify delivers notification requests to external systems.
package notify

import (
	"context"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Sender delivers notifications of one type.
type Sender interface {
	// Name returns the notification type this sender handles.
	Name() string

	// Send delivers req. Implementations must be safe for concurrent use.
	Send(ctx context.Context, req model.NotificationRequest) error
}
