package model

import (
	"strings"
	"time"
)

// Priority of an outbound notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight orders priorities: higher weights are delivered first.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// ParsePriority validates p. An empty string means PriorityNormal.
func ParsePriority(p string) (Priority, error) {
	switch pr := Priority(strings.ToLower(strings.TrimSpace(p))); pr {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return pr, nil
	}
	return "", &ValidationError{Field: "priority", Reason: "must be one of low, normal, high, urgent"}
}

// NotificationStatus is a state of the delivery state machine.
type NotificationStatus string

const (
	StatusPending    NotificationStatus = "pending"
	StatusProcessing NotificationStatus = "processing"
	StatusSent       NotificationStatus = "sent"
	StatusFailed     NotificationStatus = "failed"
	StatusCancelled  NotificationStatus = "cancelled"
)

// AllStatuses lists every status in state machine order.
var AllStatuses = []NotificationStatus{StatusPending, StatusProcessing, StatusSent, StatusFailed, StatusCancelled}

// Terminal reports whether no further transition can happen.
func (s NotificationStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// ParseStatus validates s.
func ParseStatus(s string) (NotificationStatus, error) {
	st := NotificationStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Reason: "unknown notification status " + s}
}

// NotificationRequest is an outbound message owned by the notification
// queue. Values handed out by the queue are copies.
type NotificationRequest struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Recipient    string             `json:"recipient"`
	Subject      string             `json:"subject,omitempty"`
	Message      string             `json:"message"`
	Priority     Priority           `json:"priority"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	ScheduledFor time.Time          `json:"scheduled_for"`
	MaxAttempts  int                `json:"max_attempts"`
	Attempts     int                `json:"attempts"`
	Status       NotificationStatus `json:"status"`
	LastError    string             `json:"last_error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	SentAt       *time.Time         `json:"sent_at,omitempty"`
}
