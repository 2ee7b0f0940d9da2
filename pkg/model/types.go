package model

import "time"

// OperationStatus is the lifecycle state of a tour operation (OS).
type OperationStatus string

const (
	OperationPlanned   OperationStatus = "planned"
	OperationConfirmed OperationStatus = "confirmed"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationCancelled OperationStatus = "cancelled"
)

// Staff roles an operation may require.
const (
	RoleGuide  = "guide"
	RoleDriver = "driver"
)

// Operation is a service order (OS) run by a tenant.
type Operation struct {
	ID             string          `json:"id" db:"id" yaml:"id"`
	Title          string          `json:"title" db:"title" yaml:"title"`
	Status         OperationStatus `json:"status" db:"status" yaml:"status"`
	StartDate      time.Time       `json:"start_date" db:"start_date" yaml:"start_date"`
	RequiresGuide  bool            `json:"requires_guide" db:"requires_guide" yaml:"requires_guide"`
	RequiresDriver bool            `json:"requires_driver" db:"requires_driver" yaml:"requires_driver"`
	EstimatedCost  float64         `json:"estimated_cost" db:"estimated_cost" yaml:"estimated_cost"`
	ActualCost     float64         `json:"actual_cost" db:"actual_cost" yaml:"actual_cost"`
	Revenue        float64         `json:"revenue" db:"revenue" yaml:"revenue"`
}

// Active reports whether the operation still counts for alerting.
func (o Operation) Active() bool {
	return o.Status != OperationCancelled
}

// Expense is a payable owed by the tenant for an operation.
type Expense struct {
	ID          string    `json:"id" db:"id" yaml:"id"`
	OperationID string    `json:"operation_id" db:"operation_id" yaml:"operation_id"`
	Description string    `json:"description" db:"description" yaml:"description"`
	Amount      float64   `json:"amount" db:"amount" yaml:"amount"`
	DueDate     time.Time `json:"due_date" db:"due_date" yaml:"due_date"`
	Paid        bool      `json:"paid" db:"paid" yaml:"paid"`
}

// ClientPayment is a receivable owed by a client.
type ClientPayment struct {
	ID          string    `json:"id" db:"id" yaml:"id"`
	OperationID string    `json:"operation_id" db:"operation_id" yaml:"operation_id"`
	ClientName  string    `json:"client_name" db:"client_name" yaml:"client_name"`
	Amount      float64   `json:"amount" db:"amount" yaml:"amount"`
	DueDate     time.Time `json:"due_date" db:"due_date" yaml:"due_date"`
	Paid        bool      `json:"paid" db:"paid" yaml:"paid"`
}

// Participant is a traveller booked on an operation.
type Participant struct {
	ID                string     `json:"id" db:"id" yaml:"id"`
	OperationID       string     `json:"operation_id" db:"operation_id" yaml:"operation_id"`
	Name              string     `json:"name" db:"name" yaml:"name"`
	Confirmed         bool       `json:"confirmed" db:"confirmed" yaml:"confirmed"`
	DocumentExpiresAt *time.Time `json:"document_expires_at,omitempty" db:"-" yaml:"document_expires_at,omitempty"`
}

// SupplierBooking is a reservation with an external supplier (hotel, bus, ...).
type SupplierBooking struct {
	ID           string `json:"id" db:"id" yaml:"id"`
	OperationID  string `json:"operation_id" db:"operation_id" yaml:"operation_id"`
	SupplierName string `json:"supplier_name" db:"supplier_name" yaml:"supplier_name"`
	Confirmed    bool   `json:"confirmed" db:"confirmed" yaml:"confirmed"`
}

// StaffAssignment assigns a person to a role on an operation.
type StaffAssignment struct {
	OperationID string `json:"operation_id" db:"operation_id" yaml:"operation_id"`
	Role        string `json:"role" db:"role" yaml:"role"`
	Name        string `json:"name" db:"name" yaml:"name"`
}

// Dataset is everything the rule engine needs for one tenant.
type Dataset struct {
	Operations       []Operation       `json:"operations" yaml:"operations"`
	Expenses         []Expense         `json:"expenses" yaml:"expenses"`
	ClientPayments   []ClientPayment   `json:"client_payments" yaml:"client_payments"`
	Participants     []Participant     `json:"participants" yaml:"participants"`
	SupplierBookings []SupplierBooking `json:"supplier_bookings" yaml:"supplier_bookings"`
	StaffAssignments []StaffAssignment `json:"staff_assignments" yaml:"staff_assignments"`
}

// OperationIndex maps operation IDs to operations.
func (d *Dataset) OperationIndex() map[string]Operation {
	idx := make(map[string]Operation, len(d.Operations))
	for _, op := range d.Operations {
		idx[op.ID] = op
	}
	return idx
}
