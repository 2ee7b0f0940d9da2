package storage

import (
	"context"
	"errors"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// ErrTenantNotFound is returned when a tenant has never been stored.
var ErrTenantNotFound = errors.New("tenant not found")

// Store is the operational data the rule engine reads. The alerting core
// only reads; SaveDataset exists for seeding and tests.
type Store interface {
	// ListTenants returns the ids of active tenants, sorted.
	ListTenants(ctx context.Context) ([]string, error)

	// LoadDataset returns every record of one tenant.
	LoadDataset(ctx context.Context, tenantID string) (*model.Dataset, error)

	// SaveDataset replaces every record of one tenant.
	SaveDataset(ctx context.Context, tenantID string, ds *model.Dataset) error

	// Close releases resources.
	Close() error
}
