package storage

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Fixture is a seed file: tenant id to its records.
type Fixture struct {
	Tenants map[string]*model.Dataset `yaml:"tenants"`
}

// LoadFixture reads a YAML seed file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a YAML seed document.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if len(f.Tenants) == 0 {
		return nil, fmt.Errorf("parse fixture: no tenants defined")
	}
	for id := range f.Tenants {
		if id == "" {
			return nil, fmt.Errorf("parse fixture: empty tenant id")
		}
	}
	return &f, nil
}

// TenantIDs returns the fixture's tenants, sorted.
func (f *Fixture) TenantIDs() []string {
	ids := make([]string, 0, len(f.Tenants))
	for id := range f.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Seed writes every tenant of the fixture to s and returns the tenants
// written.
func Seed(ctx context.Context, s Store, f *Fixture) ([]string, error) {
	ids := f.TenantIDs()
	for _, id := range ids {
		if err := s.SaveDataset(ctx, id, f.Tenants[id]); err != nil {
			return nil, fmt.Errorf("seed tenant %s: %w", id, err)
		}
	}
	return ids, nil
}
