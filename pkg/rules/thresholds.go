package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds tunes the time windows and ratios the rules compare against.
type Thresholds struct {
	DueSoonWindow  time.Duration `yaml:"due_soon_window"`
	ImminentWindow time.Duration `yaml:"imminent_window"`
	SupplierWindow time.Duration `yaml:"supplier_window"`
	MinMarginPct   float64       `yaml:"min_margin_pct"`
}

// DefaultThresholds returns the thresholds used when no rules file is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DueSoonWindow:  7 * 24 * time.Hour,
		ImminentWindow: 48 * time.Hour,
		SupplierWindow: 72 * time.Hour,
		MinMarginPct:   15,
	}
}

// Validate checks that every window is positive and the margin is a percentage.
func (t Thresholds) Validate() error {
	if t.DueSoonWindow <= 0 {
		return fmt.Errorf("due_soon_window must be positive")
	}
	if t.ImminentWindow <= 0 {
		return fmt.Errorf("imminent_window must be positive")
	}
	if t.SupplierWindow <= 0 {
		return fmt.Errorf("supplier_window must be positive")
	}
	if t.MinMarginPct < 0 || t.MinMarginPct > 100 {
		return fmt.Errorf("min_margin_pct must be between 0 and 100")
	}
	return nil
}

// LoadThresholds reads a YAML rules file. Keys missing from the file keep
// their default values.
func LoadThresholds(path string) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return LoadThresholdsFromBytes(data)
}

// LoadThresholdsFromBytes parses YAML threshold data from raw bytes.
func LoadThresholdsFromBytes(data []byte) (Thresholds, error) {
	t := DefaultThresholds()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Thresholds{}, fmt.Errorf("parse rules data: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, fmt.Errorf("rules data: %w", err)
	}
	return t, nil
}
