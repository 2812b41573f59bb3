package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

// FleetFile is the on-disk fleet descriptor: the register layout both
// sides agree on, plus the unit roster.
type FleetFile struct {
	Layout domain.Layout `yaml:"layout"`
	Units  []domain.Unit `yaml:"units"`
}

// DefaultFleet is the stock deployment: two six-AC units and no
// reserved register.
func DefaultFleet() (domain.Layout, []domain.Unit) {
	return domain.DefaultLayout(), []domain.Unit{
		{ID: 1, Name: "East wing"},
		{ID: 2, Name: "West wing"},
	}
}

// LoadFleet reads the fleet descriptor from path. A missing file is not
// an error: the stock fleet is returned so a bare checkout runs without
// any configuration.
func LoadFleet(path string) (domain.Layout, []domain.Unit, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		layout, units := DefaultFleet()
		return layout, units, nil
	}
	if err != nil {
		return domain.Layout{}, nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	var file FleetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.Layout{}, nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}

	if file.Layout.ACCount == 0 {
		file.Layout.ACCount = domain.DefaultLayout().ACCount
	}

	if err := ValidateFleet(file.Layout, file.Units); err != nil {
		return domain.Layout{}, nil, err
	}
	return file.Layout, file.Units, nil
}

// ValidateFleet checks a layout and roster together: a valid layout,
// at least one unit, every unit well formed, no duplicate IDs.
func ValidateFleet(layout domain.Layout, units []domain.Unit) error {
	if err := layout.Validate(); err != nil {
		return err
	}
	if len(units) == 0 {
		return fmt.Errorf("%w: at least one unit is required", domain.ErrNoUnitsConfigured)
	}

	seen := make(map[uint8]int, len(units))
	for idx, unit := range units {
		if err := unit.Validate(); err != nil {
			return fmt.Errorf("unit at index %d: %w", idx, err)
		}
		if prev, dup := seen[unit.ID]; dup {
			return fmt.Errorf("%w: duplicate unit id %d at index %d (first seen at index %d)",
				domain.ErrInvalidConfig, unit.ID, idx, prev)
		}
		seen[unit.ID] = idx
	}
	return nil
}

// SaveFleet writes the fleet descriptor back to path. Used by tooling
// and tests; the services only read.
func SaveFleet(path string, layout domain.Layout, units []domain.Unit) error {
	if err := ValidateFleet(layout, units); err != nil {
		return err
	}

	data, err := yaml.Marshal(FleetFile{Layout: layout, Units: units})
	if err != nil {
		return fmt.Errorf("failed to serialize fleet: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fleet file: %w", err)
	}
	return nil
}
