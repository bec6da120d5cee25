package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
)

// FarmsConfig is the reference configuration driving deterministic
// classification: the known farms, their identifying strings, and the vendor
// mappings scoped to each farm.
type FarmsConfig struct {
	Farms []FarmConfig `yaml:"farms"`
}

// FarmConfig describes one farm and its matching material.
type FarmConfig struct {
	Vendors     map[string]VendorConfig `yaml:"vendors"`
	Key         string                  `yaml:"key"`
	Name        string                  `yaml:"name"`
	Identifiers []string                `yaml:"identifiers"`
	Keywords    []string                `yaml:"keywords"`
}

// VendorConfig describes one vendor as known to a farm: account and meter
// numbers land in Identifiers, name variants in Keywords.
type VendorConfig struct {
	Name        string   `yaml:"name"`
	Identifiers []string `yaml:"identifiers"`
	Keywords    []string `yaml:"keywords"`
}

// LoadFarms reads and validates the farms reference file.
func LoadFarms(path string) (*FarmsConfig, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read farms config: %w", err)
	}

	var cfg FarmsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse farms config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural requirements: non-empty keys, unique keys.
func (c *FarmsConfig) Validate() error {
	if len(c.Farms) == 0 {
		return fmt.Errorf("%w: no farms defined", common.ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Farms))
	for i, farm := range c.Farms {
		key := strings.TrimSpace(farm.Key)
		if key == "" {
			return fmt.Errorf("%w: farm at index %d has no key", common.ErrInvalidConfig, i)
		}
		if seen[key] {
			return fmt.Errorf("%w: duplicate farm key %q", common.ErrInvalidConfig, key)
		}
		seen[key] = true
	}
	return nil
}

// ReferenceRows returns the farm rows to seed into storage.
func (c *FarmsConfig) ReferenceRows() []model.Farm {
	rows := make([]model.Farm, 0, len(c.Farms))
	for _, farm := range c.Farms {
		name := farm.Name
		if name == "" {
			name = farm.Key
		}
		rows = append(rows, model.Farm{Key: farm.Key, DisplayName: name})
	}
	return rows
}

// FarmName resolves a farm key to its display name, falling back to the key.
func (c *FarmsConfig) FarmName(key string) string {
	for _, farm := range c.Farms {
		if farm.Key == key {
			if farm.Name != "" {
				return farm.Name
			}
			return key
		}
	}
	return key
}

// ResolveVendorKey maps an extracted vendor name to a configured vendor key.
// Matching is case-insensitive containment of the configured canonical name
// or any keyword variant within the extracted name, or vice versa.
func (c *FarmsConfig) ResolveVendorKey(vendorName string) string {
	needle := model.NormalizeText(vendorName)
	if needle == "" {
		return ""
	}
	for _, farm := range c.Farms {
		for key, vendor := range farm.Vendors {
			terms := append([]string{vendor.Name, key}, vendor.Keywords...)
			for _, term := range terms {
				t := model.NormalizeText(term)
				if t == "" {
					continue
				}
				if strings.Contains(needle, t) || strings.Contains(t, needle) {
					return key
				}
			}
		}
	}
	return ""
}
