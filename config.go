package usagemeter

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogConfig is the on-disk shape of a plan catalog override.
type CatalogConfig struct {
	DefaultPlan string           `yaml:"default_plan"`
	Plans       []PlanDefinition `yaml:"plans"`
}

// LoadCatalog reads and parses a YAML plan catalog file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("usagemeter: read catalog: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg CatalogConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("usagemeter: parse catalog: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return NewCatalog(cfg.Plans, cfg.DefaultPlan)
}

// Validate checks the config for required fields and consistency.
func (c CatalogConfig) Validate() error {
	if len(c.Plans) == 0 {
		return fmt.Errorf("usagemeter: catalog config: at least one plan is required")
	}
	if strings.TrimSpace(c.DefaultPlan) == "" {
		return fmt.Errorf("usagemeter: catalog config: default_plan is required")
	}

	ids := make(map[string]bool, len(c.Plans))
	defaultFound := false
	for i, plan := range c.Plans {
		id := strings.ToLower(strings.TrimSpace(plan.ID))
		if id == "" {
			return fmt.Errorf("usagemeter: catalog config: plan[%d]: id is required", i)
		}
		if ids[id] {
			return fmt.Errorf("usagemeter: catalog config: duplicate plan id %q", id)
		}
		ids[id] = true
		if plan.QuestionLimit < 0 || plan.ChatbotLimit < 0 || plan.StorageLimitMb < 0 {
			return fmt.Errorf("usagemeter: catalog config: plan %q: limits must be zero or greater", id)
		}
		if strings.EqualFold(id, c.DefaultPlan) {
			defaultFound = true
		}
	}
	if !defaultFound {
		return fmt.Errorf("usagemeter: catalog config: default_plan %q is not defined", c.DefaultPlan)
	}

	return nil
}
